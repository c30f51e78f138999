// Package dotenv loads KEY=VALUE files into the process environment for local
// development.
package dotenv

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// LoadFile loads a dotenv-style file into the process environment. Variables
// already set are preserved and a missing file is not an error.
func LoadFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open env file %q: %w", path, err)
	}
	defer file.Close()

	vars, order, err := parse(file)
	if err != nil {
		return fmt.Errorf("env file %q: %w", path, err)
	}
	for _, key := range order {
		if _, exists := os.LookupEnv(key); exists {
			continue
		}
		if err := os.Setenv(key, vars[key]); err != nil {
			return fmt.Errorf("set env %q from %q: %w", key, path, err)
		}
	}
	return nil
}

// Parse reads dotenv content without touching the environment. Later
// assignments of the same key win.
func Parse(r io.Reader) (map[string]string, error) {
	vars, _, err := parse(r)
	return vars, err
}

func parse(r io.Reader) (map[string]string, []string, error) {
	vars := make(map[string]string)
	var order []string

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, raw, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, nil, fmt.Errorf("line %d: expected KEY=VALUE", lineNo)
		}
		if strings.ContainsAny(key, " \t") {
			return nil, nil, fmt.Errorf("line %d: invalid key %q", lineNo, key)
		}
		val, err := parseValue(strings.TrimSpace(raw))
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if _, seen := vars[key]; !seen {
			order = append(order, key)
		}
		vars[key] = val
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan: %w", err)
	}
	return vars, order, nil
}

// parseValue unquotes single- and double-quoted values and strips trailing
// " #" comments from bare ones. Double quotes honor \n, \" and \\.
func parseValue(v string) (string, error) {
	if v == "" {
		return "", nil
	}
	switch v[0] {
	case '\'':
		end := strings.IndexByte(v[1:], '\'')
		if end < 0 {
			return "", errors.New("unterminated single quote")
		}
		return v[1 : end+1], nil
	case '"':
		var b strings.Builder
		for i := 1; i < len(v); i++ {
			c := v[i]
			switch {
			case c == '\\' && i+1 < len(v):
				i++
				switch v[i] {
				case 'n':
					b.WriteByte('\n')
				case 't':
					b.WriteByte('\t')
				default:
					b.WriteByte(v[i])
				}
			case c == '"':
				return b.String(), nil
			default:
				b.WriteByte(c)
			}
		}
		return "", errors.New("unterminated double quote")
	default:
		if i := strings.Index(v, " #"); i >= 0 {
			v = v[:i]
		}
		return strings.TrimSpace(v), nil
	}
}

// Lookup returns the first non-empty environment value among keys.
func Lookup(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}
