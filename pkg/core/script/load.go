package script

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-callcore/pkg/core"
)

// Format is a script file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks a format by file extension.
func FormatFromPath(path string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, true
	case ".yaml", ".yml":
		return FormatYAML, true
	default:
		return "", false
	}
}

// Parse decodes and validates a script.
func Parse(data []byte, format Format) (*Script, Report, error) {
	var s Script
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&s); err != nil {
			return nil, Report{}, core.NewValidationError(fmt.Sprintf("decode json script: %v", err))
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&s); err != nil {
			return nil, Report{}, core.NewValidationError(fmt.Sprintf("decode yaml script: %v", err))
		}
	default:
		return nil, Report{}, core.NewValidationError(fmt.Sprintf("unsupported script format %q", format))
	}

	report, err := Validate(&s)
	if err != nil {
		return nil, report, err
	}
	return &s, report, nil
}
