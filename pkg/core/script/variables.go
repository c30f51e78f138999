package script

import "strings"

// ResolveDynamicVariables merges the script defaults with call-specific
// overrides. Overrides win on key collision. The result is a fresh map.
func ResolveDynamicVariables(s *Script, overrides map[string]string) map[string]string {
	out := make(map[string]string)
	if s != nil {
		for k, v := range s.DynamicVariables {
			out[k] = v
		}
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// Substitute replaces {name} placeholders with values from vars. Unknown
// placeholders and unbalanced braces are left as written.
func Substitute(template string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(template, "{") {
		return template
	}
	var b strings.Builder
	b.Grow(len(template))
	for i := 0; i < len(template); {
		open := strings.IndexByte(template[i:], '{')
		if open < 0 {
			b.WriteString(template[i:])
			break
		}
		open += i
		b.WriteString(template[i:open])
		end := strings.IndexByte(template[open+1:], '}')
		if end < 0 {
			b.WriteString(template[open:])
			break
		}
		end += open + 1
		key := template[open+1 : end]
		if inner := strings.LastIndexByte(key, '{'); inner >= 0 {
			// Only the innermost brace can open a placeholder.
			b.WriteString(template[open : open+1+inner])
			i = open + 1 + inner
			continue
		}
		if v, ok := vars[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(template[open : end+1])
		}
		i = end + 1
	}
	return b.String()
}
