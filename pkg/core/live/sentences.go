package live

import "strings"

var abbreviations = map[string]bool{
	"dr.": true, "mr.": true, "mrs.": true, "ms.": true, "jr.": true, "sr.": true,
	"prof.": true, "st.": true, "no.": true, "inc.": true, "ltd.": true, "co.": true,
	"vs.": true, "etc.": true, "i.e.": true, "e.g.": true, "a.m.": true, "p.m.": true,
	"u.s.": true,
}

// splitSentences breaks a reply into sentences so synthesis of the first one
// can start before the rest. Text without a boundary is returned whole.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text); i++ {
		if !sentenceEnd(text, i) {
			continue
		}
		if s := strings.TrimSpace(text[start : i+1]); s != "" {
			out = append(out, s)
		}
		start = i + 1
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func sentenceEnd(s string, i int) bool {
	switch s[i] {
	case '.', '!', '?':
	default:
		return false
	}
	// Runs like "?!" or "..." end on their last mark.
	if i+1 < len(s) {
		switch s[i+1] {
		case ' ', '\n', '\r', '\t':
		default:
			return false
		}
	}
	if s[i] != '.' {
		return true
	}

	wordStart := strings.LastIndexAny(s[:i], " \n\r\t") + 1
	word := s[wordStart : i+1]
	if abbreviations[strings.ToLower(word)] {
		return false
	}
	// Initials: "J. Smith".
	if len(word) == 2 && word[0] >= 'A' && word[0] <= 'Z' {
		return false
	}
	return true
}
