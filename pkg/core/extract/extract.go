// Package extract pulls intents, entities and yes/no answers out of caller
// transcripts with keyword and pattern heuristics.
package extract

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
)

// Result is what was found in one utterance.
type Result struct {
	Intent       string
	Entities     map[string]string
	Confirmation *bool
}

var entityPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"phone_number", regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`)},
	{"email", regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)},
	{"account_number", regexp.MustCompile(`(?i)\b(?:account|acct)\s*(?:number|no\.?|#)?\s*(?:is\s+)?:?\s*([A-Za-z0-9-]*\d[A-Za-z0-9-]*)`)},
	{"policy_number", regexp.MustCompile(`(?i)\bpolicy\s*(?:number|no\.?|#)?\s*(?:is\s+)?:?\s*([A-Za-z0-9-]*\d[A-Za-z0-9-]*)`)},
	{"claim_number", regexp.MustCompile(`(?i)\bclaim\s*(?:number|no\.?|#)\s*(?:is\s+)?:?\s*([A-Za-z0-9-]*\d[A-Za-z0-9-]*)`)},
}

var (
	affirmative = map[string]bool{
		"yes": true, "yeah": true, "yep": true, "yup": true, "correct": true, "right": true,
		"sure": true, "confirm": true, "confirmed": true, "absolutely": true, "exactly": true,
	}
	negative = map[string]bool{
		"no": true, "nope": true, "nah": true, "incorrect": true, "wrong": true,
	}
)

// Extractor matches intents from a keyword table. The zero value extracts
// entities and confirmations only.
type Extractor struct {
	intents []intentKeywords
}

type intentKeywords struct {
	name     string
	keywords []string
}

// New builds an extractor for the given intent keyword table, typically a
// script's intents.
func New(intents map[string][]string) *Extractor {
	e := &Extractor{}
	names := make([]string, 0, len(intents))
	for name := range intents {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		var kws []string
		for _, kw := range intents[name] {
			if kw = normalize(kw); kw != "" {
				kws = append(kws, kw)
			}
		}
		if len(kws) > 0 {
			e.intents = append(e.intents, intentKeywords{name: name, keywords: kws})
		}
	}
	return e
}

// Extract runs every heuristic over text.
func (e *Extractor) Extract(text string) Result {
	return Result{
		Intent:       e.Intent(text),
		Entities:     Entities(text),
		Confirmation: Confirmation(text),
	}
}

// Intent returns the intent whose longest matching keyword is longest. Ties go
// to the alphabetically first intent. Empty when nothing matches.
func (e *Extractor) Intent(text string) string {
	if e == nil || len(e.intents) == 0 {
		return ""
	}
	norm := " " + normalize(text) + " "
	best, bestLen := "", 0
	for _, in := range e.intents {
		for _, kw := range in.keywords {
			if len(kw) > bestLen && strings.Contains(norm, " "+kw+" ") {
				best, bestLen = in.name, len(kw)
			}
		}
	}
	return best
}

// Entities returns pattern matches keyed by entity name.
func Entities(text string) map[string]string {
	out := map[string]string{}
	for _, p := range entityPatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v := m[0]
		if len(m) > 1 {
			v = m[1]
		}
		if v = strings.TrimSpace(v); v != "" {
			out[p.name] = v
		}
	}
	return out
}

// Confirmation detects a yes or no answer. Nil when the text is neither.
func Confirmation(text string) *bool {
	words := strings.Fields(normalize(text))
	var yes, no bool
	for i, w := range words {
		switch {
		case negative[w]:
			no = true
		case affirmative[w]:
			if i > 0 && words[i-1] == "not" {
				no = true
			} else {
				yes = true
			}
		}
	}
	switch {
	case no:
		v := false
		return &v
	case yes:
		v := true
		return &v
	default:
		return nil
	}
}

// normalize lowercases and collapses everything but letters, digits and
// apostrophes to single spaces.
func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space && b.Len() > 0 {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
