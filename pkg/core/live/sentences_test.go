package live

import (
	"reflect"
	"testing"
)

func TestSplitSentences(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want []string
	}{
		{"", nil},
		{"   ", nil},
		{"Hello there", []string{"Hello there"}},
		{"Hi. How can I help?", []string{"Hi.", "How can I help?"}},
		{"Dr. Smith will call at 3 p.m. today. Okay?", []string{"Dr. Smith will call at 3 p.m. today.", "Okay?"}},
		{"Your balance is $12.50. Anything else?", []string{"Your balance is $12.50.", "Anything else?"}},
		{"Ask for J. Doe! Thanks", []string{"Ask for J. Doe!", "Thanks"}},
		{"Really?! Yes.", []string{"Really?!", "Yes."}},
		{"Wait... okay.", []string{"Wait...", "okay."}},
	}
	for _, tc := range tests {
		if got := splitSentences(tc.in); !reflect.DeepEqual(got, tc.want) {
			t.Fatalf("splitSentences(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}
}
