package script

import (
	"fmt"
	"strings"

	"github.com/vango-go/vai-callcore/pkg/core"
)

// Report carries non-fatal findings from Validate.
type Report struct {
	Warnings []string
}

// Validate checks the structural invariants of a script. Every problem found is
// listed in the returned *core.Error (type validation_error). Unreachable
// states only produce warnings.
func Validate(s *Script) (Report, error) {
	var report Report
	if s == nil {
		return report, core.NewValidationError("script is nil")
	}

	var errs []string
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Sprintf(format, args...))
	}

	if strings.TrimSpace(s.Name) == "" {
		add("name is required")
	}

	seen := make(map[string]struct{}, len(s.States))
	var initials, terminals []string
	for i, st := range s.States {
		if strings.TrimSpace(st.Name) == "" {
			add("states[%d]: name is required", i)
			continue
		}
		if _, dup := seen[st.Name]; dup {
			add("duplicate state name %q", st.Name)
		}
		seen[st.Name] = struct{}{}

		if !st.Kind.valid() {
			add("state %q: unknown type %q", st.Name, st.Kind)
		}
		if strings.TrimSpace(st.Prompt) == "" {
			add("state %q: prompt is required", st.Name)
		}
		switch st.Kind {
		case KindInitial:
			initials = append(initials, st.Name)
		case KindTerminal:
			terminals = append(terminals, st.Name)
		}
	}

	switch {
	case len(initials) == 0:
		add("no state has type %q", KindInitial)
	case len(initials) > 1:
		add("exactly one initial state is allowed, found %d (%s)", len(initials), strings.Join(initials, ", "))
	case initials[0] != s.StartingState:
		add("starting_state %q does not match initial state %q", s.StartingState, initials[0])
	}
	if _, ok := seen[s.StartingState]; !ok {
		add("starting_state %q does not exist", s.StartingState)
	}
	if len(terminals) == 0 {
		add("at least one state must have type %q", KindTerminal)
	}

	for i, e := range s.Edges {
		if _, ok := seen[e.From]; !ok {
			add("edges[%d]: from_state %q does not exist", i, e.From)
		}
		if _, ok := seen[e.To]; !ok {
			add("edges[%d]: to_state %q does not exist", i, e.To)
		}
		if s.IsTerminal(e.From) {
			add("edges[%d]: terminal state %q cannot have outgoing edges", i, e.From)
		}
		if e.Condition != nil {
			if msg := validateCondition(*e.Condition); msg != "" {
				add("edges[%d]: %s", i, msg)
			}
		}
	}

	if len(errs) > 0 {
		err := core.NewValidationError(fmt.Sprintf("script %q: %s", s.Name, strings.Join(errs, "; ")))
		err.Param = s.Name
		return report, err
	}

	for _, name := range unreachable(s) {
		report.Warnings = append(report.Warnings, fmt.Sprintf("state %q is unreachable from %q", name, s.StartingState))
	}
	return report, nil
}

func validateCondition(c Condition) string {
	switch c.Type {
	case ConditionIntent:
		if c.Op() != OperatorEquals {
			return fmt.Sprintf("intent condition: unsupported operator %q", c.Op())
		}
		if strings.TrimSpace(c.String()) == "" {
			return "intent condition: value is required"
		}
	case ConditionEntityComplete:
		if c.Op() != OperatorAllPresent {
			return fmt.Sprintf("entity_complete condition: unsupported operator %q", c.Op())
		}
		if len(c.Fields()) == 0 {
			return "entity_complete condition: value must be a non-empty list of entity names"
		}
	case ConditionConfirmation:
		if c.Op() != OperatorEquals {
			return fmt.Sprintf("confirmation condition: unsupported operator %q", c.Op())
		}
		if _, ok := c.Bool(); !ok {
			return "confirmation condition: value must be a boolean"
		}
	default:
		return fmt.Sprintf("unknown condition type %q", c.Type)
	}
	return ""
}

// unreachable returns states not reachable from the starting state, in
// declared order.
func unreachable(s *Script) []string {
	reached := map[string]bool{s.StartingState: true}
	queue := []string{s.StartingState}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range s.EdgesFrom(cur) {
			if !reached[e.To] {
				reached[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	var out []string
	for _, st := range s.States {
		if !reached[st.Name] {
			out = append(out, st.Name)
		}
	}
	return out
}
