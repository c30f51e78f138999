// Package flow decides script transitions. NextState is a pure function of
// the script, the current state, the latest turn's signal and the entities
// collected so far.
package flow

import (
	"github.com/vango-go/vai-callcore/pkg/core/script"
)

// Signal is what was extracted from the latest user turn.
type Signal struct {
	Intent       string
	Entities     map[string]string
	Confirmation *bool
}

// Reason explains a Decision.
type Reason string

const (
	ReasonConditional Reason = "conditional"
	ReasonDefault     Reason = "default"
	ReasonStay        Reason = "stay"
	ReasonTerminal    Reason = "terminal"
)

// Decision is the outcome of NextState.
type Decision struct {
	From   string
	To     string
	Edge   *script.Edge
	Reason Reason
	// Terminal is set when To is a terminal state; the scripted flow ends there.
	Terminal bool
}

// Changed reports whether the decision moves to a different state.
func (d Decision) Changed() bool { return d.From != d.To }

// NextState picks the transition out of current. The first matching
// conditional edge in declared order wins, then the first unconditional edge,
// otherwise the flow stays where it is. Terminal states never transition.
func NextState(s *script.Script, current string, latest Signal, collected map[string]string) Decision {
	if s.IsTerminal(current) {
		return Decision{From: current, To: current, Reason: ReasonTerminal, Terminal: true}
	}

	edges := s.EdgesFrom(current)
	var fallback *script.Edge
	for i := range edges {
		e := edges[i]
		if e.Condition == nil {
			if fallback == nil {
				fallback = &e
			}
			continue
		}
		if Evaluate(*e.Condition, latest, collected) {
			return decide(s, current, &e, ReasonConditional)
		}
	}
	if fallback != nil {
		return decide(s, current, fallback, ReasonDefault)
	}
	return Decision{From: current, To: current, Reason: ReasonStay}
}

func decide(s *script.Script, from string, e *script.Edge, reason Reason) Decision {
	return Decision{
		From:     from,
		To:       e.To,
		Edge:     e,
		Reason:   reason,
		Terminal: s.IsTerminal(e.To),
	}
}

// Evaluate reports whether c holds for the latest signal and collected
// entities. Unknown condition types and operators never match.
func Evaluate(c script.Condition, latest Signal, collected map[string]string) bool {
	switch c.Type {
	case script.ConditionIntent:
		if c.Op() != script.OperatorEquals {
			return false
		}
		return latest.Intent != "" && latest.Intent == c.String()
	case script.ConditionEntityComplete:
		if c.Op() != script.OperatorAllPresent {
			return false
		}
		fields := c.Fields()
		if len(fields) == 0 {
			return false
		}
		for _, f := range fields {
			if collected[f] == "" {
				return false
			}
		}
		return true
	case script.ConditionConfirmation:
		if c.Op() != script.OperatorEquals || latest.Confirmation == nil {
			return false
		}
		want, ok := c.Bool()
		return ok && *latest.Confirmation == want
	default:
		return false
	}
}
