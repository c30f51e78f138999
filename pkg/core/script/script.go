// Package script defines conversation scripts: named flows of states joined by
// edges, with optional conditions and dynamic variables.
//
// A Script is plain data. It is decoded once (JSON or YAML), checked by
// Validate, and then shared read-only by every call that runs it. Conditions
// form a closed set (intent, entity_complete, confirmation) so evaluation in
// package flow stays total and side-effect free.
package script

import (
	"fmt"
	"strings"
)

// Kind classifies a state.
type Kind string

const (
	KindInitial     Kind = "initial"
	KindInformation Kind = "information"
	KindDecision    Kind = "decision"
	KindProcessing  Kind = "processing"
	KindTerminal    Kind = "terminal"
)

func (k Kind) valid() bool {
	switch k {
	case KindInitial, KindInformation, KindDecision, KindProcessing, KindTerminal:
		return true
	default:
		return false
	}
}

// ConditionType is the tag of a Condition.
type ConditionType string

const (
	ConditionIntent         ConditionType = "intent"
	ConditionEntityComplete ConditionType = "entity_complete"
	ConditionConfirmation   ConditionType = "confirmation"
)

// Operators understood by the flow engine.
const (
	OperatorEquals     = "equals"
	OperatorAllPresent = "all_present"
)

// Condition gates an edge.
type Condition struct {
	Type     ConditionType `json:"type" yaml:"type"`
	Value    any           `json:"value" yaml:"value"`
	Operator string        `json:"operator,omitempty" yaml:"operator,omitempty"`
}

// Op returns the operator, filling in the default for the condition type.
func (c Condition) Op() string {
	if op := strings.TrimSpace(c.Operator); op != "" {
		return op
	}
	if c.Type == ConditionEntityComplete {
		return OperatorAllPresent
	}
	return OperatorEquals
}

// String returns the value as a string for intent conditions.
func (c Condition) String() string {
	switch v := c.Value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Bool returns the value as a bool for confirmation conditions. Strings
// "true"/"false" are accepted since hand-written YAML often quotes them.
func (c Condition) Bool() (bool, bool) {
	switch v := c.Value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes":
			return true, true
		case "false", "no":
			return false, true
		}
	}
	return false, false
}

// Fields returns the value as a list of entity names for entity_complete
// conditions. A single string is treated as a one-element list.
func (c Condition) Fields() []string {
	switch v := c.Value.(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil
			}
			out = append(out, s)
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

// Label is a short human-readable form used in diagrams and logs.
func (c Condition) Label() string {
	switch c.Type {
	case ConditionEntityComplete:
		return fmt.Sprintf("%s %s [%s]", c.Type, c.Op(), strings.Join(c.Fields(), ", "))
	default:
		return fmt.Sprintf("%s %s %s", c.Type, c.Op(), c.String())
	}
}

// State is one node of a script.
type State struct {
	Name        string         `json:"name" yaml:"name"`
	Kind        Kind           `json:"type" yaml:"type"`
	Prompt      string         `json:"prompt" yaml:"prompt"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Tools       []string       `json:"tools,omitempty" yaml:"tools,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Edge is a directed transition between two states.
type Edge struct {
	From        string     `json:"from_state" yaml:"from_state"`
	To          string     `json:"to_state" yaml:"to_state"`
	Condition   *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
}

// Script is an immutable conversation flow definition.
type Script struct {
	Name             string              `json:"name" yaml:"name"`
	Description      string              `json:"description,omitempty" yaml:"description,omitempty"`
	Version          string              `json:"version,omitempty" yaml:"version,omitempty"`
	GeneralPrompt    string              `json:"general_prompt" yaml:"general_prompt"`
	StartingState    string              `json:"starting_state" yaml:"starting_state"`
	States           []State             `json:"states" yaml:"states"`
	Edges            []Edge              `json:"edges" yaml:"edges"`
	DynamicVariables map[string]string   `json:"dynamic_variables,omitempty" yaml:"dynamic_variables,omitempty"`
	Intents          map[string][]string `json:"intents,omitempty" yaml:"intents,omitempty"`
	Metadata         map[string]any      `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// State returns the named state.
func (s *Script) State(name string) (State, bool) {
	if s == nil {
		return State{}, false
	}
	for _, st := range s.States {
		if st.Name == name {
			return st, true
		}
	}
	return State{}, false
}

// EdgesFrom returns the edges leaving name in declared order.
func (s *Script) EdgesFrom(name string) []Edge {
	if s == nil {
		return nil
	}
	var out []Edge
	for _, e := range s.Edges {
		if e.From == name {
			out = append(out, e)
		}
	}
	return out
}

// IsTerminal reports whether name is a terminal state.
func (s *Script) IsTerminal(name string) bool {
	st, ok := s.State(name)
	return ok && st.Kind == KindTerminal
}
