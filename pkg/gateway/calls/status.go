package calls

import (
	"strings"
	"time"

	"github.com/vango-go/vai-callcore/pkg/core"
)

// Status is the lifecycle state of a call.
type Status int

const (
	StatusRinging Status = iota
	StatusAnswered
	StatusStreaming
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusRinging:
		return "ringing"
	case StatusAnswered:
		return "answered"
	case StatusStreaming:
		return "streaming"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var legalTransitions = map[Status][]Status{
	StatusRinging:   {StatusAnswered, StatusEnded},
	StatusAnswered:  {StatusStreaming, StatusEnded},
	StatusStreaming: {StatusEnded, StatusAnswered},
}

// Transition checks a status change. A repeated status is not an error and
// reports applied=false; anything outside the legal set is illegal_transition.
func Transition(from, to Status) (applied bool, err error) {
	if from == to {
		return false, nil
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true, nil
		}
	}
	return false, core.NewIllegalTransitionError("", from.String(), to.String())
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// ParseDirection defaults to inbound.
func ParseDirection(s string) Direction {
	if strings.EqualFold(strings.TrimSpace(s), string(DirectionOutbound)) {
		return DirectionOutbound
	}
	return DirectionInbound
}

// EventType is a normalized telephony provider event.
type EventType string

const (
	EventRinging   EventType = "ringing"
	EventAnswered  EventType = "answered"
	EventEnded     EventType = "ended"
	EventMissed    EventType = "missed"
	EventVoicemail EventType = "voicemail"
)

// StatusForEvent returns the status an event moves a call to. Missed and
// voicemail calls end the session.
func StatusForEvent(t EventType) (Status, bool) {
	switch t {
	case EventRinging:
		return StatusRinging, true
	case EventAnswered:
		return StatusAnswered, true
	case EventEnded, EventMissed, EventVoicemail:
		return StatusEnded, true
	default:
		return 0, false
	}
}

// ParseProviderEvent maps webhook event names onto EventType.
func ParseProviderEvent(name string) (EventType, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "incoming_call", "call_initiated", "ringing":
		return EventRinging, true
	case "call_answered", "answered":
		return EventAnswered, true
	case "call_ended", "hangup", "ended":
		return EventEnded, true
	case "call_failed", "missed":
		return EventMissed, true
	case "voicemail":
		return EventVoicemail, true
	default:
		return "", false
	}
}

// CallEvent is one lifecycle notification for a call.
type CallEvent struct {
	CallID    string
	Type      EventType
	Timestamp time.Time
	Direction Direction
	From      string
	To        string
	Metadata  map[string]string
}
