package conversation

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Speaker identifies who produced a turn.
type Speaker string

const (
	SpeakerAgent Speaker = "agent"
	SpeakerUser  Speaker = "user"
)

// Turn is one entry in a call's conversation log.
type Turn struct {
	ID          string            `json:"id"`
	Speaker     Speaker           `json:"speaker"`
	Text        string            `json:"text"`
	Timestamp   time.Time         `json:"timestamp"`
	Entities    map[string]string `json:"entities,omitempty"`
	Intent      string            `json:"intent,omitempty"`
	StateAtTurn string            `json:"state_at_turn,omitempty"`
}

// TurnLog is an append-only, ordered record of turns.
type TurnLog struct {
	mu    sync.Mutex
	now   func() time.Time
	turns []Turn
}

// NewTurnLog creates an empty log. A nil clock uses time.Now.
func NewTurnLog(now func() time.Time) *TurnLog {
	if now == nil {
		now = time.Now
	}
	return &TurnLog{now: now}
}

// Append stamps the turn with an ID and timestamp and stores it.
func (l *TurnLog) Append(t Turn) Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	t.ID = uuid.NewString()
	t.Timestamp = l.now()
	t.Entities = cloneMap(t.Entities)
	l.turns = append(l.turns, t)
	return cloneTurn(t)
}

// Len returns the number of turns.
func (l *TurnLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}

// All returns a copy of every turn in order.
func (l *TurnLog) All() []Turn {
	return l.Last(-1)
}

// Last returns a copy of the most recent n turns. A negative n returns all.
func (l *TurnLog) Last(n int) []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if n >= 0 && n < len(l.turns) {
		start = len(l.turns) - n
	}
	out := make([]Turn, 0, len(l.turns)-start)
	for _, t := range l.turns[start:] {
		out = append(out, cloneTurn(t))
	}
	return out
}

func cloneTurn(t Turn) Turn {
	t.Entities = cloneMap(t.Entities)
	return t
}

func cloneMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
