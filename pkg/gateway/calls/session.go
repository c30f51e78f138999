package calls

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/vango-go/vai-callcore/pkg/core/conversation"
	"github.com/vango-go/vai-callcore/pkg/core/live"
	"github.com/vango-go/vai-callcore/pkg/core/script"
)

// Session is the registry entry for one call. Fields are guarded by mu; the
// orchestrator is the only writer.
type Session struct {
	mu sync.Mutex

	callID    string
	direction Direction
	from      string
	to        string
	status    Status
	createdAt time.Time
	endedAt   time.Time
	metadata  map[string]string

	manager    *conversation.Manager
	script     *script.Script
	scriptName string

	pipeline Pipeline
	sink     live.Sink
	cancel   context.CancelFunc
	runDone  chan struct{}

	tornDown bool
	evictAt  time.Time
	// endedOnArrival marks a session whose first event was terminal, such as
	// a duplicate end arriving after eviction.
	endedOnArrival bool
}

// SessionInfo is a read-only view of a session.
type SessionInfo struct {
	CallID     string                   `json:"call_id"`
	Direction  Direction                `json:"direction"`
	From       string                   `json:"from_number,omitempty"`
	To         string                   `json:"to_number,omitempty"`
	Status     Status                   `json:"status"`
	CreatedAt  time.Time                `json:"created_at"`
	EndedAt    *time.Time               `json:"ended_at,omitempty"`
	ScriptName string                   `json:"script_name,omitempty"`
	Metadata   map[string]string        `json:"metadata,omitempty"`
	Flow       *conversation.FlowState  `json:"flow,omitempty"`
	Pipeline   *live.AudioPipelineState `json:"pipeline,omitempty"`
	TurnCount  int                      `json:"turn_count"`
}

func newSession(ev CallEvent, now time.Time) *Session {
	created := ev.Timestamp
	if created.IsZero() {
		created = now
	}
	dir := ev.Direction
	if dir == "" {
		dir = DirectionInbound
	}
	return &Session{
		callID:    ev.CallID,
		direction: dir,
		from:      ev.From,
		to:        ev.To,
		status:    StatusRinging,
		createdAt: created,
		metadata:  map[string]string{},
	}
}

// absorb copies caller details the session does not know yet. Requires mu.
func (s *Session) absorb(ev CallEvent) {
	if s.from == "" {
		s.from = ev.From
	}
	if s.to == "" {
		s.to = ev.To
	}
	if ev.Direction != "" {
		s.direction = ev.Direction
	}
	for k, v := range ev.Metadata {
		s.metadata[k] = v
	}
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	info := SessionInfo{
		CallID:     s.callID,
		Direction:  s.direction,
		From:       s.from,
		To:         s.to,
		Status:     s.status,
		CreatedAt:  s.createdAt,
		ScriptName: s.scriptName,
		Metadata:   maps.Clone(s.metadata),
	}
	if !s.endedAt.IsZero() {
		ended := s.endedAt
		info.EndedAt = &ended
	}
	mgr := s.manager
	pipe := s.pipeline
	s.mu.Unlock()

	if mgr != nil {
		flow := mgr.Flow()
		info.Flow = &flow
		info.TurnCount = len(mgr.Turns())
	}
	if pipe != nil {
		snap := pipe.Snapshot()
		info.Pipeline = &snap
	}
	return info
}

// Turns returns the conversation so far, or nil before the call is answered.
func (s *Session) Turns() []conversation.Turn {
	s.mu.Lock()
	mgr := s.manager
	s.mu.Unlock()
	if mgr == nil {
		return nil
	}
	return mgr.Turns()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
