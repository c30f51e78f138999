// Package calls keeps the registry of live phone calls and drives each call
// through ringing, answered, streaming and ended.
package calls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vango-go/vai-callcore/pkg/core"
	"github.com/vango-go/vai-callcore/pkg/core/conversation"
	"github.com/vango-go/vai-callcore/pkg/core/live"
	"github.com/vango-go/vai-callcore/pkg/core/script"
	"github.com/vango-go/vai-callcore/pkg/store"
)

const (
	DefaultEvictionGrace  = 30 * time.Second
	DefaultRingingTimeout = 2 * time.Minute
	DefaultArchiveTimeout = 10 * time.Second

	// MetadataScript names the script to run for a call.
	MetadataScript = "script"
)

// Pipeline is the per-call audio coordinator. *live.Coordinator satisfies it.
type Pipeline interface {
	Run(ctx context.Context, frames <-chan live.Frame) error
	Snapshot() live.AudioPipelineState
}

// CoordinatorRequest carries what a pipeline factory needs for one stream.
type CoordinatorRequest struct {
	CallID  string
	Manager *conversation.Manager
	Script  *script.Script
	Sink    live.Sink
	Logger  *slog.Logger
}

type Dependencies struct {
	MaxSessions    int
	EvictionGrace  time.Duration
	RingingTimeout time.Duration
	ArchiveTimeout time.Duration

	NewManager     func(callID string) (*conversation.Manager, error)
	NewCoordinator func(req CoordinatorRequest) (Pipeline, error)

	Scripts       script.Source
	DefaultScript string

	// Archive is optional.
	Archive store.Archive

	Logger *slog.Logger
	Clock  func() time.Time
	// AfterFunc schedules eviction. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func())
}

// Orchestrator owns every live call session.
type Orchestrator struct {
	maxSessions    int
	evictionGrace  time.Duration
	ringingTimeout time.Duration
	archiveTimeout time.Duration
	newManager     func(string) (*conversation.Manager, error)
	newCoordinator func(CoordinatorRequest) (Pipeline, error)
	scripts        script.Source
	defaultScript  string
	archive        store.Archive
	logger         *slog.Logger
	now            func() time.Time
	afterFunc      func(time.Duration, func())

	baseCtx    context.Context
	cancelBase context.CancelFunc
	runs       *tracker
	background sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

func New(deps Dependencies) (*Orchestrator, error) {
	if deps.MaxSessions <= 0 {
		return nil, errors.New("calls: MaxSessions must be > 0")
	}
	if deps.NewManager == nil {
		return nil, errors.New("calls: NewManager is required")
	}
	if deps.NewCoordinator == nil {
		return nil, errors.New("calls: NewCoordinator is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := deps.Clock
	if now == nil {
		now = time.Now
	}
	after := deps.AfterFunc
	if after == nil {
		after = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	}
	o := &Orchestrator{
		maxSessions:    deps.MaxSessions,
		evictionGrace:  durationOr(deps.EvictionGrace, DefaultEvictionGrace),
		ringingTimeout: durationOr(deps.RingingTimeout, DefaultRingingTimeout),
		archiveTimeout: durationOr(deps.ArchiveTimeout, DefaultArchiveTimeout),
		newManager:     deps.NewManager,
		newCoordinator: deps.NewCoordinator,
		scripts:        deps.Scripts,
		defaultScript:  strings.TrimSpace(deps.DefaultScript),
		archive:        deps.Archive,
		logger:         logger,
		now:            now,
		afterFunc:      after,
		runs:           newTracker(),
		sessions:       make(map[string]*Session),
	}
	o.baseCtx, o.cancelBase = context.WithCancel(context.Background())
	return o, nil
}

// HandleCallEvent applies a lifecycle event. Illegal transitions are logged
// and dropped; duplicates are no-ops.
func (o *Orchestrator) HandleCallEvent(ctx context.Context, ev CallEvent) error {
	ev.CallID = strings.TrimSpace(ev.CallID)
	if ev.CallID == "" {
		return core.NewInvalidRequestErrorWithParam("call_id is required", "call_id")
	}
	to, ok := StatusForEvent(ev.Type)
	if !ok {
		return core.NewInvalidRequestErrorWithParam(fmt.Sprintf("unknown event type %q", ev.Type), "event")
	}

	s, err := o.lookupOrCreate(ev, to)
	if err != nil {
		return err
	}
	logger := o.logger.With("call_id", ev.CallID)

	s.mu.Lock()
	s.absorb(ev)
	from := s.status
	applied, err := Transition(from, to)
	if err != nil {
		s.mu.Unlock()
		logger.Warn("call event ignored", "event", string(ev.Type), "status", from.String(), "error", err)
		return nil
	}
	if !applied {
		s.mu.Unlock()
		logger.Debug("duplicate call event", "event", string(ev.Type), "status", from.String())
		return nil
	}
	s.status = to
	if to == StatusEnded {
		s.endedAt = o.now()
	}
	s.mu.Unlock()
	logger.Info("call status", "from", from.String(), "status", to.String(), "event", string(ev.Type))

	switch to {
	case StatusAnswered:
		return o.answer(ctx, s)
	case StatusEnded:
		o.teardown(s, string(ev.Type))
	}
	return nil
}

// lookupOrCreate inserts a Ringing session for an unknown call. Terminal
// first events are admitted regardless of capacity so duplicates that follow
// find the ended session.
func (o *Orchestrator) lookupOrCreate(ev CallEvent, to Status) (*Session, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if s, ok := o.sessions[ev.CallID]; ok {
		return s, nil
	}
	if to != StatusEnded {
		if o.closed {
			return nil, &core.Error{Type: core.ErrOverloaded, Message: "call orchestrator is shutting down"}
		}
		if o.activeLocked() >= o.maxSessions {
			o.logger.Warn("call rejected", "call_id", ev.CallID, "reason", "capacity", "max_sessions", o.maxSessions)
			return nil, core.NewCapacityExceededError(o.maxSessions)
		}
	}
	s := newSession(ev, o.now())
	s.endedOnArrival = to == StatusEnded
	o.sessions[ev.CallID] = s
	return s, nil
}

// answer creates the conversation and activates the call's script once.
func (o *Orchestrator) answer(ctx context.Context, s *Session) error {
	s.mu.Lock()
	if s.manager != nil || s.status == StatusEnded {
		s.mu.Unlock()
		return nil
	}
	callID, from, to := s.callID, s.from, s.to
	meta := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		meta[k] = v
	}
	s.mu.Unlock()
	logger := o.logger.With("call_id", callID)

	mgr, err := o.newManager(callID)
	if err != nil {
		logger.Error("conversation setup failed", "error", err)
		return fmt.Errorf("calls: create conversation: %w", err)
	}

	name := strings.TrimSpace(meta[MetadataScript])
	if name == "" {
		name = o.defaultScript
	}
	var sc *script.Script
	if name != "" && o.scripts != nil {
		loaded, err := o.scripts.Load(ctx, name)
		if err != nil {
			logger.Warn("script unavailable, using default prompt", "script", name, "error", err)
		} else if _, err := mgr.ActivateScript(loaded, scriptOverrides(meta, from, to)); err != nil {
			logger.Warn("script activation failed", "script", name, "error", err)
		} else {
			sc = loaded
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.manager != nil || s.status == StatusEnded {
		mgr.DeactivateScript()
		return nil
	}
	s.manager = mgr
	s.script = sc
	if sc != nil {
		s.scriptName = sc.Name
	}
	return nil
}

// scriptOverrides turns call metadata into dynamic variable overrides.
func scriptOverrides(meta map[string]string, from, to string) map[string]string {
	out := make(map[string]string, len(meta)+2)
	if from != "" {
		out["from_number"] = from
	}
	if to != "" {
		out["to_number"] = to
	}
	for k, v := range meta {
		if k == MetadataScript {
			continue
		}
		out[k] = v
	}
	return out
}

// HandleStreamConnected attaches a media stream and starts the call's
// coordinator. A ringing call is treated as answered.
func (o *Orchestrator) HandleStreamConnected(ctx context.Context, callID string, frames <-chan live.Frame, sink live.Sink) error {
	s := o.session(callID)
	if s == nil {
		return core.NewNotFoundError(fmt.Sprintf("call %q not found", callID))
	}
	logger := o.logger.With("call_id", callID)

	s.mu.Lock()
	if s.status == StatusRinging {
		s.status = StatusAnswered
		s.mu.Unlock()
		logger.Info("call status", "from", StatusRinging.String(), "status", StatusAnswered.String(), "event", "stream_connected")
		if err := o.answer(ctx, s); err != nil {
			return err
		}
		s.mu.Lock()
	}
	if err := o.checkStreamable(s); err != nil {
		s.mu.Unlock()
		return err
	}
	mgr, sc := s.manager, s.script
	s.mu.Unlock()

	pipe, err := o.newCoordinator(CoordinatorRequest{
		CallID:  callID,
		Manager: mgr,
		Script:  sc,
		Sink:    sink,
		Logger:  o.logger,
	})
	if err != nil {
		logger.Error("coordinator setup failed", "error", err)
		return fmt.Errorf("calls: create coordinator: %w", err)
	}

	runCtx, cancel := context.WithCancel(o.baseCtx)
	done := make(chan struct{})

	s.mu.Lock()
	if err := o.checkStreamable(s); err != nil {
		s.mu.Unlock()
		cancel()
		return err
	}
	s.status = StatusStreaming
	s.pipeline = pipe
	s.sink = sink
	s.cancel = cancel
	s.runDone = done
	s.mu.Unlock()
	logger.Info("call status", "from", StatusAnswered.String(), "status", StatusStreaming.String(), "event", "stream_connected")

	release := o.runs.register(callID, cancel)
	go func() {
		defer release()
		defer close(done)
		defer cancel()
		if err := pipe.Run(runCtx, frames); err != nil {
			logger.Error("coordinator stopped", "error", err)
			return
		}
		logger.Debug("coordinator exited")
	}()
	return nil
}

// checkStreamable requires s.mu.
func (o *Orchestrator) checkStreamable(s *Session) error {
	if applied, _ := Transition(s.status, StatusStreaming); !applied {
		return core.NewIllegalTransitionError(s.callID, s.status.String(), StatusStreaming.String())
	}
	if s.manager == nil {
		return core.NewAPIError("call has no conversation")
	}
	return nil
}

// HandleStreamDisconnected stops the coordinator and returns the call to
// answered so the media can reconnect.
func (o *Orchestrator) HandleStreamDisconnected(callID string) {
	s := o.session(callID)
	if s == nil {
		o.logger.Debug("stream disconnect for unknown call", "call_id", callID)
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.sink = nil
	moved := false
	if s.status == StatusStreaming {
		s.status = StatusAnswered
		moved = true
	}
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if moved {
		o.logger.Info("call status", "call_id", callID, "from", StatusStreaming.String(), "status", StatusAnswered.String(), "event", "stream_disconnected")
	}
}

// teardown releases a call's resources once.
func (o *Orchestrator) teardown(s *Session, reason string) {
	s.mu.Lock()
	if s.tornDown {
		s.mu.Unlock()
		return
	}
	s.tornDown = true
	cancel := s.cancel
	s.cancel = nil
	sink := s.sink
	s.sink = nil
	mgr := s.manager
	done := s.runDone
	s.evictAt = o.now().Add(o.evictionGrace)
	callID := s.callID
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if mgr != nil {
		mgr.DeactivateScript()
	}
	if c, ok := sink.(io.Closer); ok {
		_ = c.Close()
	}
	o.logger.Info("call ended", "call_id", callID, "reason", reason)

	if o.archive != nil {
		o.background.Add(1)
		go func() {
			defer o.background.Done()
			if done != nil {
				select {
				case <-done:
				case <-time.After(o.archiveTimeout):
				}
			}
			o.save(s)
		}()
	}
	o.afterFunc(o.evictionGrace, func() { o.evict(callID, s) })
}

func (o *Orchestrator) save(s *Session) {
	ctx, cancel := context.WithTimeout(context.Background(), o.archiveTimeout)
	defer cancel()
	rec := s.record()
	if s.endedOnArrival {
		// A late duplicate end must not replace the archived call.
		_, err := o.archive.GetCall(ctx, rec.CallID)
		if err == nil {
			o.logger.Debug("call already archived", "call_id", rec.CallID)
			return
		}
		if !core.IsType(err, core.ErrNotFound) {
			o.logger.Error("call archive lookup failed", "call_id", rec.CallID, "error", err)
			return
		}
	}
	if err := o.archive.SaveCall(ctx, rec); err != nil {
		o.logger.Error("call archive failed", "call_id", rec.CallID, "error", err)
		return
	}
	o.logger.Debug("call archived", "call_id", rec.CallID, "turns", len(rec.Turns))
}

func (s *Session) record() store.CallRecord {
	info := s.Info()
	rec := store.CallRecord{
		CallID:     info.CallID,
		Direction:  string(info.Direction),
		FromNumber: info.From,
		ToNumber:   info.To,
		Status:     info.Status.String(),
		ScriptName: info.ScriptName,
		Metadata:   info.Metadata,
		CreatedAt:  info.CreatedAt,
		EndedAt:    info.EndedAt,
		Turns:      s.Turns(),
	}
	if info.Flow != nil {
		rec.FinalState = info.Flow.CurrentState
	}
	return rec
}

func (o *Orchestrator) evict(callID string, s *Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sessions[callID] == s {
		delete(o.sessions, callID)
		o.logger.Debug("call evicted", "call_id", callID)
	}
}

// Reap ends calls left ringing past the ringing timeout, detaches streams
// whose coordinator already exited, and evicts ended calls past their grace
// period. It returns how many sessions it acted on.
func (o *Orchestrator) Reap(now time.Time) int {
	o.mu.Lock()
	all := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		all = append(all, s)
	}
	o.mu.Unlock()

	reaped := 0
	for _, s := range all {
		s.mu.Lock()
		status, created, callID := s.status, s.createdAt, s.callID
		done, evictAt := s.runDone, s.evictAt
		s.mu.Unlock()

		switch {
		case status == StatusRinging && now.Sub(created) > o.ringingTimeout:
			_ = o.HandleCallEvent(context.Background(), CallEvent{CallID: callID, Type: EventMissed})
			reaped++
		case status == StatusStreaming && closed(done):
			o.HandleStreamDisconnected(callID)
			reaped++
		case status == StatusEnded && !evictAt.IsZero() && now.After(evictAt):
			o.evict(callID, s)
			reaped++
		}
	}
	return reaped
}

func closed(ch chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) session(callID string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[callID]
}

// Lookup returns a snapshot of the call, if it is still registered.
func (o *Orchestrator) Lookup(callID string) (SessionInfo, bool) {
	s := o.session(callID)
	if s == nil {
		return SessionInfo{}, false
	}
	return s.Info(), true
}

// Turns returns the live conversation for a registered call.
func (o *Orchestrator) Turns(callID string) ([]conversation.Turn, bool) {
	s := o.session(callID)
	if s == nil {
		return nil, false
	}
	return s.Turns(), true
}

// List returns every registered session, oldest first.
func (o *Orchestrator) List() []SessionInfo {
	o.mu.Lock()
	all := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		all = append(all, s)
	}
	o.mu.Unlock()

	out := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CallID < out[j].CallID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Count returns the number of registered sessions, ended ones included.
func (o *Orchestrator) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// ActiveCount returns the number of sessions that have not ended.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeLocked()
}

// Streaming returns the number of running coordinators.
func (o *Orchestrator) Streaming() int {
	return o.runs.count()
}

func (o *Orchestrator) activeLocked() int {
	n := 0
	for _, s := range o.sessions {
		if s.Status() != StatusEnded {
			n++
		}
	}
	return n
}

// Shutdown refuses new calls, cancels every coordinator and waits for them
// and any pending archive writes. It reports whether everything finished
// before ctx was done.
func (o *Orchestrator) Shutdown(ctx context.Context) bool {
	o.mu.Lock()
	o.closed = true
	o.mu.Unlock()

	canceled := o.runs.cancelAll()
	o.cancelBase()
	if canceled > 0 {
		o.logger.Info("cancelling call coordinators", "count", canceled)
	}
	if !o.runs.wait(ctx) {
		return false
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		o.background.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func durationOr(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
