package live

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vango-go/vai-callcore/pkg/core"
	"github.com/vango-go/vai-callcore/pkg/core/conversation"
	"github.com/vango-go/vai-callcore/pkg/core/voice/stt"
	"github.com/vango-go/vai-callcore/pkg/core/voice/tts"
)

type fakeTranscriber struct {
	mu    sync.Mutex
	text  string
	err   error
	calls int
}

func (f *fakeTranscriber) Name() string { return "fake" }

func (f *fakeTranscriber) Transcribe(ctx context.Context, audio io.Reader, opts stt.TranscribeOptions) (*stt.Transcript, error) {
	_, _ = io.Copy(io.Discard, audio)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &stt.Transcript{Text: f.text, Intent: "new_claim"}, nil
}

type fakeSynth struct {
	mu     sync.Mutex
	texts  []string
	chunks [][]byte
	hold   bool // keep the stream open after the chunks until cancelled
}

func (f *fakeSynth) Name() string { return "fake" }

func (f *fakeSynth) SynthesizeStream(ctx context.Context, text string, voice tts.VoiceConfig) (*tts.SynthesisStream, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	chunks := f.chunks
	hold := f.hold
	f.mu.Unlock()

	s := tts.NewSynthesisStream()
	go func() {
		defer s.FinishSending()
		for _, c := range chunks {
			if !s.Send(c) {
				return
			}
		}
		if hold {
			select {
			case <-ctx.Done():
			case <-s.Done():
			}
		}
	}()
	return s, nil
}

func (f *fakeSynth) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeResponder struct {
	mu         sync.Mutex
	reply      string
	err        error
	gate       chan struct{} // when set, replies wait until it is closed
	utterances []conversation.Utterance
	recorded   []string
}

func (f *fakeResponder) ProcessUserUtterance(ctx context.Context, u conversation.Utterance) (conversation.Response, error) {
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return conversation.Response{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.utterances = append(f.utterances, u)
	if f.err != nil {
		return conversation.Response{}, f.err
	}
	return conversation.Response{Text: f.reply, CurrentState: "claim_type"}, nil
}

func (f *fakeResponder) RecordAgentTurn(text string) conversation.Turn {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recorded = append(f.recorded, text)
	return conversation.Turn{Speaker: conversation.SpeakerAgent, Text: text}
}

func (f *fakeResponder) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.utterances), len(f.recorded)
}

type fakeSink struct {
	mu        sync.Mutex
	chunks    []Chunk
	breaks    int
	plays     []string
	digits    []string
	transfers []string
}

func (f *fakeSink) StreamAudio(ctx context.Context, c Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, c)
	return nil
}

func (f *fakeSink) Break(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.breaks++
	return nil
}

func (f *fakeSink) Play(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays = append(f.plays, url)
	return nil
}

func (f *fakeSink) SendDigits(ctx context.Context, d string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.digits = append(f.digits, d)
	return nil
}

func (f *fakeSink) Transfer(ctx context.Context, number string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, number)
	return nil
}

func (f *fakeSink) snapshot() (chunks []Chunk, breaks int, transfers []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Chunk(nil), f.chunks...), f.breaks, append([]string(nil), f.transfers...)
}

type harness struct {
	c      *Coordinator
	stt    *fakeTranscriber
	synth  *fakeSynth
	resp   *fakeResponder
	sink   *fakeSink
	frames chan Frame
	cancel context.CancelFunc
	done   chan error
}

func newHarness(t *testing.T, mutate func(*Dependencies)) *harness {
	t.Helper()
	h := &harness{
		stt:    &fakeTranscriber{text: "I want to file a new claim"},
		synth:  &fakeSynth{chunks: [][]byte{{1, 2}, {3, 4}}},
		resp:   &fakeResponder{reply: "What type of claim would you like to file?"},
		sink:   &fakeSink{},
		frames: make(chan Frame, 64),
		done:   make(chan error, 1),
	}
	deps := Dependencies{
		CallID:      "call_1",
		Transcriber: h.stt,
		Synthesizer: h.synth,
		Responder:   h.resp,
		Sink:        h.sink,
		Config:      Config{Segmenter: testSegmenterConfig()},
	}
	if mutate != nil {
		mutate(&deps)
	}
	c, err := New(deps)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.c = c

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.done <- c.Run(ctx, h.frames) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(2 * time.Second):
			t.Errorf("Run did not return after cancel")
		}
	})
	waitFor(t, "listening", func() bool { return c.Snapshot().State == StateListening })
	return h
}

func (h *harness) say(loud int) {
	for i := 0; i < loud; i++ {
		h.frames <- loudFrame()
	}
}

func (h *harness) pause(silent int) {
	for i := 0; i < silent; i++ {
		h.frames <- silentFrame()
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCoordinator_TurnRoundTrip(t *testing.T) {
	t.Parallel()

	var statesMu sync.Mutex
	var states []PipelineState
	h := newHarness(t, nil)
	h.c.SetCallbacks(func(s PipelineState) {
		statesMu.Lock()
		states = append(states, s)
		statesMu.Unlock()
	})

	h.say(3)
	h.pause(5)

	waitFor(t, "two chunks", func() bool {
		chunks, _, _ := h.sink.snapshot()
		return len(chunks) == 2
	})
	waitFor(t, "back to listening", func() bool {
		s := h.c.Snapshot()
		return s.State == StateListening && !s.AgentSpeaking
	})

	chunks, _, _ := h.sink.snapshot()
	for _, c := range chunks {
		if c.TurnSequence != 1 {
			t.Fatalf("chunk turn_seq=%d, want 1", c.TurnSequence)
		}
		if c.Format != "pcm" || c.SampleRate != 8000 {
			t.Fatalf("chunk format=%q rate=%d", c.Format, c.SampleRate)
		}
	}
	if got := h.synth.Texts(); len(got) != 1 || got[0] != "What type of claim would you like to file?" {
		t.Fatalf("synthesized=%q", got)
	}
	h.resp.mu.Lock()
	u := h.resp.utterances[0]
	h.resp.mu.Unlock()
	if u.Text != "I want to file a new claim" || u.Intent != "new_claim" {
		t.Fatalf("utterance=%+v", u)
	}

	statesMu.Lock()
	defer statesMu.Unlock()
	want := []PipelineState{StateTranscribing, StateGenerating, StateSpeaking, StateListening}
	if len(states) < len(want) {
		t.Fatalf("states=%v, want at least %v", states, want)
	}
	for i, s := range want {
		if states[i] != s {
			t.Fatalf("states=%v, want prefix %v", states, want)
		}
	}
}

func TestCoordinator_BargeInBreaksAndAdvancesSequence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.synth.mu.Lock()
	h.synth.hold = true
	h.synth.chunks = [][]byte{{9}}
	h.synth.mu.Unlock()

	h.say(3)
	h.pause(5)
	waitFor(t, "speaking", func() bool {
		chunks, _, _ := h.sink.snapshot()
		return len(chunks) == 1 && h.c.Snapshot().State == StateSpeaking
	})

	h.say(3)
	waitFor(t, "barge-in", func() bool {
		_, breaks, _ := h.sink.snapshot()
		return breaks == 1
	})
	snap := h.c.Snapshot()
	if snap.State != StateListening {
		t.Fatalf("state=%s, want LISTENING", snap.State)
	}
	if snap.TurnSequence != 2 {
		t.Fatalf("turn_seq=%d, want 2", snap.TurnSequence)
	}
	if snap.AgentSpeaking || !snap.PendingBargeIn {
		t.Fatalf("snapshot=%+v", snap)
	}

	// The interrupting utterance completes and is answered.
	h.pause(5)
	waitFor(t, "second utterance", func() bool {
		n, _ := h.resp.counts()
		return n == 2
	})
	if h.c.Snapshot().PendingBargeIn {
		t.Fatalf("pending barge-in not cleared")
	}
}

func TestCoordinator_BargeInDuringEscalationStillTransfers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *Dependencies) {
		d.Config.EscalationNumber = "+15550100"
		d.Config.MaxConsecutiveFailures = 1
	})
	h.resp.mu.Lock()
	h.resp.err = core.NewGenerationFailedError(errors.New("llm down"))
	h.resp.mu.Unlock()
	h.synth.mu.Lock()
	h.synth.hold = true
	h.synth.chunks = [][]byte{{9}}
	h.synth.mu.Unlock()

	h.say(3)
	h.pause(5)
	waitFor(t, "escalation line", func() bool {
		chunks, _, _ := h.sink.snapshot()
		return len(chunks) == 1 && h.c.Snapshot().State == StateSpeaking
	})

	h.say(3)
	waitFor(t, "transfer", func() bool {
		_, breaks, transfers := h.sink.snapshot()
		return breaks == 1 && len(transfers) == 1
	})
	if _, _, transfers := h.sink.snapshot(); transfers[0] != "+15550100" {
		t.Fatalf("transfer=%q", transfers[0])
	}
}

func TestCoordinator_BargeInStartsQueuedUtterance(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	gate := make(chan struct{})
	h.resp.mu.Lock()
	h.resp.gate = gate
	h.resp.mu.Unlock()
	h.synth.mu.Lock()
	h.synth.hold = true
	h.synth.chunks = [][]byte{{9}}
	h.synth.mu.Unlock()

	// The first reply is held in generation while a second utterance queues.
	h.say(3)
	h.pause(5)
	waitFor(t, "generating", func() bool { return h.c.Snapshot().State == StateGenerating })
	h.say(3)
	h.pause(5)
	waitFor(t, "second utterance consumed", func() bool { return len(h.frames) == 0 })
	close(gate)

	waitFor(t, "speaking", func() bool {
		chunks, _, _ := h.sink.snapshot()
		return len(chunks) == 1 && h.c.Snapshot().State == StateSpeaking
	})
	if n, _ := h.resp.counts(); n != 1 {
		t.Fatalf("utterances=%d before barge-in, want 1", n)
	}

	// Interrupt without finishing the new utterance: the queued one runs now.
	h.say(3)
	waitFor(t, "queued utterance answered", func() bool {
		n, _ := h.resp.counts()
		return n == 2
	})
}

func TestCoordinator_StaleChunksAreDropped(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	c, err := New(Dependencies{
		Transcriber: &fakeTranscriber{},
		Synthesizer: &fakeSynth{},
		Responder:   &fakeResponder{},
		Sink:        sink,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	c.update(func(s *AudioPipelineState) {
		s.TurnSequence = 2
		s.State = StateSpeaking
	})

	ctx := context.Background()
	c.onTTSChunk(ctx, ttsChunk{seq: 1, audio: []byte{1}})
	if chunks, _, _ := sink.snapshot(); len(chunks) != 0 {
		t.Fatalf("stale chunk reached sink")
	}
	if got := c.Snapshot().DroppedChunks; got != 1 {
		t.Fatalf("dropped=%d, want 1", got)
	}

	c.onTTSChunk(ctx, ttsChunk{seq: 2, audio: []byte{2}})
	if chunks, _, _ := sink.snapshot(); len(chunks) != 1 {
		t.Fatalf("current chunk not forwarded")
	}

	c.update(func(s *AudioPipelineState) { s.State = StateListening })
	c.onTTSChunk(ctx, ttsChunk{seq: 2, audio: []byte{3}})
	if got := c.Snapshot().DroppedChunks; got != 2 {
		t.Fatalf("dropped=%d, want 2 after leaving SPEAKING", got)
	}
}

func TestCoordinator_TranscriptionFailureRecordsNoTurn(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.stt.mu.Lock()
	h.stt.err = core.NewCollaboratorError(core.ErrSTT, "fake", errors.New("timeout"))
	h.stt.mu.Unlock()

	h.say(3)
	h.pause(5)
	waitFor(t, "transcription attempt", func() bool {
		h.stt.mu.Lock()
		defer h.stt.mu.Unlock()
		return h.stt.calls == 1
	})
	waitFor(t, "listening", func() bool { return h.c.Snapshot().State == StateListening })

	if n, rec := h.resp.counts(); n != 0 || rec != 0 {
		t.Fatalf("responder calls=%d recorded=%d, want 0/0", n, rec)
	}
	if got := h.synth.Texts(); len(got) != 0 {
		t.Fatalf("synthesized=%q, want nothing", got)
	}
}

func TestCoordinator_GenerationFailureApologizesThenEscalates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(d *Dependencies) {
		d.Config.EscalationNumber = "+15550100"
	})
	h.resp.mu.Lock()
	h.resp.err = core.NewGenerationFailedError(errors.New("llm down"))
	h.resp.mu.Unlock()

	h.say(3)
	h.pause(5)
	// Replies are synthesized one sentence at a time.
	waitFor(t, "apology", func() bool { return len(h.synth.Texts()) == 2 })
	waitFor(t, "listening", func() bool { return h.c.Snapshot().State == StateListening })
	if got := strings.Join(h.synth.Texts(), " "); got != DefaultFallbackText {
		t.Fatalf("spoken=%q, want fallback", got)
	}

	h.say(3)
	h.pause(5)
	waitFor(t, "transfer", func() bool {
		_, _, transfers := h.sink.snapshot()
		return len(transfers) == 1
	})
	if got := strings.Join(h.synth.Texts()[2:], " "); got != DefaultEscalationText {
		t.Fatalf("spoken=%q, want escalation", got)
	}
	_, _, transfers := h.sink.snapshot()
	if transfers[0] != "+15550100" {
		t.Fatalf("transfer=%q", transfers[0])
	}
	if _, rec := h.resp.counts(); rec != 2 {
		t.Fatalf("recorded agent turns=%d, want 2", rec)
	}
}

func TestCoordinator_RunReturnsOnClosedFrames(t *testing.T) {
	t.Parallel()

	c, err := New(Dependencies{
		Transcriber: &fakeTranscriber{},
		Synthesizer: &fakeSynth{},
		Responder:   &fakeResponder{},
		Sink:        &fakeSink{},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	frames := make(chan Frame)
	close(frames)
	if err := c.Run(context.Background(), frames); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	snap := c.Snapshot()
	if snap.State != StateIdle || snap.StreamConnected {
		t.Fatalf("snapshot=%+v, want idle and disconnected", snap)
	}
	if err := c.Run(context.Background(), frames); err == nil {
		t.Fatalf("second Run should fail")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Dependencies{}); err == nil {
		t.Fatalf("expected error for missing collaborators")
	}
}

func TestPipelineStateString(t *testing.T) {
	tests := map[PipelineState]string{
		StateIdle:         "IDLE",
		StateListening:    "LISTENING",
		StateTranscribing: "TRANSCRIBING",
		StateGenerating:   "GENERATING",
		StateSpeaking:     "SPEAKING",
		PipelineState(99): "UNKNOWN",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Fatalf("%d.String()=%q, want %q", int(s), got, want)
		}
	}
}
