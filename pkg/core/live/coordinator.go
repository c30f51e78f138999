package live

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/vango-go/vai-callcore/pkg/core/conversation"
	"github.com/vango-go/vai-callcore/pkg/core/voice/stt"
	"github.com/vango-go/vai-callcore/pkg/core/voice/tts"
)

// PipelineState is the per-call audio pipeline state.
type PipelineState int

const (
	StateIdle PipelineState = iota
	StateListening
	StateTranscribing
	StateGenerating
	StateSpeaking
)

func (s PipelineState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateListening:
		return "LISTENING"
	case StateTranscribing:
		return "TRANSCRIBING"
	case StateGenerating:
		return "GENERATING"
	case StateSpeaking:
		return "SPEAKING"
	default:
		return "UNKNOWN"
	}
}

func (s PipelineState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// AudioPipelineState is a point-in-time view of a coordinator.
type AudioPipelineState struct {
	StreamConnected bool          `json:"stream_connected"`
	AgentSpeaking   bool          `json:"agent_speaking"`
	PendingBargeIn  bool          `json:"pending_barge_in"`
	TurnSequence    uint64        `json:"turn_sequence"`
	State           PipelineState `json:"state"`
	DroppedChunks   int           `json:"dropped_chunks"`
}

// Chunk is one piece of outbound synthesized audio.
type Chunk struct {
	Audio        []byte
	Format       string
	SampleRate   int
	TurnSequence uint64
}

// Sink is the outbound side of the call's media transport.
type Sink interface {
	StreamAudio(ctx context.Context, chunk Chunk) error
	Break(ctx context.Context) error
	Play(ctx context.Context, url string) error
	SendDigits(ctx context.Context, digits string) error
	Transfer(ctx context.Context, number string) error
}

// Responder turns caller text into agent replies. *conversation.Manager
// satisfies it.
type Responder interface {
	ProcessUserUtterance(ctx context.Context, u conversation.Utterance) (conversation.Response, error)
	RecordAgentTurn(text string) conversation.Turn
}

type Dependencies struct {
	CallID      string
	Transcriber stt.Provider
	Synthesizer tts.Provider
	Responder   Responder
	Sink        Sink
	Logger      *slog.Logger
	Config      Config
}

// Coordinator sequences one call's audio through transcription, reply
// generation and synthesis. All pipeline state is mutated by the Run loop;
// Snapshot may be called from any goroutine.
type Coordinator struct {
	callID      string
	transcriber stt.Provider
	synthesizer tts.Provider
	responder   Responder
	sink        Sink
	logger      *slog.Logger
	cfg         Config
	segmenter   *Segmenter

	mu      sync.Mutex
	snap    AudioPipelineState
	onState func(PipelineState)

	// Run loop only.
	queue       []*Segment
	failures    int
	cancelSpeak context.CancelFunc
	afterSpeak  func(context.Context)
	running     bool

	sttDone   chan sttResult
	genDone   chan genResult
	ttsChunks chan ttsChunk
	ttsDone   chan ttsDone
	workers   sync.WaitGroup
}

type sttResult struct {
	transcript *stt.Transcript
	err        error
}

type genResult struct {
	resp conversation.Response
	err  error
}

type ttsChunk struct {
	seq   uint64
	audio []byte
}

type ttsDone struct {
	seq uint64
	err error
}

func New(deps Dependencies) (*Coordinator, error) {
	if deps.Transcriber == nil {
		return nil, errors.New("live: transcriber is required")
	}
	if deps.Synthesizer == nil {
		return nil, errors.New("live: synthesizer is required")
	}
	if deps.Responder == nil {
		return nil, errors.New("live: responder is required")
	}
	if deps.Sink == nil {
		return nil, errors.New("live: sink is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config.withDefaults()
	return &Coordinator{
		callID:      deps.CallID,
		transcriber: deps.Transcriber,
		synthesizer: deps.Synthesizer,
		responder:   deps.Responder,
		sink:        deps.Sink,
		logger:      logger.With("call_id", deps.CallID),
		cfg:         cfg,
		segmenter:   NewSegmenter(cfg.Segmenter, cfg.Audio),
		sttDone:     make(chan sttResult, 1),
		genDone:     make(chan genResult, 1),
		ttsChunks:   make(chan ttsChunk, 16),
		ttsDone:     make(chan ttsDone, 4),
	}, nil
}

// SetCallbacks registers an observer for state changes. It is invoked on the
// Run goroutine.
func (c *Coordinator) SetCallbacks(onState func(PipelineState)) {
	c.mu.Lock()
	c.onState = onState
	c.mu.Unlock()
}

// Snapshot returns the current pipeline state.
func (c *Coordinator) Snapshot() AudioPipelineState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snap
}

// Run drives the pipeline until ctx is cancelled or frames is closed. It
// returns nil in both cases. Run may be called once.
func (c *Coordinator) Run(ctx context.Context, frames <-chan Frame) error {
	if c.running {
		return errors.New("live: coordinator already ran")
	}
	c.running = true

	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		c.stopSpeaking()
		c.workers.Wait()
		c.update(func(s *AudioPipelineState) {
			s.StreamConnected = false
			s.AgentSpeaking = false
			s.PendingBargeIn = false
		})
		c.setState(StateIdle)
	}()

	c.update(func(s *AudioPipelineState) { s.StreamConnected = true })
	c.setState(StateListening)

	for {
		select {
		case <-ctx.Done():
			return nil
		case f, ok := <-frames:
			if !ok {
				return nil
			}
			c.onFrame(ctx, f)
		case r := <-c.sttDone:
			c.onTranscribed(ctx, r)
		case r := <-c.genDone:
			c.onGenerated(ctx, r)
		case ch := <-c.ttsChunks:
			c.onTTSChunk(ctx, ch)
		case d := <-c.ttsDone:
			c.onTTSDone(ctx, d)
		}
	}
}

func (c *Coordinator) onFrame(ctx context.Context, f Frame) {
	ev := c.segmenter.Push(f)
	if ev.SpeechStarted && c.state() == StateSpeaking {
		c.bargeIn(ctx)
	}
	if ev.Utterance == nil {
		return
	}
	c.update(func(s *AudioPipelineState) { s.PendingBargeIn = false })
	if len(c.queue) >= c.cfg.UtteranceQueue {
		c.logger.Warn("utterance queue full, dropping oldest", "queued", len(c.queue))
		c.queue = c.queue[1:]
	}
	c.queue = append(c.queue, ev.Utterance)
	c.next(ctx)
}

// next starts the oldest queued utterance when the pipeline is free.
func (c *Coordinator) next(ctx context.Context) {
	if c.state() != StateListening || len(c.queue) == 0 {
		return
	}
	seg := c.queue[0]
	c.queue = c.queue[1:]
	c.setState(StateTranscribing)

	opts := c.cfg.Transcribe
	opts.Format = "pcm"
	opts.SampleRate = seg.SampleRate
	c.spawn(func() {
		tr, err := c.transcriber.Transcribe(ctx, bytes.NewReader(seg.Audio), opts)
		select {
		case c.sttDone <- sttResult{transcript: tr, err: err}:
		case <-ctx.Done():
		}
	})
}

func (c *Coordinator) onTranscribed(ctx context.Context, r sttResult) {
	if r.err != nil || r.transcript == nil || strings.TrimSpace(r.transcript.Text) == "" {
		if r.err != nil {
			c.logger.Warn("transcription failed", "error", r.err)
		}
		c.setState(StateListening)
		c.next(ctx)
		return
	}

	tr := r.transcript
	u := conversation.Utterance{
		Text:         strings.TrimSpace(tr.Text),
		Entities:     tr.Entities,
		Intent:       tr.Intent,
		Confirmation: tr.Confirmation,
	}
	c.setState(StateGenerating)
	c.spawn(func() {
		resp, err := c.responder.ProcessUserUtterance(ctx, u)
		select {
		case c.genDone <- genResult{resp: resp, err: err}:
		case <-ctx.Done():
		}
	})
}

func (c *Coordinator) onGenerated(ctx context.Context, r genResult) {
	if ctx.Err() != nil {
		return
	}
	text := r.resp.Text
	var after func(context.Context)
	if r.err != nil {
		c.failures++
		c.logger.Warn("reply generation failed", "error", r.err, "consecutive_failures", c.failures)
		text = c.cfg.FallbackText
		if c.failures >= c.cfg.MaxConsecutiveFailures && c.cfg.EscalationNumber != "" {
			text = c.cfg.EscalationText
			number := c.cfg.EscalationNumber
			after = func(ctx context.Context) {
				if err := c.sink.Transfer(ctx, number); err != nil {
					c.logger.Error("escalation transfer failed", "error", err)
					return
				}
				c.logger.Info("call escalated", "number", number)
			}
		}
		c.responder.RecordAgentTurn(text)
	} else {
		c.failures = 0
	}

	if strings.TrimSpace(text) == "" {
		c.setState(StateListening)
		c.next(ctx)
		return
	}
	c.speak(ctx, text, after)
}

func (c *Coordinator) speak(ctx context.Context, text string, after func(context.Context)) {
	speakCtx, cancel := context.WithCancel(ctx)
	c.cancelSpeak = cancel
	c.afterSpeak = after

	var seq uint64
	c.update(func(s *AudioPipelineState) {
		s.TurnSequence++
		seq = s.TurnSequence
		s.AgentSpeaking = true
	})
	c.setState(StateSpeaking)

	voice := c.cfg.Voice
	c.spawn(func() {
		send := func(d ttsDone) {
			select {
			case c.ttsDone <- d:
			case <-ctx.Done():
			}
		}
		for _, sentence := range splitSentences(text) {
			if err := c.synthesize(speakCtx, seq, sentence, voice); err != nil || speakCtx.Err() != nil {
				send(ttsDone{seq: seq, err: err})
				return
			}
		}
		send(ttsDone{seq: seq})
	})
}

// synthesize streams one sentence into ttsChunks. It returns nil when
// speakCtx is cancelled mid-sentence.
func (c *Coordinator) synthesize(speakCtx context.Context, seq uint64, text string, voice tts.VoiceConfig) error {
	stream, err := c.synthesizer.SynthesizeStream(speakCtx, text, voice)
	if err != nil {
		return err
	}
	defer stream.Close()
	for {
		select {
		case <-speakCtx.Done():
			return nil
		case audio, ok := <-stream.Chunks():
			if !ok {
				return stream.Err()
			}
			select {
			case c.ttsChunks <- ttsChunk{seq: seq, audio: audio}:
			case <-speakCtx.Done():
			}
		}
	}
}

func (c *Coordinator) onTTSChunk(ctx context.Context, ch ttsChunk) {
	snap := c.Snapshot()
	if ch.seq != snap.TurnSequence || snap.State != StateSpeaking {
		c.update(func(s *AudioPipelineState) { s.DroppedChunks++ })
		return
	}
	err := c.sink.StreamAudio(ctx, Chunk{
		Audio:        ch.audio,
		Format:       c.cfg.Voice.Format,
		SampleRate:   c.cfg.Voice.SampleRate,
		TurnSequence: ch.seq,
	})
	if err != nil && ctx.Err() == nil {
		c.logger.Warn("stream audio failed", "turn_seq", ch.seq, "error", err)
	}
}

func (c *Coordinator) onTTSDone(ctx context.Context, d ttsDone) {
	snap := c.Snapshot()
	if d.seq != snap.TurnSequence || snap.State != StateSpeaking {
		return
	}
	if d.err != nil && ctx.Err() == nil {
		c.logger.Warn("synthesis failed", "turn_seq", d.seq, "error", d.err)
		if c.cfg.FallbackAudioURL != "" {
			if err := c.sink.Play(ctx, c.cfg.FallbackAudioURL); err != nil {
				c.logger.Warn("fallback audio failed", "error", err)
			}
		}
	}
	after := c.afterSpeak
	c.stopSpeaking()
	c.update(func(s *AudioPipelineState) { s.AgentSpeaking = false })
	if after != nil {
		after(ctx)
	}
	c.setState(StateListening)
	c.next(ctx)
}

// bargeIn abandons the current reply: later chunks carry a stale sequence and
// are dropped on arrival. A pending escalation still transfers the call.
func (c *Coordinator) bargeIn(ctx context.Context) {
	var seq uint64
	c.update(func(s *AudioPipelineState) {
		s.TurnSequence++
		seq = s.TurnSequence
		s.AgentSpeaking = false
		s.PendingBargeIn = true
	})
	after := c.afterSpeak
	c.stopSpeaking()
	if err := c.sink.Break(ctx); err != nil && ctx.Err() == nil {
		c.logger.Warn("break failed", "error", err)
	}
	c.logger.Info("barge-in", "turn_seq", seq)
	if after != nil {
		after(ctx)
	}
	c.setState(StateListening)
	c.next(ctx)
}

func (c *Coordinator) stopSpeaking() {
	if c.cancelSpeak != nil {
		c.cancelSpeak()
		c.cancelSpeak = nil
	}
	c.afterSpeak = nil
}

func (c *Coordinator) spawn(fn func()) {
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		fn()
	}()
}

func (c *Coordinator) state() PipelineState {
	return c.Snapshot().State
}

func (c *Coordinator) update(fn func(*AudioPipelineState)) {
	c.mu.Lock()
	fn(&c.snap)
	c.mu.Unlock()
}

func (c *Coordinator) setState(next PipelineState) {
	c.mu.Lock()
	prev := c.snap.State
	c.snap.State = next
	cb := c.onState
	c.mu.Unlock()
	if prev == next {
		return
	}
	if cb != nil {
		cb(next)
	}
}
