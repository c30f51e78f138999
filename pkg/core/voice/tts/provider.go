// Package tts provides text-to-speech functionality.
package tts

import (
	"context"
	"sync"
)

// Provider is the interface for text-to-speech services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// SynthesizeStream converts text to streaming audio. Setup failures are
	// returned directly; failures after the first chunk surface on Err.
	SynthesizeStream(ctx context.Context, text string, voice VoiceConfig) (*SynthesisStream, error)
}

// VoiceConfig selects the voice and output encoding.
type VoiceConfig struct {
	Voice      string  // Provider voice identifier
	Model      string  // Provider model identifier
	Language   string  // Language code
	Speed      float64 // Speed multiplier, 0 for provider default
	Format     string  // Output encoding: "pcm" (16-bit LE) or "mulaw"
	SampleRate int     // Output sample rate
}

// SynthesisStream provides streaming audio output.
type SynthesisStream struct {
	chunks    chan []byte
	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error
}

// NewSynthesisStream creates a new synthesis stream.
func NewSynthesisStream() *SynthesisStream {
	return &SynthesisStream{
		chunks: make(chan []byte, 64),
		done:   make(chan struct{}),
	}
}

// Chunks returns the channel of audio chunks. It is closed when the producer
// finishes.
func (s *SynthesisStream) Chunks() <-chan []byte {
	return s.chunks
}

// Err returns any error recorded by the producer.
func (s *SynthesisStream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close tells the producer to stop. Safe to call more than once.
func (s *SynthesisStream) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Done is closed by Close.
func (s *SynthesisStream) Done() <-chan struct{} {
	return s.done
}

// SetError sets the stream error.
func (s *SynthesisStream) SetError(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// Send sends a chunk to the stream. Returns false if stream is closed.
func (s *SynthesisStream) Send(chunk []byte) bool {
	select {
	case s.chunks <- chunk:
		return true
	case <-s.done:
		return false
	}
}

// FinishSending closes the chunks channel to signal completion.
func (s *SynthesisStream) FinishSending() {
	close(s.chunks)
}

// Collect drains the stream into one buffer. Useful for short prompts and tests.
func Collect(ctx context.Context, s *SynthesisStream) ([]byte, error) {
	defer s.Close()
	var out []byte
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case chunk, ok := <-s.Chunks():
			if !ok {
				return out, s.Err()
			}
			out = append(out, chunk...)
		}
	}
}
