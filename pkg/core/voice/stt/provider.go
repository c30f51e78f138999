// Package stt provides speech-to-text functionality.
package stt

import (
	"context"
	"io"
)

// Provider is the interface for speech-to-text services.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Transcribe converts one complete utterance to text.
	// Failures are reported as *core.Error with type stt_error.
	Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error)
}

// TranscribeOptions configures transcription.
type TranscribeOptions struct {
	Model      string // Provider-specific model
	Language   string // ISO language code
	Format     string // Audio format: "pcm" (16-bit LE mono), "wav", "mp3"
	SampleRate int    // Audio sample rate in Hz
	Prompt     string // Optional vocabulary hint
}

// Transcript is the result of transcription. Intent, Entities and
// Confirmation are optional; plain STT backends leave them empty and a
// decorator such as extract.Transcriber fills them in.
type Transcript struct {
	Text         string
	Language     string
	Duration     float64 // seconds, if reported
	Intent       string
	Entities     map[string]string
	Confirmation *bool
}
