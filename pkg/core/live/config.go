package live

import (
	"time"

	"github.com/vango-go/vai-callcore/pkg/core/voice/stt"
	"github.com/vango-go/vai-callcore/pkg/core/voice/tts"
)

const (
	DefaultFallbackText   = "I apologize, but I'm having trouble processing your request right now. Could you please try again?"
	DefaultEscalationText = "Let me transfer you to a human agent who can help you further. Please hold."

	defaultMaxConsecutiveFailures = 2
	defaultUtteranceQueue         = 8
)

// Config holds the per-call pipeline settings.
type Config struct {
	// Audio describes the inbound stream after decoding.
	Audio AudioConfig `json:"audio"`

	// Segmenter configures utterance detection.
	Segmenter SegmenterConfig `json:"segmenter"`

	// Voice is passed to the synthesizer for every reply.
	Voice tts.VoiceConfig `json:"voice"`

	// Transcribe holds model and language hints for the transcriber.
	Transcribe stt.TranscribeOptions `json:"transcribe"`

	// MaxConsecutiveFailures is how many fallback apologies are spoken before
	// escalating. Default: 2.
	MaxConsecutiveFailures int `json:"max_consecutive_failures"`

	// EscalationNumber is the transfer target. Empty disables escalation.
	EscalationNumber string `json:"escalation_number,omitempty"`

	// FallbackText is spoken when a reply cannot be generated.
	FallbackText string `json:"fallback_text,omitempty"`

	// EscalationText is spoken before transferring.
	EscalationText string `json:"escalation_text,omitempty"`

	// FallbackAudioURL, when set, is played if synthesis itself fails.
	FallbackAudioURL string `json:"fallback_audio_url,omitempty"`

	// UtteranceQueue bounds utterances that complete while the pipeline is busy.
	// Default: 8.
	UtteranceQueue int `json:"utterance_queue"`
}

// DefaultConfig returns narrowband telephony defaults.
func DefaultConfig() Config {
	return Config{
		Audio:                  DefaultAudioConfig(),
		Segmenter:              DefaultSegmenterConfig(),
		Voice:                  tts.VoiceConfig{Format: "pcm", SampleRate: 8000},
		MaxConsecutiveFailures: defaultMaxConsecutiveFailures,
		FallbackText:           DefaultFallbackText,
		EscalationText:         DefaultEscalationText,
		UtteranceQueue:         defaultUtteranceQueue,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Audio.SampleRate <= 0 {
		c.Audio = d.Audio
	}
	c.Segmenter = c.Segmenter.withDefaults()
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = d.MaxConsecutiveFailures
	}
	if c.FallbackText == "" {
		c.FallbackText = d.FallbackText
	}
	if c.EscalationText == "" {
		c.EscalationText = d.EscalationText
	}
	if c.UtteranceQueue <= 0 {
		c.UtteranceQueue = d.UtteranceQueue
	}
	if c.Voice.SampleRate <= 0 {
		c.Voice.SampleRate = c.Audio.SampleRate
	}
	if c.Voice.Format == "" {
		c.Voice.Format = "pcm"
	}
	return c
}

// SegmenterConfig configures the energy-based utterance segmenter.
type SegmenterConfig struct {
	// SilenceThreshold is the normalized RMS level (0.0 to 1.0) below which a
	// frame counts as silence. Default: 0.01
	SilenceThreshold float64 `json:"silence_threshold"`

	// MinSpeech is how much voiced audio must accumulate before speech is
	// considered started. Shorter bursts are treated as noise. Default: 100ms
	MinSpeech time.Duration `json:"min_speech"`

	// TrailingSilence ends an utterance. Default: 2s
	TrailingSilence time.Duration `json:"trailing_silence"`

	// MaxUtterance forces an utterance to end. Default: 30s
	MaxUtterance time.Duration `json:"max_utterance"`

	// Preroll is audio kept from before speech onset. Default: 200ms
	Preroll time.Duration `json:"preroll"`
}

// DefaultSegmenterConfig returns a SegmenterConfig with sensible defaults.
func DefaultSegmenterConfig() SegmenterConfig {
	return SegmenterConfig{
		SilenceThreshold: 0.01,
		MinSpeech:        100 * time.Millisecond,
		TrailingSilence:  2 * time.Second,
		MaxUtterance:     30 * time.Second,
		Preroll:          200 * time.Millisecond,
	}
}

func (c SegmenterConfig) withDefaults() SegmenterConfig {
	d := DefaultSegmenterConfig()
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.MinSpeech <= 0 {
		c.MinSpeech = d.MinSpeech
	}
	if c.TrailingSilence <= 0 {
		c.TrailingSilence = d.TrailingSilence
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = d.MaxUtterance
	}
	if c.Preroll < 0 {
		c.Preroll = 0
	}
	return c
}

// AudioConfig specifies audio format parameters.
type AudioConfig struct {
	// SampleRate in Hz. Telephony streams are usually 8000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: 16 for decoded PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// DefaultAudioConfig returns decoded narrowband mono PCM16.
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		SampleRate:    8000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// DurationMs returns the duration in milliseconds for the given byte count.
func (c AudioConfig) DurationMs(bytes int) int {
	if c.BytesPerSecond() == 0 {
		return 0
	}
	return (bytes * 1000) / c.BytesPerSecond()
}

// Duration returns the playback time of the given byte count.
func (c AudioConfig) Duration(bytes int) time.Duration {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(int64(bytes) * int64(time.Second) / int64(bps))
}

// BytesForDurationMs returns the byte count for the given duration in milliseconds.
func (c AudioConfig) BytesForDurationMs(ms int) int {
	return (c.BytesPerSecond() * ms) / 1000
}
