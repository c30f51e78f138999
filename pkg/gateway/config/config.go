package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vango-go/vai-callcore/pkg/core/live"
	"github.com/vango-go/vai-callcore/pkg/core/voice/stt"
	"github.com/vango-go/vai-callcore/pkg/core/voice/tts"
	"github.com/vango-go/vai-callcore/pkg/store"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeOptional AuthMode = "optional"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	// Admin API auth. Webhooks are authenticated by signature instead.
	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// If true, client identity may be derived from proxy headers like X-Forwarded-For.
	// This should only be enabled when the service is deployed behind a trusted proxy/LB.
	TrustProxyHeaders bool

	MaxBodyBytes int64

	CORSAllowedOrigins map[string]struct{} // empty => disabled

	// Telephony webhooks.
	WebhookSecret            string
	WebhookSignatureRequired bool

	// Media stream websocket.
	StreamWriteTimeout    time.Duration
	StreamPingInterval    time.Duration
	StreamMaxMessageBytes int64
	StreamFrameBuffer     int

	// In-memory limits (per client).
	LimitRPS   float64
	LimitBurst int

	// Call registry.
	MaxSessions     int
	EvictionGrace   time.Duration
	RingingTimeout  time.Duration
	JanitorSchedule string

	ScriptsDir    string
	DefaultScript string

	HistoryTurns  int
	DefaultPrompt string

	// Utterance segmentation.
	SilenceThreshold float64
	MinSpeech        time.Duration
	TrailingSilence  time.Duration
	MaxUtterance     time.Duration
	Preroll          time.Duration

	SampleRate    int
	AudioEncoding string

	LLMProvider string
	LLMModel    string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMTimeout  time.Duration

	STTProvider string
	STTBaseURL  string
	STTAPIKey   string
	STTModel    string
	STTLanguage string

	TTSProvider string
	TTSBaseURL  string
	TTSAPIKey   string
	TTSVoice    string
	TTSModel    string
	TTSSpeed    float64

	EscalationNumber       string
	MaxConsecutiveFailures int
	FallbackAudioURL       string

	// Archive backend; the first one set wins.
	DatabaseURL string
	MySQLDSN    string
	SQLitePath  string

	LogFormat string
	LogLevel  string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                     envOr("CALLCORE_ADDR", ":8080"),
		AuthMode:                 AuthMode(envOr("CALLCORE_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:                  make(map[string]struct{}),
		TrustProxyHeaders:        envBoolOr("CALLCORE_TRUST_PROXY_HEADERS", false),
		MaxBodyBytes:             envInt64Or("CALLCORE_MAX_BODY_BYTES", 1<<20), // 1 MiB
		CORSAllowedOrigins:       make(map[string]struct{}),
		WebhookSecret:            envOr("CALLCORE_WEBHOOK_SECRET", ""),
		WebhookSignatureRequired: envBoolOr("CALLCORE_WEBHOOK_SIGNATURE_REQUIRED", true),
		StreamWriteTimeout:       envDurationOr("CALLCORE_STREAM_WRITE_TIMEOUT", 5*time.Second),
		StreamPingInterval:       envDurationOr("CALLCORE_STREAM_PING_INTERVAL", 20*time.Second),
		StreamMaxMessageBytes:    envInt64Or("CALLCORE_STREAM_MAX_MESSAGE_BYTES", 256*1024),
		StreamFrameBuffer:        envIntOr("CALLCORE_STREAM_FRAME_BUFFER", 64),
		LimitRPS:                 envFloat64Or("CALLCORE_RATE_LIMIT_RPS", 20.0),
		LimitBurst:               envIntOr("CALLCORE_RATE_LIMIT_BURST", 40),
		MaxSessions:              envIntOr("CALLCORE_MAX_SESSIONS", 100),
		EvictionGrace:            envDurationOr("CALLCORE_EVICTION_GRACE", 30*time.Second),
		RingingTimeout:           envDurationOr("CALLCORE_RINGING_TIMEOUT", 2*time.Minute),
		JanitorSchedule:          envOr("CALLCORE_JANITOR_SCHEDULE", "@every 30s"),
		ScriptsDir:               envOr("CALLCORE_SCRIPTS_DIR", "scripts"),
		DefaultScript:            envOr("CALLCORE_DEFAULT_SCRIPT", ""),
		HistoryTurns:             envIntOr("CALLCORE_HISTORY_TURNS", 12),
		DefaultPrompt:            envOr("CALLCORE_DEFAULT_PROMPT", ""),
		SilenceThreshold:         envFloat64Or("CALLCORE_SILENCE_THRESHOLD", 0.01),
		MinSpeech:                envDurationOr("CALLCORE_MIN_SPEECH", 100*time.Millisecond),
		TrailingSilence:          envDurationOr("CALLCORE_TRAILING_SILENCE", 2*time.Second),
		MaxUtterance:             envDurationOr("CALLCORE_MAX_UTTERANCE", 30*time.Second),
		Preroll:                  envDurationOr("CALLCORE_PREROLL", 200*time.Millisecond),
		SampleRate:               envIntOr("CALLCORE_SAMPLE_RATE", 8000),
		AudioEncoding:            live.NormalizeEncoding(envOr("CALLCORE_AUDIO_ENCODING", live.EncodingMulaw)),
		LLMProvider:              strings.ToLower(envOr("CALLCORE_LLM_PROVIDER", "openai")),
		LLMModel:                 envOr("CALLCORE_LLM_MODEL", ""),
		LLMAPIKey:                envOr("CALLCORE_LLM_API_KEY", ""),
		LLMBaseURL:               envOr("CALLCORE_LLM_BASE_URL", ""),
		LLMTimeout:               envDurationOr("CALLCORE_LLM_TIMEOUT", 20*time.Second),
		STTProvider:              strings.ToLower(envOr("CALLCORE_STT_PROVIDER", "whisper")),
		STTBaseURL:               envOr("CALLCORE_STT_BASE_URL", ""),
		STTAPIKey:                envOr("CALLCORE_STT_API_KEY", ""),
		STTModel:                 envOr("CALLCORE_STT_MODEL", ""),
		STTLanguage:              envOr("CALLCORE_STT_LANGUAGE", ""),
		TTSProvider:              strings.ToLower(envOr("CALLCORE_TTS_PROVIDER", "elevenlabs")),
		TTSBaseURL:               envOr("CALLCORE_TTS_BASE_URL", ""),
		TTSAPIKey:                envOr("CALLCORE_TTS_API_KEY", ""),
		TTSVoice:                 envOr("CALLCORE_TTS_VOICE", ""),
		TTSModel:                 envOr("CALLCORE_TTS_MODEL", ""),
		TTSSpeed:                 envFloat64Or("CALLCORE_TTS_SPEED", 1.0),
		EscalationNumber:         envOr("CALLCORE_ESCALATION_NUMBER", ""),
		MaxConsecutiveFailures:   envIntOr("CALLCORE_MAX_CONSECUTIVE_FAILURES", 2),
		FallbackAudioURL:         envOr("CALLCORE_FALLBACK_AUDIO_URL", ""),
		DatabaseURL:              envOr("CALLCORE_DATABASE_URL", ""),
		MySQLDSN:                 envOr("CALLCORE_MYSQL_DSN", ""),
		SQLitePath:               envOr("CALLCORE_SQLITE_PATH", ""),
		LogFormat:                strings.ToLower(envOr("CALLCORE_LOG_FORMAT", "text")),
		LogLevel:                 strings.ToLower(envOr("CALLCORE_LOG_LEVEL", "info")),
		ReadHeaderTimeout:        envDurationOr("CALLCORE_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:              envDurationOr("CALLCORE_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod:      envDurationOr("CALLCORE_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeOptional, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("CALLCORE_AUTH_MODE must be one of required|optional|disabled")
	}

	for _, key := range splitCSV(os.Getenv("CALLCORE_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}
	for _, origin := range splitCSV(os.Getenv("CALLCORE_CORS_ORIGINS")) {
		cfg.CORSAllowedOrigins[origin] = struct{}{}
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_MAX_BODY_BYTES must be > 0")
	}
	if cfg.StreamWriteTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_STREAM_WRITE_TIMEOUT must be > 0")
	}
	if cfg.StreamPingInterval <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_STREAM_PING_INTERVAL must be > 0")
	}
	if cfg.StreamMaxMessageBytes <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_STREAM_MAX_MESSAGE_BYTES must be > 0")
	}
	if cfg.StreamFrameBuffer <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_STREAM_FRAME_BUFFER must be > 0")
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_MAX_SESSIONS must be > 0")
	}
	if cfg.EvictionGrace <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_EVICTION_GRACE must be > 0")
	}
	if cfg.RingingTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_RINGING_TIMEOUT must be > 0")
	}
	if cfg.HistoryTurns <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_HISTORY_TURNS must be > 0")
	}
	if cfg.SilenceThreshold <= 0 || cfg.SilenceThreshold >= 1 {
		return Config{}, fmt.Errorf("CALLCORE_SILENCE_THRESHOLD must be in (0, 1)")
	}
	if cfg.MinSpeech <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_MIN_SPEECH must be > 0")
	}
	if cfg.TrailingSilence <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_TRAILING_SILENCE must be > 0")
	}
	if cfg.MaxUtterance <= cfg.MinSpeech {
		return Config{}, fmt.Errorf("CALLCORE_MAX_UTTERANCE must be > CALLCORE_MIN_SPEECH")
	}
	if cfg.Preroll < 0 {
		return Config{}, fmt.Errorf("CALLCORE_PREROLL must be >= 0")
	}
	if cfg.SampleRate <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_SAMPLE_RATE must be > 0")
	}
	if cfg.LLMTimeout < 0 {
		return Config{}, fmt.Errorf("CALLCORE_LLM_TIMEOUT must be >= 0")
	}
	switch cfg.LLMProvider {
	case "openai", "anthropic", "gemini":
	default:
		return Config{}, fmt.Errorf("CALLCORE_LLM_PROVIDER must be one of openai|anthropic|gemini")
	}
	switch cfg.STTProvider {
	case "whisper", "cartesia":
	default:
		return Config{}, fmt.Errorf("CALLCORE_STT_PROVIDER must be one of whisper|cartesia")
	}
	switch cfg.TTSProvider {
	case "elevenlabs", "cartesia":
	default:
		return Config{}, fmt.Errorf("CALLCORE_TTS_PROVIDER must be one of elevenlabs|cartesia")
	}
	if cfg.TTSSpeed <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_TTS_SPEED must be > 0")
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_MAX_CONSECUTIVE_FAILURES must be > 0")
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return Config{}, fmt.Errorf("CALLCORE_LOG_FORMAT must be one of text|json")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CALLCORE_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	if cfg.LimitRPS < 0 {
		return Config{}, fmt.Errorf("CALLCORE_RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.LimitBurst < 0 {
		return Config{}, fmt.Errorf("CALLCORE_RATE_LIMIT_BURST must be >= 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("CALLCORE_API_KEYS must be set when CALLCORE_AUTH_MODE=required")
	}
	if cfg.WebhookSignatureRequired && cfg.WebhookSecret == "" {
		return Config{}, fmt.Errorf("CALLCORE_WEBHOOK_SECRET must be set when CALLCORE_WEBHOOK_SIGNATURE_REQUIRED=true")
	}

	return cfg, nil
}

// Pipeline returns the per-call audio pipeline settings.
func (c Config) Pipeline() live.Config {
	p := live.DefaultConfig()
	p.Audio = live.AudioConfig{SampleRate: c.SampleRate, Channels: 1, BitsPerSample: 16}
	p.Segmenter = live.SegmenterConfig{
		SilenceThreshold: c.SilenceThreshold,
		MinSpeech:        c.MinSpeech,
		TrailingSilence:  c.TrailingSilence,
		MaxUtterance:     c.MaxUtterance,
		Preroll:          c.Preroll,
	}
	format := "pcm"
	if c.AudioEncoding == live.EncodingMulaw {
		format = "mulaw"
	}
	p.Voice = tts.VoiceConfig{
		Voice:      c.TTSVoice,
		Model:      c.TTSModel,
		Language:   c.STTLanguage,
		Speed:      c.TTSSpeed,
		Format:     format,
		SampleRate: c.SampleRate,
	}
	p.Transcribe = stt.TranscribeOptions{Model: c.STTModel, Language: c.STTLanguage}
	p.MaxConsecutiveFailures = c.MaxConsecutiveFailures
	p.EscalationNumber = c.EscalationNumber
	p.FallbackAudioURL = c.FallbackAudioURL
	return p
}

// Store returns the archive backend selection.
func (c Config) Store() store.Config {
	return store.Config{DatabaseURL: c.DatabaseURL, MySQLDSN: c.MySQLDSN, SQLitePath: c.SQLitePath}
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
