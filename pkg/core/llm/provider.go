// Package llm defines the completion capability the conversation manager
// depends on, plus one implementation per backend.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Role identifies the author of a history message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of conversation history sent with a prompt.
type Message struct {
	Role    Role
	Content string
}

// GenerationConfig tunes a single completion.
type GenerationConfig struct {
	Model       string
	Temperature *float64
	MaxTokens   int
	// Timeout bounds one Complete call; zero means no extra bound beyond ctx.
	Timeout time.Duration
}

// Provider is the interface for completion backends.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// Complete returns the assistant reply for a system prompt and history.
	// Failures are reported as *core.Error with type llm_error.
	Complete(ctx context.Context, prompt string, history []Message, cfg GenerationConfig) (string, error)
}

// Options configures a provider built by New.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Factory builds a provider from options.
type Factory func(ctx context.Context, opts Options) (Provider, error)

var factories = map[string]Factory{
	"openai": func(_ context.Context, o Options) (Provider, error) {
		return NewOpenAI(o.APIKey, o.BaseURL, o.HTTPClient), nil
	},
	"anthropic": func(_ context.Context, o Options) (Provider, error) {
		return NewAnthropic(o.APIKey, o.BaseURL, o.HTTPClient), nil
	},
	"gemini": func(ctx context.Context, o Options) (Provider, error) {
		return NewGemini(ctx, o.APIKey, o.BaseURL, o.HTTPClient)
	},
}

// New builds the named provider.
func New(ctx context.Context, name string, opts Options) (Provider, error) {
	f, ok := factories[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return f(ctx, opts)
}

// Names lists the registered provider names.
func Names() []string {
	out := make([]string, 0, len(factories))
	for name := range factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
