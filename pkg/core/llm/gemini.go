package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/vango-go/vai-callcore/pkg/core"
)

// GeminiProvider uses the Gemini API through the genai SDK.
type GeminiProvider struct {
	client *genai.Client
}

// NewGemini creates a Gemini provider. baseURL overrides the API endpoint
// when non-empty.
func NewGemini(ctx context.Context, apiKey, baseURL string, client *http.Client) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:     strings.TrimSpace(apiKey),
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: client,
	}
	if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	c, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiProvider{client: c}, nil
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Complete(ctx context.Context, prompt string, history []Message, cfg GenerationConfig) (string, error) {
	ctx, cancel := withTimeout(ctx, cfg.Timeout)
	defer cancel()

	contents := geminiContents(history)
	if len(contents) == 0 {
		return "", p.fail(fmt.Errorf("history must contain a message"))
	}
	resp, err := p.client.Models.GenerateContent(ctx, cfg.Model, contents, geminiConfig(prompt, cfg))
	if err != nil {
		return "", p.fail(err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", p.fail(fmt.Errorf("empty completion"))
	}
	return text, nil
}

func geminiContents(history []Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(history))
	for _, m := range history {
		role := genai.RoleUser
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, genai.NewContentFromText(m.Content, genai.Role(role)))
	}
	return out
}

func geminiConfig(prompt string, cfg GenerationConfig) *genai.GenerateContentConfig {
	gc := &genai.GenerateContentConfig{}
	if prompt != "" {
		gc.SystemInstruction = genai.NewContentFromText(prompt, genai.RoleUser)
	}
	if cfg.Temperature != nil {
		t := float32(*cfg.Temperature)
		gc.Temperature = &t
	}
	if cfg.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(cfg.MaxTokens)
	}
	return gc
}

func (p *GeminiProvider) fail(err error) error {
	return core.NewCollaboratorError(core.ErrLLM, p.Name(), err)
}
