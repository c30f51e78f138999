package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/vango-go/vai-callcore/pkg/core"
)

const (
	anthropicDefaultBaseURL   = "https://api.anthropic.com/v1"
	anthropicVersion          = "2023-06-01"
	anthropicDefaultMaxTokens = 1024
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

func NewAnthropic(apiKey, baseURL string, client *http.Client) *AnthropicProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = anthropicDefaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &AnthropicProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

func (p *AnthropicProvider) Complete(ctx context.Context, prompt string, history []Message, cfg GenerationConfig) (string, error) {
	ctx, cancel := withTimeout(ctx, cfg.Timeout)
	defer cancel()

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	req := anthropicRequest{
		Model:       cfg.Model,
		System:      prompt,
		MaxTokens:   maxTokens,
		Temperature: cfg.Temperature,
	}
	// The Messages API requires alternating roles starting with user.
	for _, m := range history {
		role := string(m.Role)
		if n := len(req.Messages); n > 0 && req.Messages[n-1].Role == role {
			req.Messages[n-1].Content += "\n" + m.Content
			continue
		}
		if len(req.Messages) == 0 && m.Role != RoleUser {
			continue
		}
		req.Messages = append(req.Messages, anthropicMessage{Role: role, Content: m.Content})
	}
	if len(req.Messages) == 0 {
		return "", p.fail(fmt.Errorf("history must contain a user message"))
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", p.fail(fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/messages", bytes.NewReader(body))
	if err != nil {
		return "", p.fail(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return "", p.fail(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", p.fail(fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= 400 {
		return "", p.fail(fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var out anthropicResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", p.fail(fmt.Errorf("parse response: %w", err))
	}
	var b strings.Builder
	for _, block := range out.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", p.fail(fmt.Errorf("empty completion"))
	}
	return text, nil
}

func (p *AnthropicProvider) fail(err error) error {
	return core.NewCollaboratorError(core.ErrLLM, p.Name(), err)
}
