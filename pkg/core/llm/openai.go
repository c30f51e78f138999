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

const openAIDefaultBaseURL = "https://api.openai.com/v1"

// OpenAIProvider talks to any OpenAI-compatible chat completions endpoint.
type OpenAIProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAI creates an OpenAI-compatible provider. Empty baseURL uses the
// public OpenAI endpoint.
func NewOpenAI(apiKey, baseURL string, client *http.Client) *OpenAIProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = openAIDefaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &OpenAIProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type openAIErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one non-streaming chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string, history []Message, cfg GenerationConfig) (string, error) {
	ctx, cancel := withTimeout(ctx, cfg.Timeout)
	defer cancel()

	req := chatRequest{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}
	if prompt != "" {
		req.Messages = append(req.Messages, chatMessage{Role: "system", Content: prompt})
	}
	for _, m := range history {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", p.fail(fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", p.fail(fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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
		var eb openAIErrorBody
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &eb) == nil && eb.Error.Message != "" {
			msg = eb.Error.Message
		}
		return "", p.fail(fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", p.fail(fmt.Errorf("parse response: %w", err))
	}
	if len(out.Choices) == 0 {
		return "", p.fail(fmt.Errorf("response has no choices"))
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", p.fail(fmt.Errorf("empty completion"))
	}
	return text, nil
}

func (p *OpenAIProvider) fail(err error) error {
	return core.NewCollaboratorError(core.ErrLLM, p.Name(), err)
}
