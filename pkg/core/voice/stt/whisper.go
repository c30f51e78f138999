package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/vango-go/vai-callcore/pkg/core"
)

const (
	whisperDefaultBaseURL = "https://api.openai.com/v1"
	whisperDefaultModel   = "whisper-1"
)

// WhisperProvider implements Provider against an OpenAI-compatible
// /audio/transcriptions endpoint.
type WhisperProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewWhisper creates a Whisper STT provider.
func NewWhisper(apiKey, baseURL string) *WhisperProvider {
	return NewWhisperWithClient(apiKey, baseURL, &http.Client{})
}

// NewWhisperWithClient creates a Whisper STT provider with a custom HTTP client.
func NewWhisperWithClient(apiKey, baseURL string, client *http.Client) *WhisperProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = whisperDefaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &WhisperProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// Name returns the provider identifier.
func (w *WhisperProvider) Name() string {
	return "whisper"
}

// Transcribe uploads the utterance as a multipart form. Raw PCM is wrapped in
// a WAV container first.
func (w *WhisperProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	audioData, err := io.ReadAll(audio)
	if err != nil {
		return nil, w.fail(fmt.Errorf("read audio: %w", err))
	}

	format := strings.ToLower(opts.Format)
	if format == "" || format == "pcm" {
		audioData = EncodeWAV(audioData, opts.SampleRate)
		format = "wav"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio."+format)
	if err != nil {
		return nil, w.fail(fmt.Errorf("create form file: %w", err))
	}
	if _, err := fw.Write(audioData); err != nil {
		return nil, w.fail(fmt.Errorf("write audio data: %w", err))
	}

	model := opts.Model
	if model == "" {
		model = whisperDefaultModel
	}
	fields := map[string]string{
		"model":           model,
		"response_format": "json",
		"language":        opts.Language,
		"prompt":          opts.Prompt,
	}
	for k, v := range fields {
		if v == "" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, w.fail(fmt.Errorf("write %s field: %w", k, err))
		}
	}
	if err := mw.Close(); err != nil {
		return nil, w.fail(fmt.Errorf("close multipart writer: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return nil, w.fail(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+w.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, w.fail(fmt.Errorf("whisper request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, w.fail(fmt.Errorf("whisper error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out struct {
		Text     string   `json:"text"`
		Language string   `json:"language,omitempty"`
		Duration *float64 `json:"duration,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, w.fail(fmt.Errorf("parse response: %w", err))
	}

	t := &Transcript{
		Text:     strings.TrimSpace(out.Text),
		Language: out.Language,
	}
	if out.Duration != nil {
		t.Duration = *out.Duration
	}
	if t.Language == "" {
		t.Language = opts.Language
	}
	return t, nil
}

func (w *WhisperProvider) fail(err error) error {
	return core.NewCollaboratorError(core.ErrSTT, w.Name(), err)
}
