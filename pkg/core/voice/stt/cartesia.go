package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/vango-go/vai-callcore/pkg/core"
)

const (
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"
)

// CartesiaProvider implements the STT Provider interface using Cartesia's batch API.
type CartesiaProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewCartesia creates a new Cartesia STT provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return NewCartesiaWithClient(apiKey, "", &http.Client{})
}

// NewCartesiaWithClient creates a Cartesia STT provider with a custom base URL and HTTP client.
func NewCartesiaWithClient(apiKey, baseURL string, client *http.Client) *CartesiaProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = cartesiaBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &CartesiaProvider{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: client,
	}
}

// Name returns the provider identifier.
func (c *CartesiaProvider) Name() string {
	return "cartesia"
}

// Transcribe converts audio to text using Cartesia's STT API. Raw PCM is sent
// as-is with an explicit encoding and sample rate.
func (c *CartesiaProvider) Transcribe(ctx context.Context, audio io.Reader, opts TranscribeOptions) (*Transcript, error) {
	audioData, err := io.ReadAll(audio)
	if err != nil {
		return nil, c.fail(fmt.Errorf("read audio: %w", err))
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fw, err := mw.CreateFormFile("file", "audio."+cartesiaExtension(opts.Format))
	if err != nil {
		return nil, c.fail(fmt.Errorf("create form file: %w", err))
	}
	if _, err := fw.Write(audioData); err != nil {
		return nil, c.fail(fmt.Errorf("write audio data: %w", err))
	}

	model := opts.Model
	if model == "" {
		model = "ink-whisper"
	}
	if err := mw.WriteField("model", model); err != nil {
		return nil, c.fail(fmt.Errorf("write model field: %w", err))
	}
	if opts.Language != "" {
		if err := mw.WriteField("language", opts.Language); err != nil {
			return nil, c.fail(fmt.Errorf("write language field: %w", err))
		}
	}
	if err := mw.Close(); err != nil {
		return nil, c.fail(fmt.Errorf("close multipart writer: %w", err))
	}

	u, err := url.Parse(c.baseURL + "/stt")
	if err != nil {
		return nil, c.fail(fmt.Errorf("parse url: %w", err))
	}
	q := u.Query()
	if enc := cartesiaEncoding(opts.Format); enc != "" {
		q.Set("encoding", enc)
	}
	if opts.SampleRate > 0 {
		q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), &buf)
	if err != nil {
		return nil, c.fail(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(fmt.Errorf("cartesia request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, c.fail(fmt.Errorf("cartesia error %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var out struct {
		Text     string   `json:"text"`
		Language *string  `json:"language,omitempty"`
		Duration *float64 `json:"duration,omitempty"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, c.fail(fmt.Errorf("parse response: %w", err))
	}

	t := &Transcript{Text: strings.TrimSpace(out.Text), Language: opts.Language}
	if out.Language != nil {
		t.Language = *out.Language
	}
	if out.Duration != nil {
		t.Duration = *out.Duration
	}
	return t, nil
}

func (c *CartesiaProvider) fail(err error) error {
	return core.NewCollaboratorError(core.ErrSTT, c.Name(), err)
}

func cartesiaExtension(format string) string {
	switch strings.ToLower(format) {
	case "mp3":
		return "mp3"
	case "", "pcm", "pcm_s16le":
		return "raw"
	default:
		return "wav"
	}
}

func cartesiaEncoding(format string) string {
	switch strings.ToLower(format) {
	case "", "pcm", "pcm_s16le":
		return "pcm_s16le"
	default:
		return ""
	}
}
