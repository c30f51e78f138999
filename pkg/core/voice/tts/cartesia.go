package tts

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
	cartesiaBaseURL = "https://api.cartesia.ai"
	cartesiaVersion = "2025-04-16"

	// Default voice ID - callers should configure their own.
	defaultVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"

	cartesiaReadChunk = 3200
)

// CartesiaProvider streams the /tts/bytes response body as it arrives.
type CartesiaProvider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewCartesia creates a new Cartesia TTS provider.
func NewCartesia(apiKey string) *CartesiaProvider {
	return NewCartesiaWithClient(apiKey, "", nil)
}

// NewCartesiaWithClient creates a Cartesia TTS provider with a custom base URL and HTTP client.
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

type cartesiaTTSRequest struct {
	ModelID          string                    `json:"model_id"`
	Transcript       string                    `json:"transcript"`
	Voice            cartesiaVoiceSpec         `json:"voice"`
	OutputFormat     cartesiaOutputFormat      `json:"output_format"`
	Language         string                    `json:"language,omitempty"`
	GenerationConfig *cartesiaGenerationConfig `json:"generation_config,omitempty"`
}

type cartesiaVoiceSpec struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type cartesiaGenerationConfig struct {
	Speed float64 `json:"speed,omitempty"`
}

// SynthesizeStream posts the text and forwards the raw audio body in chunks.
func (c *CartesiaProvider) SynthesizeStream(ctx context.Context, text string, voice VoiceConfig) (*SynthesisStream, error) {
	voiceID := voice.Voice
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	model := voice.Model
	if model == "" {
		model = "sonic-3"
	}

	reqBody := cartesiaTTSRequest{
		ModelID:      model,
		Transcript:   text,
		Voice:        cartesiaVoiceSpec{Mode: "id", ID: voiceID},
		OutputFormat: cartesiaFormat(voice),
		Language:     voice.Language,
	}
	if voice.Speed > 0 {
		reqBody.GenerationConfig = &cartesiaGenerationConfig{Speed: voice.Speed}
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, c.fail(fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, c.fail(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, c.fail(fmt.Errorf("cartesia request: %w", err))
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		errBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, c.fail(fmt.Errorf("cartesia error %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody))))
	}

	stream := NewSynthesisStream()
	go func() {
		defer stream.FinishSending()
		defer resp.Body.Close()

		buf := make([]byte, cartesiaReadChunk)
		for {
			n, err := resp.Body.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				if !stream.Send(chunk) {
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				if ctx.Err() != nil {
					stream.SetError(ctx.Err())
				} else {
					stream.SetError(c.fail(fmt.Errorf("read audio: %w", err)))
				}
				return
			}
		}
	}()
	return stream, nil
}

func (c *CartesiaProvider) fail(err error) error {
	return core.NewCollaboratorError(core.ErrTTS, c.Name(), err)
}

func cartesiaFormat(voice VoiceConfig) cartesiaOutputFormat {
	rate := voice.SampleRate
	if rate <= 0 {
		rate = 8000
	}
	switch strings.ToLower(voice.Format) {
	case "mulaw", "ulaw":
		return cartesiaOutputFormat{Container: "raw", Encoding: "pcm_mulaw", SampleRate: rate}
	default:
		return cartesiaOutputFormat{Container: "raw", Encoding: "pcm_s16le", SampleRate: rate}
	}
}
