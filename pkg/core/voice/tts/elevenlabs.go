package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-callcore/pkg/core"
)

const elevenLabsDefaultWSBase = "wss://api.elevenlabs.io/v1/text-to-speech/{voice_id}/stream-input"

// ElevenLabsProvider synthesizes over the ElevenLabs stream-input websocket.
type ElevenLabsProvider struct {
	apiKey    string
	wsBaseURL string
	dialer    *websocket.Dialer
}

func NewElevenLabs(apiKey string) *ElevenLabsProvider {
	return &ElevenLabsProvider{
		apiKey:    strings.TrimSpace(apiKey),
		wsBaseURL: elevenLabsDefaultWSBase,
		dialer:    websocket.DefaultDialer,
	}
}

// WithWSBaseURL overrides the websocket endpoint. "{voice_id}" is replaced
// with the requested voice.
func (e *ElevenLabsProvider) WithWSBaseURL(base string) *ElevenLabsProvider {
	if e == nil {
		return e
	}
	base = strings.TrimSpace(base)
	if base != "" {
		e.wsBaseURL = base
	}
	return e
}

func (e *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

// SynthesizeStream sends the whole text with a flush and streams decoded audio
// until the server marks the generation final.
func (e *ElevenLabsProvider) SynthesizeStream(ctx context.Context, text string, voice VoiceConfig) (*SynthesisStream, error) {
	if strings.TrimSpace(e.apiKey) == "" {
		return nil, e.fail(fmt.Errorf("api key is required"))
	}
	voiceID := strings.TrimSpace(voice.Voice)
	if voiceID == "" {
		return nil, e.fail(fmt.Errorf("voice id is required"))
	}
	wsURL, err := buildElevenLabsWSURL(e.wsBaseURL, voiceID, voice)
	if err != nil {
		return nil, e.fail(err)
	}

	header := http.Header{}
	header.Set("xi-api-key", e.apiKey)
	conn, _, err := e.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		return nil, e.fail(fmt.Errorf("dial: %w", err))
	}

	// The first message opens the context; a single space is the documented primer.
	init := map[string]any{"text": " "}
	if voice.Speed > 0 {
		init["voice_settings"] = map[string]any{"speed": voice.Speed}
	}
	messages := []map[string]any{
		init,
		{"text": strings.TrimSpace(text) + " ", "flush": true},
		{"text": ""},
	}
	for _, m := range messages {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteJSON(m); err != nil {
			_ = conn.Close()
			return nil, e.fail(fmt.Errorf("send text: %w", err))
		}
	}

	stream := NewSynthesisStream()
	go func() {
		defer stream.FinishSending()
		defer conn.Close()

		stop := make(chan struct{})
		defer close(stop)
		go func() {
			select {
			case <-ctx.Done():
			case <-stream.Done():
			case <-stop:
				return
			}
			_ = conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() != nil {
					stream.SetError(ctx.Err())
					return
				}
				select {
				case <-stream.Done():
				default:
					if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
						stream.SetError(e.fail(err))
					}
				}
				return
			}
			var msg struct {
				Audio   string `json:"audio"`
				IsFinal bool   `json:"isFinal"`
				Error   string `json:"error"`
			}
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if msg.Error != "" {
				stream.SetError(e.fail(fmt.Errorf("%s", msg.Error)))
				return
			}
			if msg.Audio != "" {
				audio, err := base64.StdEncoding.DecodeString(msg.Audio)
				if err == nil && len(audio) > 0 && !stream.Send(audio) {
					return
				}
			}
			if msg.IsFinal {
				return
			}
		}
	}()

	return stream, nil
}

func (e *ElevenLabsProvider) fail(err error) error {
	return core.NewCollaboratorError(core.ErrTTS, e.Name(), err)
}

func buildElevenLabsWSURL(base, voiceID string, voice VoiceConfig) (string, error) {
	if strings.TrimSpace(base) == "" {
		base = elevenLabsDefaultWSBase
	}
	base = strings.ReplaceAll(base, "{voice_id}", url.PathEscape(voiceID))
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid elevenlabs ws url: %w", err)
	}
	if u.Scheme == "" {
		u.Scheme = "wss"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input"
	}
	q := u.Query()
	if q.Get("model_id") == "" {
		model := voice.Model
		if model == "" {
			model = "eleven_flash_v2_5"
		}
		q.Set("model_id", model)
	}
	if q.Get("output_format") == "" {
		q.Set("output_format", elevenLabsOutputFormat(voice))
	}
	if voice.Language != "" && q.Get("language_code") == "" {
		q.Set("language_code", voice.Language)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func elevenLabsOutputFormat(voice VoiceConfig) string {
	rate := voice.SampleRate
	if rate <= 0 {
		rate = 8000
	}
	if strings.EqualFold(voice.Format, "mulaw") || strings.EqualFold(voice.Format, "ulaw") {
		return "ulaw_8000"
	}
	return fmt.Sprintf("pcm_%d", rate)
}
