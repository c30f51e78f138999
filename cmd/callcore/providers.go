package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/vango-go/vai-callcore/pkg/core/conversation"
	"github.com/vango-go/vai-callcore/pkg/core/extract"
	"github.com/vango-go/vai-callcore/pkg/core/live"
	"github.com/vango-go/vai-callcore/pkg/core/llm"
	"github.com/vango-go/vai-callcore/pkg/core/voice/stt"
	"github.com/vango-go/vai-callcore/pkg/core/voice/tts"
	"github.com/vango-go/vai-callcore/pkg/gateway/calls"
	"github.com/vango-go/vai-callcore/pkg/gateway/config"
)

func newHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout: 10 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:     true,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}

func newLLM(ctx context.Context, cfg config.Config, client *http.Client) (llm.Provider, error) {
	p, err := llm.New(ctx, cfg.LLMProvider, llm.Options{
		APIKey:     cfg.LLMAPIKey,
		BaseURL:    cfg.LLMBaseURL,
		Model:      cfg.LLMModel,
		HTTPClient: client,
	})
	if err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}
	return p, nil
}

func newSTT(cfg config.Config, client *http.Client) (stt.Provider, error) {
	switch strings.ToLower(cfg.STTProvider) {
	case "whisper", "openai":
		return stt.NewWhisperWithClient(cfg.STTAPIKey, cfg.STTBaseURL, client), nil
	case "cartesia":
		return stt.NewCartesiaWithClient(cfg.STTAPIKey, cfg.STTBaseURL, client), nil
	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.STTProvider)
	}
}

func newTTS(cfg config.Config, client *http.Client) (tts.Provider, error) {
	switch strings.ToLower(cfg.TTSProvider) {
	case "elevenlabs":
		p := tts.NewElevenLabs(cfg.TTSAPIKey)
		if cfg.TTSBaseURL != "" {
			p = p.WithWSBaseURL(cfg.TTSBaseURL)
		}
		return p, nil
	case "cartesia":
		return tts.NewCartesiaWithClient(cfg.TTSAPIKey, cfg.TTSBaseURL, client), nil
	default:
		return nil, fmt.Errorf("unknown tts provider %q", cfg.TTSProvider)
	}
}

// pipelineFactory builds per-call managers and coordinators that share one
// set of provider clients.
type pipelineFactory struct {
	cfg         config.Config
	llm         llm.Provider
	transcriber stt.Provider
	synthesizer tts.Provider
	logger      *slog.Logger
}

func (f pipelineFactory) newManager(callID string) (*conversation.Manager, error) {
	logger := f.logger.With("call_id", callID)
	return conversation.NewManager(conversation.Dependencies{
		CallID: callID,
		LLM:    f.llm,
		Logger: f.logger,
		TurnSink: func(t conversation.Turn) {
			logger.Debug("turn",
				"speaker", string(t.Speaker),
				"state", t.StateAtTurn,
				"intent", t.Intent,
				"entities", len(t.Entities),
				"chars", len(t.Text),
			)
		},
		HistoryTurns:  f.cfg.HistoryTurns,
		DefaultPrompt: f.cfg.DefaultPrompt,
		GenerationConfig: llm.GenerationConfig{
			Model:   f.cfg.LLMModel,
			Timeout: f.cfg.LLMTimeout,
		},
	})
}

func (f pipelineFactory) newCoordinator(req calls.CoordinatorRequest) (calls.Pipeline, error) {
	// Intent keywords come from the call's script, so extraction is per call.
	var intents map[string][]string
	if req.Script != nil {
		intents = req.Script.Intents
	}
	logger := req.Logger
	if logger == nil {
		logger = f.logger
	}
	c, err := live.New(live.Dependencies{
		CallID:      req.CallID,
		Transcriber: extract.NewTranscriber(f.transcriber, extract.New(intents)),
		Synthesizer: f.synthesizer,
		Responder:   req.Manager,
		Sink:        req.Sink,
		Logger:      logger,
		Config:      f.cfg.Pipeline(),
	})
	if err != nil {
		return nil, err
	}
	stateLog := logger.With("call_id", req.CallID)
	c.SetCallbacks(func(s live.PipelineState) {
		stateLog.Debug("pipeline state", "state", s.String())
	})
	return c, nil
}
