// Package transport adapts a media-streamer websocket to the live pipeline.
//
// The wire dialect is JSON text frames. Inbound:
//
//	{"event":"call_started"}
//	{"event":"media","data":{"audioData":"<b64>","sampleRate":8000,"audioDataType":"mulaw"}}
//	{"event":"call_ended"}
//
// Binary frames are treated as raw audio in the configured encoding. Outbound
// commands are play, streamAudio, break, digits and transfer.
package transport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-callcore/pkg/core/live"
)

const (
	DefaultWriteTimeout    = 5 * time.Second
	DefaultPingInterval    = 20 * time.Second
	DefaultMaxMessageBytes = 256 << 10
	DefaultFrameBuffer     = 64
)

var ErrClosed = errors.New("transport: connection closed")

type Config struct {
	WriteTimeout    time.Duration
	PingInterval    time.Duration
	MaxMessageBytes int64
	FrameBuffer     int

	// SampleRate and Encoding describe binary frames and media events that
	// omit them.
	SampleRate int
	Encoding   string
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if c.FrameBuffer <= 0 {
		c.FrameBuffer = DefaultFrameBuffer
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 8000
	}
	if strings.TrimSpace(c.Encoding) == "" {
		c.Encoding = live.EncodingMulaw
	}
	return c
}

// Conn is one call's media stream. It implements live.Sink and io.Closer.
// Writes are serialized; Run owns reads.
type Conn struct {
	ws     *websocket.Conn
	callID string
	cfg    Config
	logger *slog.Logger

	frames chan live.Frame

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    chan struct{}

	received atomic.Int64
}

func New(ws *websocket.Conn, callID string, cfg Config, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	ws.SetReadLimit(cfg.MaxMessageBytes)
	return &Conn{
		ws:     ws,
		callID: callID,
		cfg:    cfg,
		logger: logger.With("call_id", callID),
		frames: make(chan live.Frame, cfg.FrameBuffer),
		closed: make(chan struct{}),
	}
}

// Frames delivers decoded inbound audio. It is closed when Run returns.
func (c *Conn) Frames() <-chan live.Frame {
	return c.frames
}

// FramesReceived counts inbound audio frames.
func (c *Conn) FramesReceived() int64 {
	return c.received.Load()
}

type inboundMessage struct {
	Event string          `json:"event"`
	Type  string          `json:"type"`
	Data  json.RawMessage `json:"data"`
}

type mediaData struct {
	AudioData     string `json:"audioData"`
	SampleRate    int    `json:"sampleRate"`
	AudioDataType string `json:"audioDataType"`
}

// Run reads until the peer sends call_ended, the socket fails, or ctx is
// done. A clean end returns nil.
func (c *Conn) Run(ctx context.Context) error {
	defer close(c.frames)

	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go c.pingLoop(pingCtx)

	// Unblock ReadMessage when ctx ends.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.isClosed() {
				return nil
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("transport: read: %w", err)
		}

		switch mt {
		case websocket.BinaryMessage:
			if !c.push(ctx, live.Frame{CallID: c.callID, Audio: data, SampleRate: c.cfg.SampleRate, Encoding: c.cfg.Encoding}) {
				return nil
			}
		case websocket.TextMessage:
			done, err := c.handleText(ctx, data)
			if err != nil {
				c.logger.Warn("stream message ignored", "error", err)
				continue
			}
			if done {
				return nil
			}
		}
	}
}

func (c *Conn) handleText(ctx context.Context, data []byte) (bool, error) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return false, fmt.Errorf("decode message: %w", err)
	}
	event := msg.Event
	if event == "" {
		event = msg.Type
	}
	switch event {
	case "call_started":
		c.logger.Info("stream call started")
	case "call_ended":
		c.logger.Info("stream call ended")
		return true, nil
	case "media":
		var md mediaData
		if err := json.Unmarshal(msg.Data, &md); err != nil {
			return false, fmt.Errorf("decode media: %w", err)
		}
		audio, err := base64.StdEncoding.DecodeString(md.AudioData)
		if err != nil {
			return false, fmt.Errorf("decode audio: %w", err)
		}
		f := live.Frame{CallID: c.callID, Audio: audio, SampleRate: md.SampleRate, Encoding: md.AudioDataType}
		if f.SampleRate <= 0 {
			f.SampleRate = c.cfg.SampleRate
		}
		if f.Encoding == "" {
			f.Encoding = c.cfg.Encoding
		}
		if !c.push(ctx, f) {
			return true, nil
		}
	default:
		c.logger.Debug("stream event ignored", "event", event)
	}
	return false, nil
}

func (c *Conn) push(ctx context.Context, f live.Frame) bool {
	if len(f.Audio) == 0 {
		return true
	}
	select {
	case c.frames <- f:
		c.received.Add(1)
		return true
	case <-ctx.Done():
		return false
	case <-c.closed:
		return false
	}
}

func (c *Conn) pingLoop(ctx context.Context) {
	t := time.NewTicker(c.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case <-t.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug("stream ping failed", "error", err)
				return
			}
		}
	}
}

type streamAudioCommand struct {
	Type string          `json:"type"`
	Data streamAudioData `json:"data"`
}

type streamAudioData struct {
	AudioDataType string `json:"audioDataType"`
	SampleRate    int    `json:"sampleRate"`
	AudioData     string `json:"audioData"`
}

type eventCommand struct {
	Event string `json:"event"`
	File  string `json:"file,omitempty"`
	Data  string `json:"data,omitempty"`
}

func (c *Conn) StreamAudio(ctx context.Context, chunk live.Chunk) error {
	if len(chunk.Audio) == 0 {
		return nil
	}
	format := chunk.Format
	if format == "" {
		format = "pcm"
	}
	rate := chunk.SampleRate
	if rate <= 0 {
		rate = c.cfg.SampleRate
	}
	return c.writeJSON(ctx, streamAudioCommand{
		Type: "streamAudio",
		Data: streamAudioData{
			AudioDataType: format,
			SampleRate:    rate,
			AudioData:     base64.StdEncoding.EncodeToString(chunk.Audio),
		},
	})
}

func (c *Conn) Break(ctx context.Context) error {
	return c.writeJSON(ctx, eventCommand{Event: "break"})
}

func (c *Conn) Play(ctx context.Context, url string) error {
	if strings.TrimSpace(url) == "" {
		return errors.New("transport: play url is required")
	}
	return c.writeJSON(ctx, eventCommand{Event: "play", File: url})
}

func (c *Conn) SendDigits(ctx context.Context, digits string) error {
	if strings.TrimSpace(digits) == "" {
		return errors.New("transport: digits are required")
	}
	return c.writeJSON(ctx, eventCommand{Event: "digits", Data: digits})
}

func (c *Conn) Transfer(ctx context.Context, number string) error {
	if strings.TrimSpace(number) == "" {
		return errors.New("transport: transfer number is required")
	}
	return c.writeJSON(ctx, eventCommand{Event: "transfer", Data: number})
}

func (c *Conn) writeJSON(ctx context.Context, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: encode: %w", err)
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("transport: write: %w", err)
	}
	return nil
}

// Close sends a normal close frame and closes the socket. Safe to call more
// than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.cfg.WriteTimeout))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// CloseWithReason rejects the stream with a policy close frame.
func (c *Conn) CloseWithReason(reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		if len(reason) > 120 {
			reason = reason[:120]
		}
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
			time.Now().Add(c.cfg.WriteTimeout))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
