package extract

import (
	"context"
	"io"

	"github.com/vango-go/vai-callcore/pkg/core/voice/stt"
)

// Transcriber decorates an stt.Provider so transcripts carry intent, entities
// and confirmation. Values reported by the provider win.
type Transcriber struct {
	provider  stt.Provider
	extractor *Extractor
}

func NewTranscriber(p stt.Provider, e *Extractor) *Transcriber {
	if e == nil {
		e = &Extractor{}
	}
	return &Transcriber{provider: p, extractor: e}
}

func (t *Transcriber) Name() string {
	return t.provider.Name()
}

func (t *Transcriber) Transcribe(ctx context.Context, audio io.Reader, opts stt.TranscribeOptions) (*stt.Transcript, error) {
	tr, err := t.provider.Transcribe(ctx, audio, opts)
	if err != nil || tr == nil || tr.Text == "" {
		return tr, err
	}
	res := t.extractor.Extract(tr.Text)
	if tr.Intent == "" {
		tr.Intent = res.Intent
	}
	if tr.Confirmation == nil {
		tr.Confirmation = res.Confirmation
	}
	if len(res.Entities) > 0 {
		merged := res.Entities
		for k, v := range tr.Entities {
			merged[k] = v
		}
		tr.Entities = merged
	}
	return tr, nil
}
