package live

import "time"

// Frame is one chunk of inbound call audio.
type Frame struct {
	CallID     string
	Audio      []byte
	SampleRate int
	Encoding   string
}

// Segment is a completed utterance as PCM16.
type Segment struct {
	Audio      []byte
	SampleRate int
	Duration   time.Duration
}

// SegmentEvent is the result of pushing one frame.
type SegmentEvent struct {
	// SpeechStarted is set on the frame where voiced audio first exceeds MinSpeech.
	SpeechStarted bool
	// Utterance is set when trailing silence or MaxUtterance ends the segment.
	Utterance *Segment
}

// Segmenter splits a frame stream into utterances using RMS energy. Frame
// durations are derived from their decoded length, so results do not depend on
// delivery timing. A Segmenter is owned by one goroutine.
type Segmenter struct {
	cfg   SegmenterConfig
	audio AudioConfig

	preroll *ringBuffer

	buf      []byte
	rate     int
	voiced   time.Duration
	silence  time.Duration
	total    time.Duration
	inSpeech bool
}

func NewSegmenter(cfg SegmenterConfig, audio AudioConfig) *Segmenter {
	cfg = cfg.withDefaults()
	if audio.SampleRate <= 0 {
		audio = DefaultAudioConfig()
	}
	return &Segmenter{
		cfg:     cfg,
		audio:   audio,
		preroll: newRingBuffer(audio.BytesForDurationMs(int(cfg.Preroll / time.Millisecond))),
	}
}

// InSpeech reports whether an utterance is being captured.
func (s *Segmenter) InSpeech() bool {
	return s.inSpeech
}

// Push feeds one frame and reports speech onset and completed utterances.
func (s *Segmenter) Push(f Frame) SegmentEvent {
	pcm := DecodePCM16(f.Audio, f.Encoding)
	if len(pcm) == 0 {
		return SegmentEvent{}
	}
	rate := f.SampleRate
	if rate <= 0 {
		rate = s.audio.SampleRate
	}
	format := AudioConfig{SampleRate: rate, Channels: 1, BitsPerSample: 16}
	dur := format.Duration(len(pcm))
	voiced := CalculateRMSEnergy(pcm) >= s.cfg.SilenceThreshold

	var ev SegmentEvent
	switch {
	case !s.inSpeech && len(s.buf) == 0:
		if !voiced {
			s.preroll.Write(pcm)
			return ev
		}
		// Candidate onset: seed with preroll so the first syllable is not clipped.
		s.buf = append(s.preroll.Bytes(), pcm...)
		s.preroll.Reset()
		s.rate = rate
		s.voiced = dur
		s.silence = 0
		s.total = format.Duration(len(s.buf))
	default:
		s.buf = append(s.buf, pcm...)
		s.total += dur
		if voiced {
			s.voiced += dur
			s.silence = 0
		} else {
			s.silence += dur
		}
	}

	if !s.inSpeech {
		if s.voiced >= s.cfg.MinSpeech {
			s.inSpeech = true
			ev.SpeechStarted = true
		} else if s.silence >= s.cfg.TrailingSilence {
			// Burst too short to be speech.
			s.reset()
			return ev
		}
	}

	if s.inSpeech && (s.silence >= s.cfg.TrailingSilence || s.total >= s.cfg.MaxUtterance) {
		ev.Utterance = &Segment{
			Audio:      s.buf,
			SampleRate: s.rate,
			Duration:   s.total,
		}
		s.buf = nil
		s.reset()
	}
	return ev
}

// Reset drops any partial utterance.
func (s *Segmenter) Reset() {
	s.buf = nil
	s.reset()
	s.preroll.Reset()
}

func (s *Segmenter) reset() {
	s.buf = s.buf[:0]
	s.voiced = 0
	s.silence = 0
	s.total = 0
	s.inSpeech = false
}
