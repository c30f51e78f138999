package live

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func pcmOf(samples ...int16) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return pcm
}

func TestCalculateRMSEnergy(t *testing.T) {
	tests := []struct {
		name     string
		samples  []int16
		expected float64
	}{
		{name: "silence", samples: []int16{0, 0, 0, 0}, expected: 0.0},
		{name: "max amplitude", samples: []int16{32767, 32767, 32767, 32767}, expected: 1.0},
		{name: "half amplitude", samples: []int16{16384, 16384, 16384, 16384}, expected: 0.5},
		{name: "mixed signal", samples: []int16{16384, -16384, 16384, -16384}, expected: 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CalculateRMSEnergy(pcmOf(tt.samples...))
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("expected RMS %.3f, got %.3f", tt.expected, result)
			}
		})
	}
}

func TestCalculatePeakAmplitude(t *testing.T) {
	if got := CalculatePeakAmplitude(pcmOf(0, -32768, 0)); math.Abs(got-1.0) > 0.01 {
		t.Fatalf("peak=%.3f, want 1.0", got)
	}
	if got := CalculatePeakAmplitude(nil); got != 0 {
		t.Fatalf("peak=%.3f, want 0", got)
	}
}

func TestAudioConfig(t *testing.T) {
	cfg := DefaultAudioConfig()

	// 8kHz, mono, 16-bit = 16000 bytes/second
	if cfg.BytesPerSecond() != 16000 {
		t.Errorf("expected 16000 bytes/sec, got %d", cfg.BytesPerSecond())
	}
	if cfg.BytesForDurationMs(20) != 320 {
		t.Errorf("expected 320 bytes for 20ms, got %d", cfg.BytesForDurationMs(20))
	}
	if cfg.DurationMs(16000) != 1000 {
		t.Errorf("expected 1000ms for 16000 bytes, got %d", cfg.DurationMs(16000))
	}
	if got := cfg.Duration(320); got != 20*time.Millisecond {
		t.Errorf("Duration(320)=%v, want 20ms", got)
	}
}

func TestDecodePCM16_G711(t *testing.T) {
	tests := []struct {
		name     string
		in       byte
		encoding string
		want     int16
	}{
		{name: "mulaw silence", in: 0xFF, encoding: "mulaw", want: 0},
		{name: "mulaw negative max", in: 0x00, encoding: "ulaw", want: -32124},
		{name: "mulaw positive max", in: 0x80, encoding: "PCMU", want: 32124},
		{name: "alaw smallest positive", in: 0xD5, encoding: "alaw", want: 8},
		{name: "alaw negative max", in: 0x2A, encoding: "pcma", want: -32256},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := DecodePCM16([]byte{tt.in}, tt.encoding)
			if len(out) != 2 {
				t.Fatalf("len=%d, want 2", len(out))
			}
			if got := int16(binary.LittleEndian.Uint16(out)); got != tt.want {
				t.Fatalf("decode(0x%02X)=%d, want %d", tt.in, got, tt.want)
			}
		})
	}

	raw := pcmOf(1, 2, 3)
	if got := DecodePCM16(raw, "raw"); &got[0] != &raw[0] {
		t.Fatalf("pcm16 input should pass through unchanged")
	}
}

func TestRingBuffer(t *testing.T) {
	r := newRingBuffer(4)
	r.Write([]byte{1, 2})
	if got := r.Bytes(); string(got) != string([]byte{1, 2}) {
		t.Fatalf("Bytes()=%v, want [1 2]", got)
	}
	r.Write([]byte{3, 4, 5})
	if got := r.Bytes(); string(got) != string([]byte{2, 3, 4, 5}) {
		t.Fatalf("Bytes()=%v, want [2 3 4 5]", got)
	}
	r.Write([]byte{6, 7, 8, 9, 10})
	if got := r.Bytes(); string(got) != string([]byte{7, 8, 9, 10}) {
		t.Fatalf("Bytes()=%v, want [7 8 9 10]", got)
	}
	r.Reset()
	if got := r.Bytes(); len(got) != 0 {
		t.Fatalf("Bytes() after Reset=%v, want empty", got)
	}

	empty := newRingBuffer(0)
	empty.Write([]byte{1})
	if got := empty.Bytes(); len(got) != 0 {
		t.Fatalf("zero-size ring returned %v", got)
	}
}
