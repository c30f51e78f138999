package live

import (
	"encoding/binary"
	"math"
	"strings"
)

// Inbound frame encodings.
const (
	EncodingPCM16 = "pcm16"
	EncodingMulaw = "mulaw"
	EncodingAlaw  = "alaw"
)

// NormalizeEncoding maps transport spellings onto the three frame encodings.
// Unknown values are treated as PCM16.
func NormalizeEncoding(enc string) string {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "mulaw", "ulaw", "pcmu", "audio/x-mulaw", "g711_ulaw":
		return EncodingMulaw
	case "alaw", "pcma", "audio/x-alaw", "g711_alaw":
		return EncodingAlaw
	default:
		return EncodingPCM16
	}
}

// DecodePCM16 converts a frame payload to 16-bit signed little-endian PCM.
func DecodePCM16(audio []byte, encoding string) []byte {
	switch NormalizeEncoding(encoding) {
	case EncodingMulaw:
		return decodeG711(audio, mulawToLinear)
	case EncodingAlaw:
		return decodeG711(audio, alawToLinear)
	default:
		return audio
	}
}

func decodeG711(in []byte, conv func(byte) int16) []byte {
	out := make([]byte, len(in)*2)
	for i, b := range in {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(conv(b)))
	}
	return out
}

// ITU-T G.711 mu-law expansion.
func mulawToLinear(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int16(mantissa) << 3) + 0x84) << exponent
	sample -= 0x84
	if sign != 0 {
		return -sample
	}
	return sample
}

// ITU-T G.711 a-law expansion.
func alawToLinear(a byte) int16 {
	a ^= 0x55
	sign := a & 0x80
	exponent := (a >> 4) & 0x07
	mantissa := int16(a & 0x0F)
	var sample int16
	if exponent == 0 {
		sample = (mantissa << 4) + 8
	} else {
		sample = ((mantissa << 4) + 0x108) << (exponent - 1)
	}
	if sign == 0 {
		return -sample
	}
	return sample
}

// CalculateRMSEnergy computes the root-mean-square energy of PCM audio.
// Input is assumed to be 16-bit signed little-endian PCM.
// Returns a value between 0.0 and 1.0.
func CalculateRMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		normalized := float64(int16(binary.LittleEndian.Uint16(pcm[i:]))) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// CalculatePeakAmplitude returns the maximum absolute amplitude in the PCM data,
// between 0.0 and 1.0.
func CalculatePeakAmplitude(pcm []byte) float64 {
	var maxAbs float64
	for i := 0; i+1 < len(pcm); i += 2 {
		// float64 avoids overflow when negating -32768
		abs := math.Abs(float64(int16(binary.LittleEndian.Uint16(pcm[i:]))))
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs / 32768.0
}

// ringBuffer keeps the most recent bytes written to it. It is owned by one
// goroutine.
type ringBuffer struct {
	data     []byte
	writePos int
	filled   int
}

func newRingBuffer(size int) *ringBuffer {
	if size < 0 {
		size = 0
	}
	return &ringBuffer{data: make([]byte, size)}
}

func (r *ringBuffer) Write(p []byte) {
	size := len(r.data)
	if size == 0 {
		return
	}
	if len(p) >= size {
		copy(r.data, p[len(p)-size:])
		r.writePos = 0
		r.filled = size
		return
	}
	for _, b := range p {
		r.data[r.writePos] = b
		r.writePos = (r.writePos + 1) % size
	}
	r.filled = min(r.filled+len(p), size)
}

// Bytes returns the buffered data in chronological order.
func (r *ringBuffer) Bytes() []byte {
	size := len(r.data)
	if r.filled < size {
		out := make([]byte, r.filled)
		copy(out, r.data[:r.filled])
		return out
	}
	out := make([]byte, size)
	n := copy(out, r.data[r.writePos:])
	copy(out[n:], r.data[:r.writePos])
	return out
}

func (r *ringBuffer) Reset() {
	r.writePos = 0
	r.filled = 0
}
