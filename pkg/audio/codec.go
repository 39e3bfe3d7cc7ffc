// Package audio implements the PCM16 wire codec, gapless playback
// scheduling, and microphone capture used by realtime sessions.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/hellohealthy/atlas/pkg/core"
)

// Buffer holds normalized float samples, one slice per channel.
type Buffer struct {
	Channels   [][]float32
	SampleRate int
}

// Duration returns the playback length of the buffer.
func (b *Buffer) Duration() time.Duration {
	if b == nil || len(b.Channels) == 0 || b.SampleRate <= 0 {
		return 0
	}
	frames := len(b.Channels[0])
	return time.Duration(float64(frames) / float64(b.SampleRate) * float64(time.Second))
}

// Seconds returns the playback length in seconds.
func (b *Buffer) Seconds() float64 {
	if b == nil || len(b.Channels) == 0 || b.SampleRate <= 0 {
		return 0
	}
	return float64(len(b.Channels[0])) / float64(b.SampleRate)
}

// EncodePCM16 packs normalized float samples into little-endian 16-bit PCM.
// Each sample is scaled by 32768 and truncated to int16. Out-of-range input
// wraps rather than clips; callers are expected to provide samples in
// [-1, 1].
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := int16(int32(s * 32768))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// DecodePCM16 unpacks little-endian 16-bit PCM into normalized float
// samples, deinterleaving into one slice per channel. Odd-length input is
// rejected with a format error rather than truncated.
func DecodePCM16(data []byte, sampleRate, channels int) (*Buffer, error) {
	if channels <= 0 {
		return nil, core.NewFormatError(fmt.Sprintf("pcm16 channel count must be positive, got %d", channels))
	}
	if sampleRate <= 0 {
		return nil, core.NewFormatError(fmt.Sprintf("pcm16 sample rate must be positive, got %d", sampleRate))
	}
	if len(data)%2 != 0 {
		return nil, core.NewFormatError(fmt.Sprintf("pcm16 payload length %d is not a multiple of 2", len(data)))
	}
	totalSamples := len(data) / 2
	if totalSamples%channels != 0 {
		return nil, core.NewFormatError(fmt.Sprintf("pcm16 payload of %d samples does not divide into %d channels", totalSamples, channels))
	}

	frames := totalSamples / channels
	buf := &Buffer{
		Channels:   make([][]float32, channels),
		SampleRate: sampleRate,
	}
	for c := range buf.Channels {
		buf.Channels[c] = make([]float32, frames)
	}
	for i := 0; i < totalSamples; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		buf.Channels[i%channels][i/channels] = float32(v) / 32768.0
	}
	return buf, nil
}

// EncodeBase64 encodes raw bytes with standard base64, no line wrapping.
func EncodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// DecodeBase64 decodes standard base64 text.
func DecodeBase64(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, core.NewDecodeError("malformed base64 payload", err)
	}
	return data, nil
}
