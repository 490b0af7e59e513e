// Package audio owns the capture side of the loop: fixed-size PCM16 mono
// frames read from an input device, plus small helpers for buffering and
// writing them out as WAV.
package audio

import (
	"encoding/binary"
	"time"
)

// Frame is one blocking read from the capture device.
type Frame struct {
	Sequence   int
	SampleRate int
	Samples    []int16
	CapturedAt time.Time
}

// PCM returns the samples as little-endian PCM16 bytes.
func (f Frame) PCM() []byte {
	return SamplesToPCM(f.Samples)
}

func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(f.Samples)) * time.Second / time.Duration(f.SampleRate)
}

func SamplesToPCM(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCMToSamples decodes little-endian PCM16. A trailing odd byte is ignored.
func PCMToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

// Source produces frames. Read blocks until a full frame is available.
// Discard drops whatever the device has buffered since the last read.
type Source interface {
	Read() (Frame, error)
	Discard() error
	Close() error
}
