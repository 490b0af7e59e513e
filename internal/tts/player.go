package tts

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
	"github.com/faiface/beep/wav"
	"github.com/loqalabs/voiceloop/internal/audio"
)

// BeepPlayer plays clips on the default output device. The speaker is
// initialized on first use; later clips at other rates are resampled.
type BeepPlayer struct {
	speed  float64
	mu     sync.Mutex
	rate   beep.SampleRate
	logger *slog.Logger
}

func NewBeepPlayer(speed float64, logger *slog.Logger) *BeepPlayer {
	if speed <= 0 {
		speed = 1
	}
	return &BeepPlayer{speed: speed, logger: logger.With(slog.String("component", "playback"))}
}

func (p *BeepPlayer) Play(ctx context.Context, clip Audio) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	streamer, format, err := decodeClip(clip)
	if err != nil {
		return err
	}
	defer streamer.Close()

	if p.rate == 0 {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			return fmt.Errorf("init speaker: %w", err)
		}
		p.rate = format.SampleRate
	}

	var s beep.Streamer = streamer
	if p.speed != 1 {
		s = beep.ResampleRatio(4, p.speed, s)
	}
	if format.SampleRate != p.rate {
		s = beep.Resample(4, format.SampleRate, p.rate, s)
	}

	done := make(chan struct{})
	speaker.Play(beep.Seq(s, beep.Callback(func() {
		close(done)
	})))

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		speaker.Clear()
		return ctx.Err()
	}
}

func decodeClip(clip Audio) (beep.StreamCloser, beep.Format, error) {
	switch clip.Format {
	case FormatMP3:
		s, f, err := mp3.Decode(io.NopCloser(bytes.NewReader(clip.Data)))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decode mp3: %w", err)
		}
		return s, f, nil
	case FormatWAV:
		s, f, err := wav.Decode(bytes.NewReader(clip.Data))
		if err != nil {
			return nil, beep.Format{}, fmt.Errorf("decode wav: %w", err)
		}
		return s, f, nil
	default:
		if clip.SampleRate <= 0 || clip.Channels <= 0 {
			return nil, beep.Format{}, fmt.Errorf("pcm clip needs sample rate and channels")
		}
		f := beep.Format{SampleRate: beep.SampleRate(clip.SampleRate), NumChannels: clip.Channels, Precision: 2}
		return newPCMStreamer(clip.Data, clip.Channels), f, nil
	}
}

// pcmStreamer streams little-endian PCM16, mono or interleaved stereo.
type pcmStreamer struct {
	samples  []int16
	channels int
	pos      int
}

func newPCMStreamer(data []byte, channels int) *pcmStreamer {
	return &pcmStreamer{samples: audio.PCMToSamples(data), channels: channels}
}

func (s *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	n := 0
	for n < len(samples) && s.pos+s.channels <= len(s.samples) {
		left := float64(s.samples[s.pos]) / 32768
		right := left
		if s.channels > 1 {
			right = float64(s.samples[s.pos+1]) / 32768
		}
		samples[n] = [2]float64{left, right}
		s.pos += s.channels
		n++
	}
	return n, n > 0
}

func (s *pcmStreamer) Err() error   { return nil }
func (s *pcmStreamer) Close() error { return nil }
