package audio

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/loqalabs/voiceloop/internal/config"
)

// PortAudioSource reads from the default input device.
type PortAudioSource struct {
	stream     *portaudio.Stream
	in         []int16
	sampleRate int
	sequence   int
	closed     bool
	logger     *slog.Logger
}

func OpenPortAudio(cfg config.AudioConfig, logger *slog.Logger) (*PortAudioSource, error) {
	if cfg.Channels != 1 {
		return nil, errors.New("only mono capture is supported")
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize portaudio: %w", err)
	}

	device, err := portaudio.DefaultInputDevice()
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("default input device: %w", err)
	}

	in := make([]int16, cfg.FrameSamples)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.DeviceBufferFrames,
	}
	stream, err := portaudio.OpenStream(params, in)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("start input stream: %w", err)
	}

	logger = logger.With(slog.String("component", "capture"))
	logger.Info("capture stream opened",
		slog.String("device", device.Name),
		slog.Int("sample_rate", cfg.SampleRate),
		slog.Int("frame_samples", cfg.FrameSamples))

	return &PortAudioSource{
		stream:     stream,
		in:         in,
		sampleRate: cfg.SampleRate,
		logger:     logger,
	}, nil
}

func (s *PortAudioSource) Read() (Frame, error) {
	if s.closed {
		return Frame{}, errors.New("capture stream closed")
	}
	if err := s.stream.Read(); err != nil {
		return Frame{}, fmt.Errorf("read capture stream: %w", err)
	}
	samples := make([]int16, len(s.in))
	copy(samples, s.in)
	s.sequence++
	return Frame{
		Sequence:   s.sequence,
		SampleRate: s.sampleRate,
		Samples:    samples,
		CapturedAt: time.Now(),
	}, nil
}

// Discard restarts the stream, which drops any input buffered on the host.
func (s *PortAudioSource) Discard() error {
	if s.closed {
		return nil
	}
	if err := s.stream.Stop(); err != nil {
		return fmt.Errorf("stop capture stream: %w", err)
	}
	if err := s.stream.Start(); err != nil {
		return fmt.Errorf("restart capture stream: %w", err)
	}
	return nil
}

func (s *PortAudioSource) Close() error {
	if s == nil || s.closed {
		return nil
	}
	s.closed = true
	var errs []error
	if err := s.stream.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := s.stream.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, err)
	}
	s.logger.Info("capture stream released")
	return errors.Join(errs...)
}
