package tts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/voiceloop/internal/config"
)

// Voice speaks reply text by synthesizing it and playing the clip.
type Voice struct {
	synth  Synthesizer
	player Player
	logger *slog.Logger
}

func NewVoice(synth Synthesizer, player Player, logger *slog.Logger) *Voice {
	return &Voice{synth: synth, player: player, logger: logger.With(slog.String("component", "tts"))}
}

// New builds the synthesizer selected by cfg.Mode and, unless playback is
// disabled, a speaker-backed player.
func New(cfg config.TTSConfig, logger *slog.Logger) (*Voice, error) {
	var synth Synthesizer
	switch cfg.Mode {
	case "mock":
		synth = NewSilentSynth(cfg.SampleRate, 200*time.Millisecond)
	case "translate":
		synth = NewTranslateSynth(cfg.Endpoint, cfg.Language)
	case "exec":
		s, err := NewExecSynth(cfg.Command, cfg.Voice, cfg.SampleRate, cfg.Channels)
		if err != nil {
			return nil, err
		}
		synth = s
	default:
		return nil, fmt.Errorf("unsupported tts mode %q", cfg.Mode)
	}

	var player Player = DiscardPlayer{}
	if cfg.Playback {
		player = NewBeepPlayer(cfg.Speed, logger)
	}
	return NewVoice(synth, player, logger), nil
}

func (v *Voice) Speak(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	start := time.Now()
	clip, err := v.synth.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	if err := v.player.Play(ctx, clip); err != nil {
		return fmt.Errorf("play: %w", err)
	}
	v.logger.Debug("reply spoken",
		slog.String("format", clip.Format.String()),
		slog.Int("bytes", len(clip.Data)),
		slog.Duration("elapsed", time.Since(start)))
	return nil
}

// SilentSynth returns a fixed length of silence for any text.
type SilentSynth struct {
	sampleRate int
	length     time.Duration
}

func NewSilentSynth(sampleRate int, length time.Duration) *SilentSynth {
	return &SilentSynth{sampleRate: sampleRate, length: length}
}

func (s *SilentSynth) Synthesize(ctx context.Context, _ string) (Audio, error) {
	if err := ctx.Err(); err != nil {
		return Audio{}, err
	}
	samples := int(s.length.Seconds() * float64(s.sampleRate))
	return Audio{Format: FormatPCM, Data: make([]byte, samples*2), SampleRate: s.sampleRate, Channels: 1}, nil
}

// DiscardPlayer drops clips without touching an output device.
type DiscardPlayer struct{}

func (DiscardPlayer) Play(ctx context.Context, _ Audio) error { return ctx.Err() }
