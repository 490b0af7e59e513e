package stt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/voiceloop/internal/audio"
	"github.com/loqalabs/voiceloop/internal/config"
)

// Result is the recognizer output for one fed frame. Only results with Final
// set describe a complete phrase.
type Result struct {
	Text       string
	Final      bool
	Confidence float64
}

// Recognizer consumes capture frames and reports partial or final text.
// Reset drops any hypothesis built from frames fed so far.
type Recognizer interface {
	Feed(ctx context.Context, frame audio.Frame) (Result, error)
	Reset() error
	Close() error
}

// New builds the recognizer selected by cfg.Mode.
func New(ctx context.Context, cfg config.STTConfig, audioCfg config.AudioConfig, logger *slog.Logger) (Recognizer, error) {
	logger = logger.With(slog.String("component", "stt"), slog.String("mode", cfg.Mode))
	switch cfg.Mode {
	case "mock":
		return NewScriptedRecognizer(cfg.Script), nil
	case "vosk":
		return DialVosk(ctx, cfg.Endpoint, audioCfg.SampleRate, logger)
	case "exec":
		seg := NewSegmenter(SegmenterConfig{
			SampleRate:   audioCfg.SampleRate,
			Threshold:    cfg.VADThreshold,
			Quiet:        time.Duration(cfg.QuietMS) * time.Millisecond,
			PreRoll:      time.Duration(cfg.PreRollMS) * time.Millisecond,
			MaxUtterance: time.Duration(cfg.MaxUtteranceMS) * time.Millisecond,
		})
		return NewExecRecognizer(cfg, seg, logger)
	default:
		return nil, fmt.Errorf("unsupported stt mode %q", cfg.Mode)
	}
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
