package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/loqalabs/voiceloop/internal/audio"
	"github.com/loqalabs/voiceloop/internal/config"
	"github.com/mattn/go-shellwords"
)

// ExecRecognizer segments the frame stream locally and transcribes each
// segment by running an external command on a temporary WAV file. The
// command prints {"text": ..., "confidence": ...} on stdout.
type ExecRecognizer struct {
	cmd        []string
	cfg        config.STTConfig
	segmenter  *Segmenter
	sampleRate int
	logger     *slog.Logger
}

type execResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

func NewExecRecognizer(cfg config.STTConfig, seg *Segmenter, logger *slog.Logger) (*ExecRecognizer, error) {
	args, err := shellwords.NewParser().Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse stt command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("stt command is empty")
	}
	return &ExecRecognizer{
		cmd:        args,
		cfg:        cfg,
		segmenter:  seg,
		sampleRate: seg.cfg.SampleRate,
		logger:     logger,
	}, nil
}

func (r *ExecRecognizer) Feed(ctx context.Context, frame audio.Frame) (Result, error) {
	segment, done := r.segmenter.Push(frame)
	if !done {
		return Result{}, nil
	}
	return r.transcribe(ctx, segment)
}

func (r *ExecRecognizer) transcribe(ctx context.Context, samples []int16) (Result, error) {
	file, err := os.CreateTemp("", "voiceloop_stt_*.wav")
	if err != nil {
		return Result{}, fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := audio.WriteWAV(file, samples, r.sampleRate, 1); err != nil {
		return Result{}, err
	}

	args := append([]string{}, r.cmd[1:]...)
	args = append(args, "--audio", file.Name())
	if r.cfg.ModelPath != "" {
		args = append(args, "--model", r.cfg.ModelPath)
	}
	if r.cfg.Language != "" {
		args = append(args, "--language", r.cfg.Language)
	}

	command := exec.CommandContext(ctx, r.cmd[0], args...)
	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		return Result{}, fmt.Errorf("stt command failed: %w: %s", err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return Result{}, fmt.Errorf("decode stt response: %w", err)
	}
	r.logger.Debug("segment transcribed", slog.Int("samples", len(samples)))
	return Result{Text: resp.Text, Final: true, Confidence: resp.Confidence}, nil
}

func (r *ExecRecognizer) Reset() error {
	r.segmenter.Reset()
	return nil
}

func (r *ExecRecognizer) Close() error { return nil }
