package stt

import (
	"context"

	"github.com/loqalabs/voiceloop/internal/audio"
)

// ScriptedRecognizer finalizes one scripted phrase per fed frame. Once the
// script runs out every frame yields an empty partial result.
type ScriptedRecognizer struct {
	script []string
	next   int
	resets int
}

func NewScriptedRecognizer(script []string) *ScriptedRecognizer {
	return &ScriptedRecognizer{script: append([]string(nil), script...)}
}

func (r *ScriptedRecognizer) Feed(_ context.Context, _ audio.Frame) (Result, error) {
	if r.next >= len(r.script) {
		return Result{}, nil
	}
	text := r.script[r.next]
	r.next++
	return Result{Text: text, Final: true, Confidence: 1}, nil
}

func (r *ScriptedRecognizer) Reset() error {
	r.resets++
	return nil
}

// Resets reports how many times Reset was called.
func (r *ScriptedRecognizer) Resets() int { return r.resets }

func (r *ScriptedRecognizer) Close() error { return nil }
