// Package voice drives the listen, classify and respond cycle. A single
// goroutine owns the capture source and the recognizer for the lifetime of
// Run.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/voiceloop/internal/audio"
	"github.com/loqalabs/voiceloop/internal/eventstore"
	"github.com/loqalabs/voiceloop/internal/intent"
	"github.com/loqalabs/voiceloop/internal/protocol"
	"github.com/loqalabs/voiceloop/internal/stt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const journalTimeout = 5 * time.Second

type Loop struct {
	source     audio.Source
	recognizer stt.Recognizer
	turner     Turner
	journal    Journal
	publisher  Publisher
	recorder   *audio.Recorder
	runID      string
	state      atomic.Int32
	logger     *slog.Logger
	turns      metric.Int64Counter
	utterances metric.Int64Counter
}

type Option func(*Loop)

func WithJournal(j Journal) Option {
	return func(l *Loop) { l.journal = j }
}

func WithPublisher(p Publisher) Option {
	return func(l *Loop) { l.publisher = p }
}

// WithRecorder writes the audio behind each triggering utterance to disk.
func WithRecorder(r *audio.Recorder) Option {
	return func(l *Loop) { l.recorder = r }
}

func WithRunID(id string) Option {
	return func(l *Loop) { l.runID = id }
}

func New(source audio.Source, recognizer stt.Recognizer, turner Turner, logger *slog.Logger, opts ...Option) (*Loop, error) {
	if source == nil {
		return nil, errors.New("audio source is nil")
	}
	if recognizer == nil {
		return nil, errors.New("recognizer is nil")
	}
	if turner == nil {
		return nil, errors.New("turner is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	l := &Loop{
		source:     source,
		recognizer: recognizer,
		turner:     turner,
		runID:      uuid.NewString(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logger.With(slog.String("component", "voice"), slog.String("run_id", l.runID))

	meter := otel.Meter("github.com/loqalabs/voiceloop/voice")
	var err error
	if l.turns, err = meter.Int64Counter("voiceloop.turns",
		metric.WithDescription("Completed turns by outcome")); err != nil {
		return nil, fmt.Errorf("create turn counter: %w", err)
	}
	if l.utterances, err = meter.Int64Counter("voiceloop.utterances",
		metric.WithDescription("Finalized non-empty utterances")); err != nil {
		return nil, fmt.Errorf("create utterance counter: %w", err)
	}
	return l, nil
}

func (l *Loop) RunID() string { return l.runID }

func (l *Loop) State() State { return State(l.state.Load()) }

func (l *Loop) setState(s State) {
	l.state.Store(int32(s))
	l.publish(protocol.SubjectState, protocol.StateChange{
		RunID:     l.runID,
		State:     s.String(),
		Timestamp: time.Now().UTC(),
	})
}

// Run listens until the termination phrase is heard or ctx ends, both of
// which return nil. Capture and recognizer failures are returned. The source
// and recognizer are closed on every path.
func (l *Loop) Run(ctx context.Context) error {
	defer l.release()
	l.setState(StateListening)
	l.logger.Info("listening")

	for {
		if ctx.Err() != nil {
			l.logger.Info("shutdown requested")
			return nil
		}

		frame, err := l.source.Read()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("capture: %w", err)
		}
		if l.recorder != nil {
			l.recorder.Append(frame)
		}

		res, err := l.recognizer.Feed(ctx, frame)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recognizer: %w", err)
		}
		if !res.Final {
			continue
		}

		done, err := l.handle(ctx, NewUtterance(res))
		if err != nil || done {
			return err
		}
	}
}

func (l *Loop) handle(ctx context.Context, u Utterance) (bool, error) {
	if u.Empty() {
		if l.recorder != nil {
			l.recorder.Reset()
		}
		return false, nil
	}

	l.logger.Info("heard", slog.String("text", u.Text))
	l.utterances.Add(ctx, 1)
	l.publish(protocol.SubjectTranscript, protocol.Transcript{
		RunID:      l.runID,
		Text:       u.Text,
		Raw:        u.Raw,
		Confidence: u.Confidence,
		Timestamp:  time.Now().UTC(),
	})

	if intent.IsTerminate(u.Raw) {
		l.logger.Info("termination keyword detected")
		return true, nil
	}
	if !intent.IsTrigger(u.Text) {
		if l.recorder != nil {
			l.recorder.Reset()
		}
		return false, nil
	}

	l.setState(StateProcessingTurn)
	l.runTurn(ctx, u)

	// Audio captured while the turn ran, including our own playback, is
	// dropped.
	if err := l.source.Discard(); err != nil {
		return false, fmt.Errorf("capture: %w", err)
	}
	if err := l.recognizer.Reset(); err != nil {
		return false, fmt.Errorf("recognizer: %w", err)
	}
	l.setState(StateListening)
	return false, nil
}

func (l *Loop) runTurn(ctx context.Context, u Utterance) {
	turnID := uuid.NewString()
	i := intent.Classify(u.Text)

	if l.recorder != nil {
		if _, err := l.recorder.Flush(turnID); err != nil {
			l.logger.Warn("utterance dump failed", slogError(err))
		}
	}

	res := l.turner.RunTurn(ctx, i, u.Text)
	l.turns.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent", i.String()),
		attribute.String("outcome", res.Outcome.String())))

	rec := eventstore.TurnRecord{
		TurnID:    turnID,
		RunID:     l.runID,
		Utterance: u.Text,
		Intent:    i.String(),
		Outcome:   res.Outcome.String(),
		Reply:     res.Reply,
		Latency:   res.Latency,
		CreatedAt: time.Now().UTC(),
	}
	if l.journal != nil {
		// A turn cut short by shutdown is still journaled.
		jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
		err := l.journal.AppendTurn(jctx, rec)
		cancel()
		if err != nil {
			l.logger.Warn("journal turn failed", slog.String("turn_id", turnID), slogError(err))
		}
	}
	l.publish(protocol.SubjectTurn, protocol.TurnEvent{
		TurnID:    rec.TurnID,
		RunID:     rec.RunID,
		Utterance: rec.Utterance,
		Intent:    rec.Intent,
		Outcome:   rec.Outcome,
		Reply:     rec.Reply,
		LatencyMS: rec.Latency.Milliseconds(),
		Timestamp: rec.CreatedAt,
	})
}

func (l *Loop) publish(subject string, v any) {
	if l.publisher == nil {
		return
	}
	if err := l.publisher.PublishJSON(subject, v); err != nil {
		l.logger.Warn("publish failed", slog.String("subject", subject), slogError(err))
	}
}

func (l *Loop) release() {
	if err := l.recognizer.Close(); err != nil {
		l.logger.Warn("recognizer close failed", slogError(err))
	}
	if err := l.source.Close(); err != nil {
		l.logger.Warn("capture close failed", slogError(err))
	}
	l.setState(StateTerminated)
	l.logger.Info("loop stopped")
}

func slogError(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
