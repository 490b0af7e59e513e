package voice

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/voiceloop/internal/audio"
	"github.com/loqalabs/voiceloop/internal/completion"
	"github.com/loqalabs/voiceloop/internal/eventstore"
	"github.com/loqalabs/voiceloop/internal/intent"
	"github.com/loqalabs/voiceloop/internal/protocol"
	"github.com/loqalabs/voiceloop/internal/stt"
	"github.com/spf13/afero"
)

var errUnplugged = errors.New("device unplugged")

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeSource struct {
	frames   int
	reads    int
	discards int
	closed   int
}

func (s *fakeSource) Read() (audio.Frame, error) {
	if s.reads >= s.frames {
		return audio.Frame{}, errUnplugged
	}
	s.reads++
	return audio.Frame{Sequence: s.reads, SampleRate: 16000, Samples: make([]int16, 160)}, nil
}

func (s *fakeSource) Discard() error {
	s.discards++
	return nil
}

func (s *fakeSource) Close() error {
	s.closed++
	return nil
}

type turnCall struct {
	intent intent.Intent
	text   string
	state  State
}

type fakeTurner struct {
	loop  *Loop
	calls []turnCall
}

func (f *fakeTurner) RunTurn(_ context.Context, i intent.Intent, text string) completion.Result {
	call := turnCall{intent: i, text: text}
	if f.loop != nil {
		call.state = f.loop.State()
	}
	f.calls = append(f.calls, call)
	return completion.Result{Intent: i, Outcome: completion.OutcomeSpoken, Reply: "Meow.", Latency: 20 * time.Millisecond}
}

type fakeJournal struct {
	records []eventstore.TurnRecord
	ctxErrs []error
}

func (j *fakeJournal) AppendTurn(ctx context.Context, rec eventstore.TurnRecord) error {
	j.ctxErrs = append(j.ctxErrs, ctx.Err())
	if ctx.Err() != nil {
		return ctx.Err()
	}
	j.records = append(j.records, rec)
	return nil
}

// cancellingTurner simulates a shutdown signal arriving mid-turn.
type cancellingTurner struct {
	cancel context.CancelFunc
}

func (c *cancellingTurner) RunTurn(_ context.Context, i intent.Intent, _ string) completion.Result {
	c.cancel()
	return completion.Result{Intent: i, Outcome: completion.OutcomeAPIError, Latency: time.Second}
}

type fakePublisher struct {
	subjects []string
	payloads []any
}

func (p *fakePublisher) PublishJSON(subject string, v any) error {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, v)
	return nil
}

func (p *fakePublisher) count(subject string) int {
	n := 0
	for _, s := range p.subjects {
		if s == subject {
			n++
		}
	}
	return n
}

type failingRecognizer struct {
	closed bool
}

func (r *failingRecognizer) Feed(context.Context, audio.Frame) (stt.Result, error) {
	return stt.Result{}, errors.New("model crashed")
}
func (r *failingRecognizer) Reset() error { return nil }
func (r *failingRecognizer) Close() error { r.closed = true; return nil }

type harness struct {
	source     *fakeSource
	recognizer *stt.ScriptedRecognizer
	turner     *fakeTurner
	journal    *fakeJournal
	publisher  *fakePublisher
	loop       *Loop
}

func newHarness(t *testing.T, frames int, script []string, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		source:     &fakeSource{frames: frames},
		recognizer: stt.NewScriptedRecognizer(script),
		turner:     &fakeTurner{},
		journal:    &fakeJournal{},
		publisher:  &fakePublisher{},
	}
	opts = append([]Option{WithJournal(h.journal), WithPublisher(h.publisher), WithRunID("run-test")}, opts...)
	loop, err := New(h.source, h.recognizer, h.turner, newLogger(), opts...)
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	h.turner.loop = loop
	h.loop = loop
	return h
}

func TestTerminateStopsWithoutTurn(t *testing.T) {
	h := newHarness(t, 10, []string{"please TERMINATE now"})
	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("expected clean exit, got %v", err)
	}
	if len(h.turner.calls) != 0 {
		t.Fatalf("expected no turn, got %+v", h.turner.calls)
	}
	if h.source.closed != 1 {
		t.Fatalf("expected capture released once, got %d", h.source.closed)
	}
	if h.loop.State() != StateTerminated {
		t.Fatalf("expected TERMINATED, got %s", h.loop.State())
	}
}

func TestTerminateWinsOverTrigger(t *testing.T) {
	h := newHarness(t, 10, []string{"give me my mission then terminate"})
	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.turner.calls) != 0 {
		t.Fatal("expected termination before any turn")
	}
}

func TestEmptyUtteranceHasNoSideEffects(t *testing.T) {
	h := newHarness(t, 2, []string{"", "   "})
	err := h.loop.Run(context.Background())
	if !errors.Is(err, errUnplugged) {
		t.Fatalf("expected capture error after script, got %v", err)
	}
	if len(h.turner.calls) != 0 || len(h.journal.records) != 0 {
		t.Fatal("expected no turn and no journal entry")
	}
	if h.publisher.count(protocol.SubjectTranscript) != 0 {
		t.Fatal("expected no transcript published")
	}
	if h.source.discards != 0 || h.recognizer.Resets() != 0 {
		t.Fatal("expected no discard or reset")
	}
}

func TestTriggerRunsTurnAndDropsAudio(t *testing.T) {
	h := newHarness(t, 10, []string{"!Give me my mission", "terminate"})
	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(h.turner.calls) != 1 {
		t.Fatalf("expected one turn, got %d", len(h.turner.calls))
	}
	call := h.turner.calls[0]
	if call.intent != intent.MissionRequest || call.text != "give me my mission" {
		t.Fatalf("unexpected turn %+v", call)
	}
	if call.state != StateProcessingTurn {
		t.Fatalf("expected PROCESSING_TURN during turn, got %s", call.state)
	}
	if h.source.discards != 1 || h.recognizer.Resets() != 1 {
		t.Fatalf("expected audio dropped after turn, discards=%d resets=%d", h.source.discards, h.recognizer.Resets())
	}

	if len(h.journal.records) != 1 {
		t.Fatalf("expected one journal record, got %d", len(h.journal.records))
	}
	rec := h.journal.records[0]
	if rec.RunID != "run-test" || rec.Intent != "MISSION_REQUEST" || rec.Outcome != "spoken" || rec.TurnID == "" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if h.publisher.count(protocol.SubjectTurn) != 1 || h.publisher.count(protocol.SubjectTranscript) != 2 {
		t.Fatalf("unexpected publications %v", h.publisher.subjects)
	}
}

func TestNonTriggerIsDiscarded(t *testing.T) {
	h := newHarness(t, 10, []string{"hello there kitty", "terminate"})
	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(h.turner.calls) != 0 || h.source.discards != 0 {
		t.Fatal("expected non-trigger utterance to be discarded")
	}
	if h.publisher.count(protocol.SubjectTranscript) != 2 {
		t.Fatalf("expected heard utterances published, got %v", h.publisher.subjects)
	}
}

func TestCaptureErrorIsFatalAndReleases(t *testing.T) {
	h := newHarness(t, 0, nil)
	err := h.loop.Run(context.Background())
	if !errors.Is(err, errUnplugged) || !strings.Contains(err.Error(), "capture") {
		t.Fatalf("expected wrapped capture error, got %v", err)
	}
	if h.source.closed != 1 || h.loop.State() != StateTerminated {
		t.Fatal("expected capture released and loop terminated")
	}
}

func TestRecognizerErrorIsFatal(t *testing.T) {
	source := &fakeSource{frames: 5}
	rec := &failingRecognizer{}
	loop, err := New(source, rec, &fakeTurner{}, newLogger())
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	if err := loop.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "recognizer") {
		t.Fatalf("expected recognizer error, got %v", err)
	}
	if source.closed != 1 || !rec.closed {
		t.Fatal("expected capture and recognizer released")
	}
}

func TestCancelledContextTerminatesCleanly(t *testing.T) {
	h := newHarness(t, 10, []string{"valor and chill"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := h.loop.Run(ctx); err != nil {
		t.Fatalf("expected nil on cancellation, got %v", err)
	}
	if h.source.reads != 0 || h.source.closed != 1 {
		t.Fatalf("expected no reads and a release, reads=%d closed=%d", h.source.reads, h.source.closed)
	}
}

func TestTurnInterruptedByShutdownIsJournaled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	source := &fakeSource{frames: 10}
	journal := &fakeJournal{}
	loop, err := New(source, stt.NewScriptedRecognizer([]string{"valor and chill"}), &cancellingTurner{cancel: cancel},
		newLogger(), WithJournal(journal), WithRunID("run-test"))
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	if err := loop.Run(ctx); err != nil {
		t.Fatalf("expected clean exit on cancel, got %v", err)
	}
	if len(journal.ctxErrs) != 1 || journal.ctxErrs[0] != nil {
		t.Fatalf("expected journal context still live, got %v", journal.ctxErrs)
	}
	if len(journal.records) != 1 || journal.records[0].Outcome != "api_error" {
		t.Fatalf("expected interrupted turn journaled, got %+v", journal.records)
	}
}

func TestRecorderDumpsTriggeringUtterance(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec, err := audio.NewRecorder(fs, "dumps", 16000, time.Second, newLogger())
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	h := newHarness(t, 10, []string{"hello", "what do i do", "terminate"}, WithRecorder(rec))
	if err := h.loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	entries, err := afero.ReadDir(fs, "dumps")
	if err != nil {
		t.Fatalf("read dumps: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != h.journal.records[0].TurnID+".wav" {
		t.Fatalf("expected one dump named after the turn, got %v", entries)
	}
}

func TestStateString(t *testing.T) {
	if StateListening.String() != "LISTENING" || !StateProcessingTurn.Active() || StateTerminated.Active() {
		t.Fatal("unexpected state helpers")
	}
}
