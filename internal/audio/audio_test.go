package audio

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

func TestRingBufferKeepsNewestSamples(t *testing.T) {
	r := NewRingBuffer(4)
	r.Add([]int16{1, 2, 3})
	if got := r.Read(); !equal(got, []int16{1, 2, 3}) {
		t.Fatalf("unexpected partial read %v", got)
	}
	r.Add([]int16{4, 5, 6})
	if got := r.Read(); !equal(got, []int16{3, 4, 5, 6}) {
		t.Fatalf("unexpected wrapped read %v", got)
	}
	if r.Len() != 4 {
		t.Fatalf("expected len 4, got %d", r.Len())
	}
	r.Clear()
	if r.Len() != 0 || len(r.Read()) != 0 {
		t.Fatal("expected empty buffer after clear")
	}
}

func TestPCMConversion(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768}
	pcm := SamplesToPCM(samples)
	if len(pcm) != 10 {
		t.Fatalf("expected 10 bytes, got %d", len(pcm))
	}
	if !bytes.Equal(pcm[4:6], []byte{0xff, 0xff}) {
		t.Fatalf("unexpected encoding of -1: %v", pcm[4:6])
	}
	if got := PCMToSamples(append(pcm, 0x7f)); !equal(got, samples) {
		t.Fatalf("unexpected decode %v", got)
	}
}

func TestFrameDuration(t *testing.T) {
	f := Frame{SampleRate: 16000, Samples: make([]int16, 4096)}
	if got := f.Duration(); got != 256*time.Millisecond {
		t.Fatalf("unexpected duration %s", got)
	}
	if (Frame{}).Duration() != 0 {
		t.Fatal("expected zero duration without a sample rate")
	}
}

func TestRecorderFlushWritesWAV(t *testing.T) {
	fs := afero.NewMemMapFs()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	rec, err := NewRecorder(fs, "/dumps", 16000, time.Second, logger)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	rec.Append(Frame{SampleRate: 16000, Samples: make([]int16, 800)})
	rec.Append(Frame{SampleRate: 16000, Samples: make([]int16, 800)})
	path, err := rec.Flush("turn-1")
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if path != "/dumps/turn-1.wav" {
		t.Fatalf("unexpected path %q", path)
	}

	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		t.Fatal("expected a valid wav file")
	}
	if dec.SampleRate != 16000 || dec.NumChans != 1 || dec.BitDepth != 16 {
		t.Fatalf("unexpected header rate=%d chans=%d depth=%d", dec.SampleRate, dec.NumChans, dec.BitDepth)
	}

	if path, err := rec.Flush("turn-2"); err != nil || path != "" {
		t.Fatalf("expected empty flush to be a no-op, got %q %v", path, err)
	}
}

func TestRecorderResetDropsAudio(t *testing.T) {
	fs := afero.NewMemMapFs()
	rec, err := NewRecorder(fs, "dumps", 8000, time.Second, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	rec.Append(Frame{Samples: []int16{1, 2, 3}})
	rec.Reset()
	if path, _ := rec.Flush("x"); path != "" {
		t.Fatalf("expected nothing written after reset, got %q", path)
	}
}

func equal(a, b []int16) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
