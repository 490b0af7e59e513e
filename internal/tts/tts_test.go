package tts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/loqalabs/voiceloop/internal/config"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSplitTextRespectsLimit(t *testing.T) {
	text := "Meow, recruit. Your mission today is to spin around three times and then " +
		"salute the nearest houseplant with unwavering feline valor! Report back at dusk."
	chunks := SplitText(text, 40)
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks, got %v", chunks)
	}
	for _, c := range chunks {
		if utf8.RuneCountInString(c) > 40 {
			t.Fatalf("chunk over limit: %q", c)
		}
		if c != strings.TrimSpace(c) || c == "" {
			t.Fatalf("chunk not trimmed: %q", c)
		}
	}
	if got := strings.Join(chunks, " "); strings.Join(strings.Fields(got), " ") != strings.Join(strings.Fields(text), " ") {
		t.Fatalf("chunks lost text: %q", got)
	}
}

func TestSplitTextCutsLongWords(t *testing.T) {
	chunks := SplitText(strings.Repeat("a", 25), 10)
	if len(chunks) != 3 || chunks[0] != strings.Repeat("a", 10) || chunks[2] != "aaaaa" {
		t.Fatalf("unexpected chunks %v", chunks)
	}
	if len(SplitText("   ", 10)) != 0 {
		t.Fatal("expected no chunks for blank text")
	}
}

func TestTranslateSynthFetchesChunks(t *testing.T) {
	var (
		mu      sync.Mutex
		queries []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		queries = append(queries, r.URL.Query().Get("q"))
		mu.Unlock()
		if r.URL.Query().Get("client") != "tw-ob" || r.URL.Query().Get("tl") != "en" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte("ID3"))
	}))
	t.Cleanup(srv.Close)

	s := NewTranslateSynth(srv.URL, "en")
	clip, err := s.Synthesize(context.Background(), "First sentence here. Second one follows.")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if clip.Format != FormatMP3 || string(clip.Data) != "ID3ID3" {
		t.Fatalf("unexpected clip %v %q", clip.Format, clip.Data)
	}
	if len(queries) != 2 || queries[0] != "First sentence here." {
		t.Fatalf("unexpected queries %v", queries)
	}
}

func TestTranslateSynthStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(srv.Close)

	if _, err := NewTranslateSynth(srv.URL, "en").Synthesize(context.Background(), "hello"); err == nil {
		t.Fatal("expected error on non-200 status")
	}
}

func TestExecSynthCollectsChunks(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "synth.sh")
	body := "#!/bin/sh\ncat >/dev/null\n" +
		"echo '{\"pcm_base64\":\"AAEC\",\"final\":false}'\n" +
		"echo '{\"pcm_base64\":\"AwQ=\",\"final\":true}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}

	s, err := NewExecSynth(script, "default", 22050, 1)
	if err != nil {
		t.Fatalf("new exec synth: %v", err)
	}
	clip, err := s.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if clip.Format != FormatPCM || clip.SampleRate != 22050 || len(clip.Data) != 5 {
		t.Fatalf("unexpected clip %+v", clip)
	}
}

func TestPCMStreamer(t *testing.T) {
	// two mono samples: 0x4000 (0.5) and 0xC000 (-0.5)
	s := newPCMStreamer([]byte{0x00, 0x40, 0x00, 0xC0}, 1)
	buf := make([][2]float64, 4)
	n, ok := s.Stream(buf)
	if !ok || n != 2 {
		t.Fatalf("expected 2 samples, got %d ok=%v", n, ok)
	}
	if buf[0] != [2]float64{0.5, 0.5} || buf[1] != [2]float64{-0.5, -0.5} {
		t.Fatalf("unexpected samples %v", buf[:2])
	}
	if n, ok := s.Stream(buf); ok || n != 0 {
		t.Fatal("expected drained streamer")
	}
}

type fakeSynth struct {
	err error
}

func (f fakeSynth) Synthesize(_ context.Context, text string) (Audio, error) {
	return Audio{Format: FormatPCM, Data: []byte(text), SampleRate: 8000, Channels: 1}, f.err
}

type fakePlayer struct {
	played []Audio
	err    error
}

func (p *fakePlayer) Play(_ context.Context, clip Audio) error {
	p.played = append(p.played, clip)
	return p.err
}

func TestVoiceSpeak(t *testing.T) {
	player := &fakePlayer{}
	v := NewVoice(fakeSynth{}, player, newLogger())
	if err := v.Speak(context.Background(), "  hello  "); err != nil {
		t.Fatalf("speak: %v", err)
	}
	if len(player.played) != 1 || string(player.played[0].Data) != "hello" {
		t.Fatalf("unexpected playback %+v", player.played)
	}
	if err := v.Speak(context.Background(), "   "); err != nil || len(player.played) != 1 {
		t.Fatal("expected blank text to be skipped")
	}
}

func TestVoiceSpeakErrors(t *testing.T) {
	boom := errors.New("boom")
	if err := NewVoice(fakeSynth{err: boom}, &fakePlayer{}, newLogger()).Speak(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected synth error, got %v", err)
	}
	if err := NewVoice(fakeSynth{}, &fakePlayer{err: boom}, newLogger()).Speak(context.Background(), "x"); !errors.Is(err, boom) {
		t.Fatalf("expected player error, got %v", err)
	}
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := config.Default().TTS
	cfg.Mode = "mock"
	cfg.Playback = false
	v, err := New(cfg, newLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := v.Speak(context.Background(), "meow"); err != nil {
		t.Fatalf("speak: %v", err)
	}
	cfg.Mode = "carrier-pigeon"
	if _, err := New(cfg, newLogger()); err == nil {
		t.Fatal("expected error for unknown mode")
	}
}
