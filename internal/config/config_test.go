package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setCredentials(t *testing.T) {
	t.Helper()
	t.Setenv("VOICELOOP_COMPLETION_ENDPOINT", "https://openrouter.example/api/v1/chat/completions")
	t.Setenv("VOICELOOP_COMPLETION_API_KEY", "sk-test")
}

// blank values are ignored by the override helpers
func clearCredentials(t *testing.T) {
	t.Helper()
	for _, key := range []string{"VOICELOOP_COMPLETION_ENDPOINT", "VOICELOOP_COMPLETION_API_KEY", "OPENROUTER_URL", "OPENROUTER_KEY"} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	setCredentials(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Completion.MaxAttempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", cfg.Completion.MaxAttempts)
	}
	if cfg.Completion.BaseDelayMS != 1000 {
		t.Fatalf("expected 1000ms base delay, got %d", cfg.Completion.BaseDelayMS)
	}
	if cfg.Audio.SampleRate != 16000 || cfg.Audio.FrameSamples != 4096 {
		t.Fatalf("unexpected audio defaults: %+v", cfg.Audio)
	}
}

func TestLoadFailsWithoutCredentials(t *testing.T) {
	clearCredentials(t)

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when completion endpoint is missing")
	}
	if !strings.Contains(err.Error(), "completion.endpoint") {
		t.Fatalf("expected endpoint error, got %v", err)
	}

	t.Setenv("OPENROUTER_URL", "https://openrouter.example")
	_, err = Load("")
	if err == nil || !strings.Contains(err.Error(), "completion.api_key") {
		t.Fatalf("expected api key error, got %v", err)
	}
}

func TestLegacyEnvNames(t *testing.T) {
	clearCredentials(t)
	t.Setenv("OPENROUTER_URL", "https://legacy.example/chat")
	t.Setenv("OPENROUTER_KEY", "legacy-key")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Completion.Endpoint != "https://legacy.example/chat" || cfg.Completion.APIKey != "legacy-key" {
		t.Fatalf("legacy variables not applied: %+v", cfg.Completion)
	}
}

func TestEnvOverrides(t *testing.T) {
	setCredentials(t)
	t.Setenv("VOICELOOP_COMPLETION_MAX_ATTEMPTS", "5")
	t.Setenv("VOICELOOP_COMPLETION_BASE_DELAY_MS", "250")
	t.Setenv("VOICELOOP_COMPLETION_ATTEMPT_TIMEOUT_MS", "4000")
	t.Setenv("VOICELOOP_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("VOICELOOP_BUS_ENABLED", "true")
	t.Setenv("VOICELOOP_BUS_EMBEDDED", "false")
	t.Setenv("VOICELOOP_STT_MODE", "exec")
	t.Setenv("VOICELOOP_STT_COMMAND", "whisper-cli --json")
	t.Setenv("VOICELOOP_TTS_SPEED", "1.0")
	t.Setenv("VOICELOOP_EVENT_STORE_MAX_RUNS", "12")
	t.Setenv("VOICELOOP_PERSONA_GENERIC", "You are terse.")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Completion.MaxAttempts != 5 || cfg.Completion.BaseDelayMS != 250 || cfg.Completion.AttemptTimeoutMS != 4000 {
		t.Fatalf("retry overrides not applied: %+v", cfg.Completion)
	}
	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if !cfg.Bus.Enabled || cfg.Bus.Embedded {
		t.Fatalf("expected external bus, got %+v", cfg.Bus)
	}
	if cfg.STT.Mode != "exec" || cfg.STT.Command != "whisper-cli --json" {
		t.Fatalf("stt overrides not applied: %+v", cfg.STT)
	}
	if cfg.TTS.Speed != 1.0 {
		t.Fatalf("expected speed 1.0, got %v", cfg.TTS.Speed)
	}
	if cfg.EventStore.MaxRuns != 12 {
		t.Fatalf("expected max runs 12, got %d", cfg.EventStore.MaxRuns)
	}
	if cfg.Personas.Generic != "You are terse." {
		t.Fatalf("persona override not applied")
	}
}

func TestLoadYAML(t *testing.T) {
	setCredentials(t)
	path := filepath.Join(t.TempDir(), "voiceloop.yaml")
	data := []byte(`
completion:
  model: openai/gpt-4o-mini
  max_attempts: 2
stt:
  mode: mock
  script:
    - "give me my mission"
    - "terminate"
personas:
  mission: "You hand out missions."
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Completion.Model != "openai/gpt-4o-mini" || cfg.Completion.MaxAttempts != 2 {
		t.Fatalf("yaml completion not applied: %+v", cfg.Completion)
	}
	if cfg.STT.Mode != "mock" || len(cfg.STT.Script) != 2 {
		t.Fatalf("yaml stt not applied: %+v", cfg.STT)
	}
	if cfg.Personas.Mission != "You hand out missions." {
		t.Fatalf("yaml persona not applied")
	}
	// untouched defaults survive
	if cfg.Audio.FrameSamples != 4096 {
		t.Fatalf("expected default frame size, got %d", cfg.Audio.FrameSamples)
	}
}

func TestValidateRejectsBadRetryPolicy(t *testing.T) {
	setCredentials(t)
	t.Setenv("VOICELOOP_COMPLETION_MAX_ATTEMPTS", "0")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for zero attempts")
	}
	t.Setenv("VOICELOOP_COMPLETION_MAX_ATTEMPTS", "64")
	if _, err := Load(""); err == nil {
		t.Fatal("expected error for 64 attempts")
	}
}

func TestLoadEnvFile(t *testing.T) {
	os.Unsetenv("VOICELOOP_TEST_DOTENV")
	t.Cleanup(func() { os.Unsetenv("VOICELOOP_TEST_DOTENV") })

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("VOICELOOP_TEST_DOTENV=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("load env file: %v", err)
	}
	if got := os.Getenv("VOICELOOP_TEST_DOTENV"); got != "from-file" {
		t.Fatalf("expected value from file, got %q", got)
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing env file should be ignored: %v", err)
	}
}
