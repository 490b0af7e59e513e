package completion

import (
	"context"
	"time"

	"github.com/loqalabs/voiceloop/internal/config"
	"github.com/loqalabs/voiceloop/internal/httpretry"
	"github.com/loqalabs/voiceloop/internal/intent"
)

// FallbackReply is spoken when the API answers without a usable message.
const FallbackReply = "No response"

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the chat completion payload. A turn builds exactly one.
type Request struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// Speaker turns reply text into audible speech and returns once playback
// has finished.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Poster is satisfied by *httpretry.Client.
type Poster interface {
	Post(ctx context.Context, url string, headers map[string]string, payload any, policy httpretry.Policy) (*httpretry.Response, error)
}

type Outcome int

const (
	OutcomeSkipped Outcome = iota
	OutcomeSpoken
	OutcomeAPIError
	OutcomeSpeechFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSpoken:
		return "spoken"
	case OutcomeAPIError:
		return "api_error"
	case OutcomeSpeechFailed:
		return "synthesis_error"
	default:
		return "skipped"
	}
}

// Result summarizes one turn.
type Result struct {
	Intent  intent.Intent
	Outcome Outcome
	Reply   string
	Latency time.Duration
}

// Settings carries the endpoint, credential and retry policy. Build it with
// SettingsFromConfig so required fields are checked once at startup.
type Settings struct {
	Endpoint string
	APIKey   string
	Model    string
	Policy   httpretry.Policy
	Personas intent.Personas
}

func SettingsFromConfig(cfg config.CompletionConfig, personas config.PersonasConfig) Settings {
	return Settings{
		Endpoint: cfg.Endpoint,
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Policy: httpretry.Policy{
			MaxAttempts:    cfg.MaxAttempts,
			BaseDelay:      time.Duration(cfg.BaseDelayMS) * time.Millisecond,
			AttemptTimeout: time.Duration(cfg.AttemptTimeoutMS) * time.Millisecond,
		},
		Personas: intent.PersonasFromConfig(personas),
	}
}
