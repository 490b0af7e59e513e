package completion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/voiceloop/internal/httpretry"
	"github.com/loqalabs/voiceloop/internal/intent"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type Orchestrator struct {
	settings Settings
	poster   Poster
	speaker  Speaker
	logger   *slog.Logger
	tracer   trace.Tracer
}

func New(settings Settings, poster Poster, speaker Speaker, logger *slog.Logger) (*Orchestrator, error) {
	if strings.TrimSpace(settings.Endpoint) == "" {
		return nil, errors.New("completion endpoint is empty")
	}
	if strings.TrimSpace(settings.APIKey) == "" {
		return nil, errors.New("completion api key is empty")
	}
	if settings.Model == "" {
		return nil, errors.New("completion model is empty")
	}
	if poster == nil {
		return nil, errors.New("poster is nil")
	}
	if speaker == nil {
		return nil, errors.New("speaker is nil")
	}
	if settings.Personas.Empty() {
		settings.Personas = intent.DefaultPersonas()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		settings: settings,
		poster:   poster,
		speaker:  speaker,
		logger:   logger.With(slog.String("component", "completion")),
		tracer:   otel.Tracer("github.com/loqalabs/voiceloop/completion"),
	}, nil
}

func (o *Orchestrator) BuildRequest(i intent.Intent, text string) (Request, bool) {
	return BuildRequest(o.settings.Model, o.settings.Personas, i, text)
}

// BuildRequest returns the payload for a prompting intent. The single user
// message is the persona prompt, a space, and the user's text.
func BuildRequest(model string, personas intent.Personas, i intent.Intent, text string) (Request, bool) {
	prompt, ok := personas.Prompt(i)
	if !ok {
		return Request{}, false
	}
	return Request{
		Model: model,
		Messages: []Message{
			{Role: "user", Content: prompt + " " + text},
		},
	}, true
}

func (o *Orchestrator) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + o.settings.APIKey,
		"Content-Type":  "application/json",
	}
}

// RunTurn performs one request/reply cycle including playback. Intents
// without a persona prompt issue nothing.
func (o *Orchestrator) RunTurn(ctx context.Context, i intent.Intent, text string) Result {
	start := time.Now()
	result := Result{Intent: i, Outcome: OutcomeSkipped}

	req, ok := o.BuildRequest(i, text)
	if !ok {
		return result
	}

	ctx, span := o.tracer.Start(ctx, "completion.turn", trace.WithAttributes(attribute.String("intent", i.String())))
	defer func() {
		span.SetAttributes(attribute.String("outcome", result.Outcome.String()))
		span.End()
	}()

	resp, err := o.poster.Post(ctx, o.settings.Endpoint, o.headers(), req, o.settings.Policy)
	if err != nil {
		if errors.Is(err, httpretry.ErrExhausted) {
			o.logger.Error("API error after retries", slog.String("intent", i.String()))
		} else {
			o.logger.Error("completion request aborted", slogError(err))
		}
		result.Outcome = OutcomeAPIError
		result.Latency = time.Since(start)
		return result
	}

	reply := ExtractReply(resp.Body)
	result.Reply = reply
	o.logger.Info("reply received", slog.String("intent", i.String()), slog.Int("chars", len(reply)))

	if err := o.speaker.Speak(ctx, reply); err != nil {
		o.logger.Warn("speech playback failed", slogError(err))
		result.Outcome = OutcomeSpeechFailed
		result.Latency = time.Since(start)
		return result
	}
	result.Outcome = OutcomeSpoken
	result.Latency = time.Since(start)
	return result
}

type chatResponse struct {
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractReply reads choices[0].message.content and falls back to
// FallbackReply when it is missing, blank, or the body is not JSON.
func ExtractReply(body []byte) string {
	var resp chatResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return FallbackReply
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return FallbackReply
	}
	content := *resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return FallbackReply
	}
	return content
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}

func (r Result) String() string {
	return fmt.Sprintf("%s/%s", r.Intent, r.Outcome)
}
