// Package httpretry posts JSON payloads with bounded retries and exponential
// backoff. Only a 200 response counts as success.
package httpretry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrExhausted is returned when every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

// Policy bounds a single Post invocation.
type Policy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	AttemptTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 3, BaseDelay: time.Second, AttemptTimeout: 30 * time.Second}
}

// Delay is the wait between attempt i and i+1 (0-indexed): BaseDelay * 2^i.
// It saturates at the largest Duration instead of overflowing.
func (p Policy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 63 || p.BaseDelay > time.Duration(math.MaxInt64>>uint(attempt)) {
		return time.Duration(math.MaxInt64)
	}
	return p.BaseDelay << uint(attempt)
}

// Response is a fully read HTTP response. It holds no connection.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// StatusError reports a non-200 reply.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// SessionFactory returns a client whose connections belong to one attempt.
type SessionFactory func() *http.Client

// Sleeper waits between attempts. It returns early with ctx.Err() when the
// context ends.
type Sleeper func(ctx context.Context, d time.Duration) error

type Client struct {
	newSession SessionFactory
	sleep      Sleeper
	logger     *slog.Logger
	attempts   metric.Int64Counter
}

type Option func(*Client)

func WithSessionFactory(f SessionFactory) Option {
	return func(c *Client) { c.newSession = f }
}

func WithSleeper(s Sleeper) Option {
	return func(c *Client) { c.sleep = s }
}

func New(logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		newSession: defaultSession,
		sleep:      contextSleep,
		logger:     logger.With(slog.String("component", "httpretry")),
	}
	for _, opt := range opts {
		opt(c)
	}
	counter, err := otel.Meter("github.com/loqalabs/voiceloop/httpretry").Int64Counter(
		"voiceloop.completion.attempts",
		metric.WithDescription("Completion POST attempts by outcome"),
	)
	if err != nil {
		c.logger.Warn("failed to initialize attempt counter", slogError(err))
	} else {
		c.attempts = counter
	}
	return c
}

func defaultSession() *http.Client {
	return &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
}

func contextSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Post sends payload as JSON to url. It returns ErrExhausted once
// policy.MaxAttempts attempts have failed, or ctx.Err() if ctx ends first.
func (c *Client) Post(ctx context.Context, url string, headers map[string]string, payload any, policy Policy) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}

	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		resp, err := c.attempt(ctx, url, headers, body, policy.AttemptTimeout)
		if err == nil {
			c.record(ctx, "ok")
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}

		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			c.record(ctx, "status")
			c.logger.Warn("completion attempt failed",
				slog.Int("attempt", attempt+1),
				slog.Int("status", statusErr.StatusCode))
		} else {
			c.record(ctx, "transport")
			c.logger.Warn("completion attempt failed",
				slog.Int("attempt", attempt+1),
				slogError(err))
		}

		if attempt == policy.MaxAttempts-1 {
			break
		}
		if err := c.sleep(ctx, policy.Delay(attempt)); err != nil {
			return nil, err
		}
	}
	return nil, ErrExhausted
}

func (c *Client) attempt(ctx context.Context, url string, headers map[string]string, body []byte, timeout time.Duration) (*Response, error) {
	session := c.newSession()
	defer session.CloseIdleConnections()

	attemptCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := session.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(data)}
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func (c *Client) record(ctx context.Context, outcome string) {
	if c.attempts == nil {
		return
	}
	c.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
