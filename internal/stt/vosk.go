package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loqalabs/voiceloop/internal/audio"
)

// VoskRecognizer streams frames to a vosk-server websocket endpoint. The
// server answers every binary frame with either a partial hypothesis or a
// finalized phrase.
type VoskRecognizer struct {
	endpoint   string
	sampleRate int
	dialer     *websocket.Dialer
	conn       *websocket.Conn
	logger     *slog.Logger
}

type voskConfig struct {
	Config struct {
		SampleRate int `json:"sample_rate"`
	} `json:"config"`
}

type voskResult struct {
	Partial *string `json:"partial"`
	Text    *string `json:"text"`
	Result  []struct {
		Conf float64 `json:"conf"`
	} `json:"result"`
}

func DialVosk(ctx context.Context, endpoint string, sampleRate int, logger *slog.Logger) (*VoskRecognizer, error) {
	r := &VoskRecognizer{
		endpoint:   endpoint,
		sampleRate: sampleRate,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:     logger,
	}
	if err := r.connect(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *VoskRecognizer) connect(ctx context.Context) error {
	conn, _, err := r.dialer.DialContext(ctx, r.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial vosk %s: %w", r.endpoint, err)
	}
	var cfg voskConfig
	cfg.Config.SampleRate = r.sampleRate
	if err := conn.WriteJSON(cfg); err != nil {
		conn.Close()
		return fmt.Errorf("send vosk config: %w", err)
	}
	r.conn = conn
	r.logger.Debug("vosk session opened", slog.String("endpoint", r.endpoint))
	return nil
}

func (r *VoskRecognizer) Feed(ctx context.Context, frame audio.Frame) (Result, error) {
	if r.conn == nil {
		return Result{}, fmt.Errorf("vosk session closed")
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = r.conn.SetWriteDeadline(deadline)
		_ = r.conn.SetReadDeadline(deadline)
	}
	if err := r.conn.WriteMessage(websocket.BinaryMessage, frame.PCM()); err != nil {
		return Result{}, fmt.Errorf("send frame %d: %w", frame.Sequence, err)
	}
	_, data, err := r.conn.ReadMessage()
	if err != nil {
		return Result{}, fmt.Errorf("read vosk result: %w", err)
	}
	return decodeVoskResult(data)
}

func decodeVoskResult(data []byte) (Result, error) {
	var msg voskResult
	if err := json.Unmarshal(data, &msg); err != nil {
		return Result{}, fmt.Errorf("decode vosk result: %w", err)
	}
	if msg.Text != nil {
		res := Result{Text: *msg.Text, Final: true}
		if n := len(msg.Result); n > 0 {
			var sum float64
			for _, w := range msg.Result {
				sum += w.Conf
			}
			res.Confidence = sum / float64(n)
		}
		return res, nil
	}
	if msg.Partial != nil {
		return Result{Text: *msg.Partial}, nil
	}
	return Result{}, nil
}

// Reset ends the server-side session and opens a fresh one.
func (r *VoskRecognizer) Reset() error {
	r.finish()
	return r.connect(context.Background())
}

func (r *VoskRecognizer) Close() error {
	r.finish()
	return nil
}

func (r *VoskRecognizer) finish() {
	if r.conn == nil {
		return
	}
	conn := r.conn
	r.conn = nil
	_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"eof" : 1}`)); err == nil {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		_, _, _ = conn.ReadMessage()
	}
	if err := conn.Close(); err != nil {
		r.logger.Debug("vosk close failed", slogError(err))
	}
}
