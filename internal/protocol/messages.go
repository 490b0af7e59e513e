// Package protocol defines the JSON messages the loop publishes on the bus.
package protocol

import "time"

// Transcript is a finalized utterance, published whether or not it triggered
// a turn.
type Transcript struct {
	RunID      string    `json:"run_id"`
	Text       string    `json:"text"`
	Raw        string    `json:"raw"`
	Confidence float64   `json:"confidence,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TurnEvent describes a completed turn.
type TurnEvent struct {
	TurnID    string    `json:"turn_id"`
	RunID     string    `json:"run_id"`
	Utterance string    `json:"utterance"`
	Intent    string    `json:"intent"`
	Outcome   string    `json:"outcome"`
	Reply     string    `json:"reply,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// StateChange reports a loop state transition.
type StateChange struct {
	RunID     string    `json:"run_id"`
	State     string    `json:"state"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectTranscript = "voiceloop.transcript"
	SubjectTurn       = "voiceloop.turn"
	SubjectState      = "voiceloop.state"
)
