package voice

import (
	"context"

	"github.com/loqalabs/voiceloop/internal/completion"
	"github.com/loqalabs/voiceloop/internal/eventstore"
	"github.com/loqalabs/voiceloop/internal/intent"
	"github.com/loqalabs/voiceloop/internal/stt"
)

type State int32

const (
	StateStarting State = iota
	StateListening
	StateProcessingTurn
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "LISTENING"
	case StateProcessingTurn:
		return "PROCESSING_TURN"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "STARTING"
	}
}

// Active reports whether the loop is consuming audio or running a turn.
func (s State) Active() bool {
	return s == StateListening || s == StateProcessingTurn
}

// Utterance is a finalized phrase from the recognizer.
type Utterance struct {
	Text       string
	Raw        string
	Final      bool
	Confidence float64
}

func NewUtterance(res stt.Result) Utterance {
	return Utterance{
		Text:       intent.Normalize(res.Text),
		Raw:        res.Text,
		Final:      res.Final,
		Confidence: res.Confidence,
	}
}

func (u Utterance) Empty() bool { return u.Text == "" }

// Turner runs one completion turn, playback included.
type Turner interface {
	RunTurn(ctx context.Context, i intent.Intent, text string) completion.Result
}

type Journal interface {
	AppendTurn(ctx context.Context, rec eventstore.TurnRecord) error
}

type Publisher interface {
	PublishJSON(subject string, v any) error
}
