package tts

import "context"

type Format int

const (
	FormatPCM Format = iota
	FormatMP3
	FormatWAV
)

func (f Format) String() string {
	switch f {
	case FormatMP3:
		return "mp3"
	case FormatWAV:
		return "wav"
	default:
		return "pcm"
	}
}

// Audio is a complete synthesized clip. SampleRate and Channels only matter
// for FormatPCM; encoded formats carry their own header.
type Audio struct {
	Format     Format
	Data       []byte
	SampleRate int
	Channels   int
}

// Synthesizer turns text into audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Audio, error)
}

// Player blocks until the clip has been played out.
type Player interface {
	Play(ctx context.Context, clip Audio) error
}
