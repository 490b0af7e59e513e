package audio

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

// WriteWAV encodes mono or interleaved PCM16 samples as a 16-bit WAV file.
func WriteWAV(w io.WriteSeeker, samples []int16, sampleRate, channels int) error {
	buffer := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: channels, SampleRate: sampleRate},
		SourceBitDepth: 16,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buffer.Data[i] = int(s)
	}

	enc := wav.NewEncoder(w, sampleRate, 16, channels, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}

// Recorder mirrors captured frames into a bounded buffer and writes the audio
// behind each finalized utterance to a WAV file for later inspection.
type Recorder struct {
	fs         afero.Fs
	dir        string
	sampleRate int
	ring       *RingBuffer
	logger     *slog.Logger
}

func NewRecorder(fs afero.Fs, dir string, sampleRate int, window time.Duration, logger *slog.Logger) (*Recorder, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dump dir: %w", err)
	}
	size := int(window.Seconds() * float64(sampleRate))
	return &Recorder{
		fs:         fs,
		dir:        dir,
		sampleRate: sampleRate,
		ring:       NewRingBuffer(size),
		logger:     logger.With(slog.String("component", "recorder")),
	}, nil
}

func (r *Recorder) Append(frame Frame) {
	r.ring.Add(frame.Samples)
}

// Flush writes the buffered audio as <name>.wav and empties the buffer.
func (r *Recorder) Flush(name string) (string, error) {
	samples := r.ring.Read()
	r.ring.Clear()
	if len(samples) == 0 {
		return "", nil
	}

	path := filepath.Join(r.dir, name+".wav")
	file, err := r.fs.Create(path)
	if err != nil {
		return "", fmt.Errorf("create dump file: %w", err)
	}
	defer file.Close()

	if err := WriteWAV(file, samples, r.sampleRate, 1); err != nil {
		return "", err
	}
	r.logger.Debug("utterance audio written", slog.String("path", path), slog.Int("samples", len(samples)))
	return path, nil
}

func (r *Recorder) Reset() {
	r.ring.Clear()
}
