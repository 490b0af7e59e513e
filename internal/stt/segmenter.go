package stt

import (
	"math/cmplx"
	"time"

	"github.com/loqalabs/voiceloop/internal/audio"
	"github.com/mjibson/go-dsp/fft"
)

const (
	voiceBandLowHz  = 300
	voiceBandHighHz = 3400
)

type SegmenterConfig struct {
	SampleRate   int
	Threshold    float64
	Quiet        time.Duration
	PreRoll      time.Duration
	MaxUtterance time.Duration
}

// Segmenter cuts a frame stream into utterances using voice-band energy.
// A segment starts on the first voiced frame, keeps PreRoll of audio from
// before it, and ends after Quiet of unvoiced audio or at MaxUtterance.
type Segmenter struct {
	cfg      SegmenterConfig
	preRoll  *audio.RingBuffer
	speech   []int16
	inSpeech bool
	quiet    time.Duration
	maxLen   int
}

func NewSegmenter(cfg SegmenterConfig) *Segmenter {
	return &Segmenter{
		cfg:     cfg,
		preRoll: audio.NewRingBuffer(samplesFor(cfg.PreRoll, cfg.SampleRate)),
		maxLen:  samplesFor(cfg.MaxUtterance, cfg.SampleRate),
	}
}

func samplesFor(d time.Duration, rate int) int {
	return int(d.Seconds() * float64(rate))
}

// Push adds a frame. When the frame closes a segment it returns the segment
// samples and true.
func (s *Segmenter) Push(frame audio.Frame) ([]int16, bool) {
	voiced := VoiceEnergy(frame.Samples, s.cfg.SampleRate) >= s.cfg.Threshold

	if !s.inSpeech {
		if !voiced {
			s.preRoll.Add(frame.Samples)
			return nil, false
		}
		s.inSpeech = true
		s.speech = append(s.preRoll.Read(), frame.Samples...)
		s.preRoll.Clear()
		s.quiet = 0
		return s.checkLength()
	}

	s.speech = append(s.speech, frame.Samples...)
	if voiced {
		s.quiet = 0
	} else {
		s.quiet += frame.Duration()
		if s.quiet >= s.cfg.Quiet {
			return s.cut()
		}
	}
	return s.checkLength()
}

func (s *Segmenter) checkLength() ([]int16, bool) {
	if s.maxLen > 0 && len(s.speech) >= s.maxLen {
		return s.cut()
	}
	return nil, false
}

func (s *Segmenter) cut() ([]int16, bool) {
	segment := s.speech
	s.speech = nil
	s.inSpeech = false
	s.quiet = 0
	return segment, true
}

func (s *Segmenter) Reset() {
	s.speech = nil
	s.inSpeech = false
	s.quiet = 0
	s.preRoll.Clear()
}

// VoiceEnergy returns the normalized spectral power of samples between 300
// and 3400 Hz.
func VoiceEnergy(samples []int16, sampleRate int) float64 {
	n := len(samples)
	if n == 0 || sampleRate <= 0 {
		return 0
	}
	x := make([]float64, n)
	for i, v := range samples {
		x[i] = float64(v) / 32768
	}
	spectrum := fft.FFTReal(x)

	binHz := float64(sampleRate) / float64(n)
	var power float64
	for k := 1; k <= n/2; k++ {
		freq := float64(k) * binHz
		if freq < voiceBandLowHz || freq > voiceBandHighHz {
			continue
		}
		mag := cmplx.Abs(spectrum[k])
		power += mag * mag
	}
	return power / float64(n*n)
}
