// Package speech provides native speech input and output for the
// conversation loop, backed by the local microphone and speaker or a console.
package speech

import "github.com/GriffinCanCode/voicechat/internal/audio"

const (
	// WindowSamples is the analysis window of the voice activity detector.
	WindowSamples = 512

	DefaultVADThreshold     = 0.02
	DefaultMaxSilenceChunks = 15
)

// Detector classifies one analysis window as speech or silence.
type Detector interface {
	IsSpeech(window []float32) bool
}

// EnergyDetector marks windows whose RMS energy exceeds Threshold as speech.
type EnergyDetector struct {
	Threshold float64
}

func (d EnergyDetector) IsSpeech(window []float32) bool {
	return audio.RMS(window) > d.Threshold
}

// SegmenterConfig tunes segmentation.
type SegmenterConfig struct {
	SampleRate       int
	VADThreshold     float64
	MaxSilenceChunks int // silent windows that end a segment
	MinSpeechSamples int // shorter segments are discarded; default SampleRate/2
}

func (c SegmenterConfig) withDefaults() SegmenterConfig {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.VADThreshold <= 0 {
		c.VADThreshold = DefaultVADThreshold
	}
	if c.MaxSilenceChunks <= 0 {
		c.MaxSilenceChunks = DefaultMaxSilenceChunks
	}
	if c.MinSpeechSamples <= 0 {
		c.MinSpeechSamples = c.SampleRate / 2
	}
	return c
}

// Segmenter cuts a continuous sample stream into utterances. Not safe for
// concurrent use.
type Segmenter struct {
	cfg SegmenterConfig
	det Detector

	buffer        []float32
	speechBuffer  []float32
	isSpeaking    bool
	silenceChunks int
}

// NewSegmenter creates a segmenter. A nil det uses an EnergyDetector at
// cfg.VADThreshold.
func NewSegmenter(cfg SegmenterConfig, det Detector) *Segmenter {
	cfg = cfg.withDefaults()
	if det == nil {
		det = EnergyDetector{Threshold: cfg.VADThreshold}
	}
	return &Segmenter{cfg: cfg, det: det}
}

// Push feeds samples and returns any utterances completed by them.
func (s *Segmenter) Push(samples []float32) [][]float32 {
	s.buffer = append(s.buffer, samples...)

	var out [][]float32
	for len(s.buffer) >= WindowSamples {
		window := s.buffer[:WindowSamples]
		s.buffer = s.buffer[WindowSamples:]

		if s.det.IsSpeech(window) {
			s.isSpeaking = true
			s.silenceChunks = 0
			s.speechBuffer = append(s.speechBuffer, window...)
			continue
		}
		if !s.isSpeaking {
			continue
		}
		s.speechBuffer = append(s.speechBuffer, window...)
		s.silenceChunks++
		if s.silenceChunks > s.cfg.MaxSilenceChunks {
			if seg := s.take(); seg != nil {
				out = append(out, seg)
			}
		}
	}
	return out
}

// Flush returns the utterance in progress, if long enough.
func (s *Segmenter) Flush() []float32 {
	if !s.isSpeaking {
		return nil
	}
	return s.take()
}

// Reset discards all buffered audio.
func (s *Segmenter) Reset() {
	s.buffer = nil
	s.speechBuffer = nil
	s.isSpeaking = false
	s.silenceChunks = 0
}

func (s *Segmenter) take() []float32 {
	seg := s.speechBuffer
	s.speechBuffer = nil
	s.isSpeaking = false
	s.silenceChunks = 0
	if len(seg) <= s.cfg.MinSpeechSamples {
		return nil
	}
	return seg
}
