package speech

import (
	"context"
	"errors"

	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
	"github.com/GriffinCanCode/voicechat/internal/trace"
)

// Playback plays PCM samples, blocking until done or ctx is cancelled.
// audio.Player implements it.
type Playback interface {
	Play(ctx context.Context, samples []int16, sampleRate int) error
}

// Speaker is a conversation.SpeechOutput that synthesizes and plays replies.
type Speaker struct {
	tts Synthesizer
	out Playback
}

func NewSpeaker(tts Synthesizer, out Playback) *Speaker {
	return &Speaker{tts: tts, out: out}
}

// Speak implements conversation.SpeechOutput.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	log := trace.Logger(ctx)
	samples, rate, err := s.tts.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	log.Debug("speech synthesized", "provider", s.tts.Name(), "samples", len(samples), "rate", rate)

	if err := s.out.Play(ctx, samples, rate); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return apperrors.Wrap(err, apperrors.CodeSynthesisFailed, "play reply")
	}
	return nil
}
