package speech

import (
	"context"
	"errors"
	"testing"

	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
)

type fakeSynth struct {
	samples []int16
	rate    int
	err     error
	text    string
}

func (f *fakeSynth) Name() string { return "fake" }

func (f *fakeSynth) Synthesize(_ context.Context, text string) ([]int16, int, error) {
	f.text = text
	return f.samples, f.rate, f.err
}

type fakePlayback struct {
	played []int16
	rate   int
	err    error
}

func (f *fakePlayback) Play(_ context.Context, samples []int16, rate int) error {
	f.played, f.rate = samples, rate
	return f.err
}

func TestSpeakerPlaysSynthesizedAudio(t *testing.T) {
	tts := &fakeSynth{samples: []int16{1, 2, 3}, rate: 24000}
	out := &fakePlayback{}

	if err := NewSpeaker(tts, out).Speak(context.Background(), "Hi there"); err != nil {
		t.Fatalf("Speak() error = %v", err)
	}
	if tts.text != "Hi there" {
		t.Errorf("synthesized %q", tts.text)
	}
	if len(out.played) != 3 || out.rate != 24000 {
		t.Errorf("played %v @ %d", out.played, out.rate)
	}
}

func TestSpeakerErrors(t *testing.T) {
	synthErr := apperrors.New(apperrors.CodeSynthesisFailed, "provider down")

	tests := []struct {
		name     string
		synthErr error
		playErr  error
		check    func(error) bool
	}{
		{
			name:     "synthesis failure passes through",
			synthErr: synthErr,
			check:    func(err error) bool { return errors.Is(err, synthErr) },
		},
		{
			name:    "device failure becomes synthesis failure",
			playErr: errors.New("device unplugged"),
			check:   func(err error) bool { return apperrors.IsCode(err, apperrors.CodeSynthesisFailed) },
		},
		{
			name:    "cancellation is not wrapped",
			playErr: context.Canceled,
			check: func(err error) bool {
				return errors.Is(err, context.Canceled) && !apperrors.IsCode(err, apperrors.CodeSynthesisFailed)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSpeaker(&fakeSynth{rate: 16000, err: tt.synthErr}, &fakePlayback{err: tt.playErr})
			err := s.Speak(context.Background(), "x")
			if err == nil || !tt.check(err) {
				t.Errorf("Speak() error = %v", err)
			}
		})
	}
}
