package conversation

import (
	"context"
	"time"
)

// RecognitionOptions configures a speech recognition session.
type RecognitionOptions struct {
	Locale         string
	Continuous     bool
	InterimResults bool
}

// RecognitionHandler receives events from an open SpeechInput. Every update
// carries the full current hypothesis as ordered fragments.
type RecognitionHandler interface {
	OnRecognitionUpdate(fragments []string)
	OnRecognitionError(code string)
	OnRecognitionEnd()
}

// SpeechInput streams recognized text while open.
type SpeechInput interface {
	Open(ctx context.Context, opts RecognitionOptions, h RecognitionHandler) error
	Close() error
}

// SpeechOutput renders text as audio. Speak blocks until playback has
// finished or ctx is cancelled.
type SpeechOutput interface {
	Speak(ctx context.Context, text string) error
}

// Agent sends one utterance to the remote conversational agent and returns
// the reply text.
type Agent interface {
	Send(ctx context.Context, message, mode string) (string, error)
}

// Metrics receives loop instrumentation. Implementations must not block.
type Metrics interface {
	Transition(from, to State)
	Dispatch(mode BotMode, outcome string, elapsed time.Duration)
	RecognitionError(code string)
}

// Timer is a scheduled callback that can be cancelled.
type Timer interface {
	Stop() bool
}

// Clock schedules the debounce and restart timers.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

type noopMetrics struct{}

func (noopMetrics) Transition(State, State)                 {}
func (noopMetrics) Dispatch(BotMode, string, time.Duration) {}
func (noopMetrics) RecognitionError(string)                 {}
