package server

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/GriffinCanCode/voicechat/internal/conversation"
	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
)

// sendFunc writes one JSON frame to the client.
type sendFunc func(ctx context.Context, v any) error

// Bridge exposes the browser's recognizer and synthesizer as a
// conversation.SpeechInput and conversation.SpeechOutput. Commands go out as
// frames; results come back through the deliver methods.
type Bridge struct {
	send sendFunc

	mu       sync.Mutex
	handler  conversation.RecognitionHandler
	speaking map[string]chan error
	closed   bool
}

func NewBridge(send sendFunc) *Bridge {
	return &Bridge{send: send, speaking: make(map[string]chan error)}
}

// Open implements conversation.SpeechInput.
func (b *Bridge) Open(ctx context.Context, opts conversation.RecognitionOptions, h conversation.RecognitionHandler) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return apperrors.New(apperrors.CodeCapabilityUnavailable, "client disconnected")
	}
	b.handler = h
	b.mu.Unlock()

	err := b.write(ctx, RecognitionStartMessage{
		Type:           MsgRecognitionStart,
		Locale:         opts.Locale,
		Continuous:     opts.Continuous,
		InterimResults: opts.InterimResults,
	})
	if err != nil {
		b.setHandler(nil)
	}
	return err
}

// Close implements conversation.SpeechInput. Results that arrive after Close
// are dropped.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.handler = nil
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil
	}
	return b.write(context.Background(), Message{Type: MsgRecognitionStop})
}

// Speak implements conversation.SpeechOutput. It blocks until the client
// reports the utterance finished or ctx is cancelled, in which case the
// client is told to cancel playback.
func (b *Bridge) Speak(ctx context.Context, text string) error {
	id := uuid.NewString()
	done := make(chan error, 1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return apperrors.New(apperrors.CodeCapabilityUnavailable, "client disconnected")
	}
	b.speaking[id] = done
	b.mu.Unlock()
	defer b.forget(id)

	if err := b.write(ctx, SpeakMessage{Type: MsgSpeak, ID: id, Text: text}); err != nil {
		return apperrors.Wrap(err, apperrors.CodeSynthesisFailed, "send speak request")
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = b.write(context.Background(), SpeakMessage{Type: MsgSpeakCancel, ID: id})
		return ctx.Err()
	}
}

func (b *Bridge) deliverUpdate(fragments []string) {
	if h := b.current(); h != nil {
		h.OnRecognitionUpdate(fragments)
	}
}

func (b *Bridge) deliverError(code string) {
	if h := b.current(); h != nil {
		h.OnRecognitionError(code)
	}
}

func (b *Bridge) deliverEnd() {
	b.mu.Lock()
	h := b.handler
	b.handler = nil
	b.mu.Unlock()
	if h != nil {
		h.OnRecognitionEnd()
	}
}

// finishSpeech resolves a pending Speak. Unknown ids are ignored.
func (b *Bridge) finishSpeech(id string, err error) {
	b.mu.Lock()
	done, ok := b.speaking[id]
	delete(b.speaking, id)
	b.mu.Unlock()
	if ok {
		done <- err
	}
}

// Shutdown fails every pending Speak and refuses further use.
func (b *Bridge) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.handler = nil
	for id, done := range b.speaking {
		delete(b.speaking, id)
		done <- apperrors.New(apperrors.CodeCapabilityUnavailable, "client disconnected")
	}
}

func (b *Bridge) current() conversation.RecognitionHandler {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handler
}

func (b *Bridge) setHandler(h conversation.RecognitionHandler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

func (b *Bridge) forget(id string) {
	b.mu.Lock()
	delete(b.speaking, id)
	b.mu.Unlock()
}

func (b *Bridge) write(ctx context.Context, v any) error {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return b.send(ctx, v)
}
