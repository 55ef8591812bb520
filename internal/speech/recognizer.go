package speech

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/GriffinCanCode/voicechat/internal/audio"
	"github.com/GriffinCanCode/voicechat/internal/conversation"
	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
	"github.com/GriffinCanCode/voicechat/internal/trace"
)

// ErrCodeNetwork is reported to the loop when transcription fails, matching
// the browser recognizer's vocabulary.
const ErrCodeNetwork = "network"

const segmentQueue = 4

// Source is a live audio stream such as audio.Capturer.
type Source interface {
	Start(ctx context.Context) error
	Stop()
	Output() <-chan audio.Chunk
	SampleRate() int
}

// Transcriber turns one WAV-encoded utterance into text.
type Transcriber interface {
	Transcribe(ctx context.Context, wav []byte, language string) (string, error)
}

// WhisperTranscriber calls the OpenAI transcription endpoint.
type WhisperTranscriber struct {
	client *openai.Client
	model  string
}

// NewWhisperTranscriber creates a transcriber. An empty baseURL uses the
// public API.
func NewWhisperTranscriber(apiKey, baseURL, model string) *WhisperTranscriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperTranscriber{client: openai.NewClientWithConfig(cfg), model: model}
}

func (w *WhisperTranscriber) Transcribe(ctx context.Context, wav []byte, language string) (string, error) {
	ctx, span := trace.StartSpan(ctx, "whisper_transcribe")
	defer span.End()
	span.SetAttr("bytes", len(wav))

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: "utterance.wav",
		Reader:   bytes.NewReader(wav),
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		span.RecordError(err)
		return "", apperrors.Wrap(err, apperrors.CodeRecognitionFailed, "transcribe utterance")
	}
	return strings.TrimSpace(resp.Text), nil
}

// Recognizer is a conversation.SpeechInput over a microphone Source. Each
// transcribed utterance is appended to the session hypothesis, and the full
// hypothesis is re-delivered on every update.
type Recognizer struct {
	src Source
	stt Transcriber
	cfg SegmenterConfig

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewRecognizer(src Source, stt Transcriber, cfg SegmenterConfig) *Recognizer {
	cfg.SampleRate = src.SampleRate()
	return &Recognizer{src: src, stt: stt, cfg: cfg}
}

// Open implements conversation.SpeechInput.
func (r *Recognizer) Open(ctx context.Context, opts conversation.RecognitionOptions, h conversation.RecognitionHandler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return nil
	}

	drain(r.src.Output())
	sessCtx, cancel := context.WithCancel(ctx)
	if err := r.src.Start(sessCtx); err != nil {
		cancel()
		return err
	}
	r.cancel = cancel

	segments := make(chan []float32, segmentQueue)
	go r.segment(sessCtx, segments)
	go r.transcribe(sessCtx, segments, language(opts.Locale), h)
	return nil
}

// Close implements conversation.SpeechInput. In-flight transcriptions are
// cancelled; their results never reach the handler's session.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	cancel := r.cancel
	r.cancel = nil
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	r.src.Stop()
	return nil
}

func (r *Recognizer) segment(ctx context.Context, out chan<- []float32) {
	defer close(out)
	seg := NewSegmenter(r.cfg, nil)
	chunks := r.src.Output()
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-chunks:
			if !ok {
				if last := seg.Flush(); last != nil {
					select {
					case out <- last:
					case <-ctx.Done():
					}
				}
				return
			}
			for _, s := range seg.Push(chunk.Data) {
				select {
				case out <- s:
				default:
					trace.Logger(ctx).Warn("transcription backlog, dropping utterance")
				}
			}
		}
	}
}

func (r *Recognizer) transcribe(ctx context.Context, in <-chan []float32, lang string, h conversation.RecognitionHandler) {
	var parts []string
	for samples := range in {
		wav := audio.EncodeWAV(audio.Float32ToPCM16(samples), r.cfg.SampleRate)
		text, err := r.stt.Transcribe(ctx, wav, lang)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				trace.Logger(ctx).Warn("transcription failed", "error", err)
				h.OnRecognitionError(ErrCodeNetwork)
			}
			return
		}
		if text == "" {
			continue
		}
		if len(parts) > 0 {
			text = " " + text
		}
		parts = append(parts, text)
		h.OnRecognitionUpdate(append([]string(nil), parts...))
	}
	if ctx.Err() == nil {
		h.OnRecognitionEnd()
	}
}

// drain discards audio left over from a previous session.
func drain(ch <-chan audio.Chunk) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// language reduces a BCP 47 locale to the ISO-639-1 code Whisper expects.
func language(locale string) string {
	lang, _, _ := strings.Cut(locale, "-")
	return strings.ToLower(lang)
}
