package speech

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/voicechat/internal/audio"
	"github.com/GriffinCanCode/voicechat/internal/conversation"
)

type fakeSource struct {
	ch chan audio.Chunk

	mu      sync.Mutex
	started int
	stopped int
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan audio.Chunk, 16)}
}

func (f *fakeSource) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return nil
}

func (f *fakeSource) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeSource) Output() <-chan audio.Chunk { return f.ch }
func (f *fakeSource) SampleRate() int            { return 16000 }

func (f *fakeSource) counts() (started, stopped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

// utterance is one segment's worth of speech followed by enough silence to
// close it under testSegmenter.
func (f *fakeSource) utterance() {
	f.ch <- audio.Chunk{Data: tone(WindowSamples*2, 0.5)}
	f.ch <- audio.Chunk{Data: tone(WindowSamples*2, 0)}
}

var testSegmenter = SegmenterConfig{VADThreshold: 0.1, MaxSilenceChunks: 1, MinSpeechSamples: 100}

type scriptedTranscriber struct {
	mu      sync.Mutex
	replies []string
	err     error
	langs   []string
}

func (s *scriptedTranscriber) Transcribe(_ context.Context, wav []byte, language string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.langs = append(s.langs, language)
	if s.err != nil {
		return "", s.err
	}
	if len(wav) < 44 || string(wav[:4]) != "RIFF" {
		return "", errors.New("not a wav file")
	}
	if len(s.replies) == 0 {
		return "", nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

type recordingHandler struct {
	updates chan []string
	errs    chan string
	ended   chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		updates: make(chan []string, 8),
		errs:    make(chan string, 8),
		ended:   make(chan struct{}, 1),
	}
}

func (h *recordingHandler) OnRecognitionUpdate(f []string) { h.updates <- f }
func (h *recordingHandler) OnRecognitionError(code string)  { h.errs <- code }
func (h *recordingHandler) OnRecognitionEnd()               { h.ended <- struct{}{} }

func (h *recordingHandler) nextUpdate(t *testing.T) []string {
	t.Helper()
	select {
	case u := <-h.updates:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return nil
	}
}

func TestRecognizerAccumulatesHypothesis(t *testing.T) {
	src := newFakeSource()
	stt := &scriptedTranscriber{replies: []string{"hello", "world"}}
	rec := NewRecognizer(src, stt, testSegmenter)
	h := newRecordingHandler()

	if err := rec.Open(context.Background(), conversation.RecognitionOptions{Locale: "en-US"}, h); err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rec.Close()

	src.utterance()
	if got := h.nextUpdate(t); strings.Join(got, "") != "hello" || len(got) != 1 {
		t.Errorf("first update = %q", got)
	}
	src.utterance()
	got := h.nextUpdate(t)
	if len(got) != 2 || got[0] != "hello" || got[1] != " world" {
		t.Errorf("second update = %q, want [hello  world]", got)
	}

	close(src.ch)
	select {
	case <-h.ended:
	case <-time.After(2 * time.Second):
		t.Fatal("OnRecognitionEnd not called after input closed")
	}

	stt.mu.Lock()
	defer stt.mu.Unlock()
	for _, l := range stt.langs {
		if l != "en" {
			t.Errorf("language = %q, want en", l)
		}
	}
}

func TestRecognizerReportsTranscriptionFailure(t *testing.T) {
	src := newFakeSource()
	rec := NewRecognizer(src, &scriptedTranscriber{err: errors.New("boom")}, testSegmenter)
	h := newRecordingHandler()

	if err := rec.Open(context.Background(), conversation.RecognitionOptions{}, h); err != nil {
		t.Fatal(err)
	}
	defer rec.Close()

	src.utterance()
	select {
	case code := <-h.errs:
		if code != ErrCodeNetwork {
			t.Errorf("error code = %q, want %q", code, ErrCodeNetwork)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no recognition error reported")
	}
}

func TestRecognizerOpenClose(t *testing.T) {
	src := newFakeSource()
	rec := NewRecognizer(src, &scriptedTranscriber{}, testSegmenter)
	h := newRecordingHandler()

	// stale audio from before Open is discarded
	src.ch <- audio.Chunk{Data: tone(WindowSamples, 0.5)}

	if err := rec.Open(context.Background(), conversation.RecognitionOptions{}, h); err != nil {
		t.Fatal(err)
	}
	if err := rec.Open(context.Background(), conversation.RecognitionOptions{}, h); err != nil {
		t.Fatal(err)
	}
	if started, _ := src.counts(); started != 1 {
		t.Errorf("source started %d times, want 1", started)
	}
	if len(src.ch) != 0 {
		t.Errorf("stale chunks left = %d", len(src.ch))
	}

	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	if err := rec.Close(); err != nil {
		t.Fatal(err)
	}
	if _, stopped := src.counts(); stopped != 1 {
		t.Errorf("source stopped %d times, want 1", stopped)
	}

	select {
	case <-h.ended:
		t.Error("Close() should not deliver OnRecognitionEnd")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLanguage(t *testing.T) {
	tests := map[string]string{
		"en-US": "en",
		"fr":    "fr",
		"PT-br": "pt",
		"":      "",
	}
	for in, want := range tests {
		if got := language(in); got != want {
			t.Errorf("language(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestWhisperTranscriber(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("model") != "whisper-1" || r.FormValue("language") != "en" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"  hello there "}`))
	}))
	defer srv.Close()

	stt := NewWhisperTranscriber("key", srv.URL+"/v1", "")
	wav := audio.EncodeWAV(make([]int16, 160), 16000)
	got, err := stt.Transcribe(context.Background(), wav, "en")
	if err != nil {
		t.Fatalf("Transcribe() error = %v", err)
	}
	if got != "hello there" {
		t.Errorf("Transcribe() = %q", got)
	}
}

func TestWhisperTranscriberError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"nope"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	stt := NewWhisperTranscriber("key", srv.URL+"/v1", "")
	if _, err := stt.Transcribe(context.Background(), audio.EncodeWAV(nil, 16000), "en"); err == nil {
		t.Error("expected error from failing endpoint")
	}
}
