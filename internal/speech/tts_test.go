package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
)

func TestElevenLabsSynthesize(t *testing.T) {
	var got elevenLabsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/text-to-speech/voice-1" {
			http.Error(w, "unexpected "+r.Method+" "+r.URL.Path, http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("output_format") != "pcm_16000" {
			http.Error(w, "bad format", http.StatusBadRequest)
			return
		}
		if r.Header.Get("xi-api-key") != "secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte{0x01, 0x00, 0xff, 0xff, 0x00, 0x80})
	}))
	defer srv.Close()

	s := NewElevenLabsSynthesizer(ElevenLabsConfig{APIKey: "secret", BaseURL: srv.URL + "/", VoiceID: "voice-1"})
	samples, rate, err := s.Synthesize(context.Background(), "Hi there")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	want := []int16{1, -1, -32768}
	if len(samples) != len(want) {
		t.Fatalf("samples = %v, want %v", samples, want)
	}
	for i := range want {
		if samples[i] != want[i] {
			t.Errorf("samples[%d] = %d, want %d", i, samples[i], want[i])
		}
	}
	if got.Text != "Hi there" || got.ModelID != elevenLabsModel {
		t.Errorf("request = %+v", got)
	}
}

func TestElevenLabsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewElevenLabsSynthesizer(ElevenLabsConfig{BaseURL: srv.URL, VoiceID: "v"})
	_, _, err := s.Synthesize(context.Background(), "x")
	if !apperrors.IsCode(err, apperrors.CodeSynthesisFailed) {
		t.Fatalf("error = %v, want SYNTHESIS_FAILED", err)
	}
}

func TestOpenAISynthesize(t *testing.T) {
	var req map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write([]byte{0x10, 0x00, 0x20, 0x00})
	}))
	defer srv.Close()

	s := NewOpenAISynthesizer("key", srv.URL+"/v1", "", "")
	samples, rate, err := s.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if rate != 24000 || len(samples) != 2 || samples[0] != 16 || samples[1] != 32 {
		t.Errorf("Synthesize() = %v @ %d", samples, rate)
	}
	if req["model"] != "tts-1" || req["voice"] != "alloy" || req["response_format"] != "pcm" || req["input"] != "hello" {
		t.Errorf("request = %v", req)
	}
}

func TestNewSynthesizer(t *testing.T) {
	tests := []struct {
		provider string
		want     string
		wantErr  bool
	}{
		{"", "openai", false},
		{"openai", "openai", false},
		{"elevenlabs", "elevenlabs", false},
		{"festival", "", true},
	}
	for _, tt := range tests {
		s, err := NewSynthesizer(tt.provider, OpenAIConfig{}, ElevenLabsConfig{})
		if tt.wantErr {
			if !apperrors.IsCode(err, apperrors.CodeConfigInvalid) {
				t.Errorf("NewSynthesizer(%q) error = %v, want CONFIG_INVALID", tt.provider, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("NewSynthesizer(%q) error = %v", tt.provider, err)
			continue
		}
		if s.Name() != tt.want {
			t.Errorf("NewSynthesizer(%q).Name() = %q, want %q", tt.provider, s.Name(), tt.want)
		}
	}
}
