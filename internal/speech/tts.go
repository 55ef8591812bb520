package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/GriffinCanCode/voicechat/internal/audio"
	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
	"github.com/GriffinCanCode/voicechat/internal/trace"
)

const (
	// OpenAI returns raw PCM at a fixed 24kHz.
	openAIPCMRate = 24000

	elevenLabsBaseURL = "https://api.elevenlabs.io"
	elevenLabsModel   = "eleven_multilingual_v2"
	elevenLabsPCMRate = 16000

	maxAudioBytes = 32 << 20
)

// Synthesizer renders text as mono 16-bit PCM.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, text string) (samples []int16, sampleRate int, err error)
}

// OpenAISynthesizer uses the OpenAI speech endpoint.
type OpenAISynthesizer struct {
	client *openai.Client
	model  string
	voice  string
}

func NewOpenAISynthesizer(apiKey, baseURL, model, voice string) *OpenAISynthesizer {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = "tts-1"
	}
	if voice == "" {
		voice = "alloy"
	}
	return &OpenAISynthesizer{client: openai.NewClientWithConfig(cfg), model: model, voice: voice}
}

func (s *OpenAISynthesizer) Name() string { return "openai" }

func (s *OpenAISynthesizer) Synthesize(ctx context.Context, text string) ([]int16, int, error) {
	resp, err := s.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeSynthesisFailed, "openai speech request")
	}
	defer resp.Close()

	data, err := io.ReadAll(io.LimitReader(resp, maxAudioBytes))
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeSynthesisFailed, "read openai speech")
	}
	return audio.PCM16FromBytes(data), openAIPCMRate, nil
}

// ElevenLabsConfig configures the ElevenLabs provider.
type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string
	Timeout time.Duration
}

// ElevenLabsSynthesizer calls the ElevenLabs text-to-speech REST API.
type ElevenLabsSynthesizer struct {
	cfg  ElevenLabsConfig
	http *http.Client
}

func NewElevenLabsSynthesizer(cfg ElevenLabsConfig) *ElevenLabsSynthesizer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = elevenLabsBaseURL
	}
	if cfg.ModelID == "" {
		cfg.ModelID = elevenLabsModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ElevenLabsSynthesizer{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

func (s *ElevenLabsSynthesizer) Name() string { return "elevenlabs" }

type elevenLabsRequest struct {
	Text          string             `json:"text"`
	ModelID       string             `json:"model_id"`
	VoiceSettings elevenLabsSettings `json:"voice_settings"`
}

type elevenLabsSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

func (s *ElevenLabsSynthesizer) Synthesize(ctx context.Context, text string) ([]int16, int, error) {
	body, err := json.Marshal(elevenLabsRequest{
		Text:          text,
		ModelID:       s.cfg.ModelID,
		VoiceSettings: elevenLabsSettings{Stability: 0.5, SimilarityBoost: 0.75},
	})
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeSynthesisFailed, "encode elevenlabs request")
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%d",
		strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.VoiceID, elevenLabsPCMRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeSynthesisFailed, "create elevenlabs request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.APIKey)
	trace.Inject(req)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeSynthesisFailed, "elevenlabs request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, 0, apperrors.Newf(apperrors.CodeSynthesisFailed, "elevenlabs status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes))
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.CodeSynthesisFailed, "read elevenlabs audio")
	}
	return audio.PCM16FromBytes(data), elevenLabsPCMRate, nil
}

// OpenAIConfig configures the OpenAI speech provider.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Voice   string
}

// NewSynthesizer builds the provider named by provider ("openai" or
// "elevenlabs").
func NewSynthesizer(provider string, oa OpenAIConfig, el ElevenLabsConfig) (Synthesizer, error) {
	switch provider {
	case "", "openai":
		return NewOpenAISynthesizer(oa.APIKey, oa.BaseURL, oa.Model, oa.Voice), nil
	case "elevenlabs":
		return NewElevenLabsSynthesizer(el), nil
	default:
		return nil, apperrors.Newf(apperrors.CodeConfigInvalid, "unknown tts provider %q", provider)
	}
}
