// Package config handles voicechat configuration.
//
// Values are resolved in order: built-in defaults, an optional YAML file
// named by CONFIG_FILE, then environment variables. A .env file (or the file
// named by ENV_FILE) is loaded into the environment first; variables already
// set take precedence over it.
package config

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
)

const (
	DefaultAgentURL = "https://aliumam-bot.hf.space/chat"
	DefaultLocale   = "en-US"
)

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	LogLevel string `yaml:"log_level"`

	// Conversation loop
	AgentURL        string        `yaml:"agent_url"`
	AgentTimeout    time.Duration `yaml:"agent_timeout"`
	BotMode         string        `yaml:"bot_mode"`
	Locale          string        `yaml:"locale"`
	DebounceWindow  time.Duration `yaml:"debounce_window"`
	RestartDelay    time.Duration `yaml:"restart_delay"`
	RearmOnSilence  bool          `yaml:"rearm_on_silence"`
	LegacyCallbacks bool          `yaml:"legacy_callbacks"`

	// Agent circuit breaker
	BreakerFailures int           `yaml:"breaker_failures"`
	BreakerCooldown time.Duration `yaml:"breaker_cooldown"`

	// HTTP / WebSocket surface
	AllowedOrigins        []string `yaml:"allowed_origins"`
	HTTPRequestsPerMinute int      `yaml:"http_requests_per_minute"`
	WSMessagesPerSecond   float64  `yaml:"ws_messages_per_second"`
	WSBurst               int      `yaml:"ws_burst"`

	// Local audio pipeline
	SampleRate           int      `yaml:"sample_rate"`
	VADThreshold         float64  `yaml:"vad_threshold"`
	MaxSilenceChunks     int      `yaml:"max_silence_chunks"`
	ExcludedAudioDevices []string `yaml:"excluded_audio_devices"`

	// Speech providers
	OpenAIAPIKey      string `yaml:"openai_api_key"`
	OpenAIBaseURL     string `yaml:"openai_base_url"`
	STTModel          string `yaml:"stt_model"`
	TTSProvider       string `yaml:"tts_provider"`
	TTSModel          string `yaml:"tts_model"`
	TTSVoice          string `yaml:"tts_voice"`
	ElevenLabsAPIKey  string `yaml:"elevenlabs_api_key"`
	ElevenLabsVoiceID string `yaml:"elevenlabs_voice_id"`

	// Observability
	MetricsEnabled bool   `yaml:"metrics_enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPProtocol   string `yaml:"otlp_protocol"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	ServiceName    string `yaml:"service_name"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		HTTPAddr:              ":8000",
		LogLevel:              "info",
		AgentURL:              DefaultAgentURL,
		AgentTimeout:          30 * time.Second,
		BotMode:               "phonebot",
		Locale:                DefaultLocale,
		DebounceWindow:        2000 * time.Millisecond,
		RestartDelay:          800 * time.Millisecond,
		BreakerFailures:       5,
		BreakerCooldown:       30 * time.Second,
		AllowedOrigins:        []string{"*"},
		HTTPRequestsPerMinute: 120,
		WSMessagesPerSecond:   20,
		WSBurst:               40,
		SampleRate:            16000,
		VADThreshold:          0.02,
		MaxSilenceChunks:      15,
		ExcludedAudioDevices:  []string{"iphone", "teams"},
		STTModel:              "whisper-1",
		TTSProvider:           "openai",
		TTSModel:              "tts-1",
		TTSVoice:              "alloy",
		ElevenLabsVoiceID:     "21m00Tcm4TlvDq8ikWAM",
		MetricsEnabled:        true,
		OTLPProtocol:          "grpc",
		OTLPInsecure:          true,
		ServiceName:           "voicechat",
	}
}

// Load resolves configuration from defaults, CONFIG_FILE and the environment.
// A missing or unreadable file is logged and skipped.
func Load() *Config {
	loadDotEnv()
	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.mergeFile(path); err != nil {
			slog.Warn("config file ignored", "path", path, "error", err)
		}
	}
	cfg.applyEnv()
	return cfg
}

func loadDotEnv() {
	path := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("env file ignored", "path", path, "error", err)
	}
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "read config file")
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "parse config file")
	}
	return nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.AgentURL = getEnv("AGENT_URL", c.AgentURL)
	c.AgentTimeout = getEnvDuration("AGENT_TIMEOUT", c.AgentTimeout)
	c.BotMode = getEnv("BOT_MODE", c.BotMode)
	c.Locale = getEnv("LOCALE", c.Locale)
	c.DebounceWindow = getEnvDuration("DEBOUNCE_WINDOW", c.DebounceWindow)
	c.RestartDelay = getEnvDuration("RESTART_DELAY", c.RestartDelay)
	c.RearmOnSilence = getEnvBool("REARM_ON_SILENCE", c.RearmOnSilence)
	c.LegacyCallbacks = getEnvBool("LEGACY_CALLBACKS", c.LegacyCallbacks)
	c.BreakerFailures = getEnvInt("BREAKER_FAILURES", c.BreakerFailures)
	c.BreakerCooldown = getEnvDuration("BREAKER_COOLDOWN", c.BreakerCooldown)
	c.AllowedOrigins = getEnvList("ALLOWED_ORIGINS", c.AllowedOrigins)
	c.HTTPRequestsPerMinute = getEnvInt("HTTP_REQUESTS_PER_MINUTE", c.HTTPRequestsPerMinute)
	c.WSMessagesPerSecond = getEnvFloat("WS_MESSAGES_PER_SECOND", c.WSMessagesPerSecond)
	c.WSBurst = getEnvInt("WS_BURST", c.WSBurst)
	c.SampleRate = getEnvInt("SAMPLE_RATE", c.SampleRate)
	c.VADThreshold = getEnvFloat("VAD_THRESHOLD", c.VADThreshold)
	c.MaxSilenceChunks = getEnvInt("MAX_SILENCE_CHUNKS", c.MaxSilenceChunks)
	c.ExcludedAudioDevices = getEnvList("EXCLUDED_AUDIO_DEVICES", c.ExcludedAudioDevices)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.STTModel = getEnv("STT_MODEL", c.STTModel)
	c.TTSProvider = getEnv("TTS_PROVIDER", c.TTSProvider)
	c.TTSModel = getEnv("TTS_MODEL", c.TTSModel)
	c.TTSVoice = getEnv("TTS_VOICE", c.TTSVoice)
	c.ElevenLabsAPIKey = getEnv("ELEVENLABS_API_KEY", c.ElevenLabsAPIKey)
	c.ElevenLabsVoiceID = getEnv("ELEVENLABS_VOICE_ID", c.ElevenLabsVoiceID)
	c.MetricsEnabled = getEnvBool("METRICS_ENABLED", c.MetricsEnabled)
	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_ENDPOINT", c.OTLPEndpoint)
	c.OTLPProtocol = getEnv("OTEL_EXPORTER_PROTOCOL", c.OTLPProtocol)
	c.OTLPInsecure = getEnvBool("OTEL_EXPORTER_INSECURE", c.OTLPInsecure)
	c.ServiceName = getEnv("OTEL_SERVICE_NAME", c.ServiceName)
}

// Validate checks values the conversation loop cannot run without.
func (c *Config) Validate() error {
	u, err := url.Parse(c.AgentURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return apperrors.Newf(apperrors.CodeConfigInvalid, "agent_url %q must be an absolute http(s) URL", c.AgentURL)
	}
	switch c.BotMode {
	case "phonebot", "customerbot":
	default:
		return apperrors.Newf(apperrors.CodeConfigInvalid, "bot_mode %q must be phonebot or customerbot", c.BotMode)
	}
	if c.DebounceWindow <= 0 {
		return apperrors.New(apperrors.CodeConfigInvalid, "debounce_window must be positive")
	}
	if c.RestartDelay < 0 {
		return apperrors.New(apperrors.CodeConfigInvalid, "restart_delay must not be negative")
	}
	switch c.TTSProvider {
	case "openai", "elevenlabs":
	default:
		return apperrors.Newf(apperrors.CodeConfigInvalid, "tts_provider %q must be openai or elevenlabs", c.TTSProvider)
	}
	switch c.OTLPProtocol {
	case "grpc", "http":
	default:
		return apperrors.Newf(apperrors.CodeConfigInvalid, "otlp_protocol %q must be grpc or http", c.OTLPProtocol)
	}
	return nil
}

// SlogLevel maps LogLevel onto slog levels, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}

// getEnvDuration accepts Go duration strings ("2s") or bare milliseconds ("2000").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
