package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/voicechat/internal/audio"
	"github.com/GriffinCanCode/voicechat/internal/config"
	"github.com/GriffinCanCode/voicechat/internal/conversation"
	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
	"github.com/GriffinCanCode/voicechat/internal/speech"
)

func localCmd(flags *globalFlags) *cobra.Command {
	var rearm bool

	cmd := &cobra.Command{
		Use:   "local",
		Short: "Converse through the local microphone and speaker",
		Long: `Capture the microphone, transcribe pauses with Whisper, send them to the
agent and speak replies with the configured TTS provider (openai or
elevenlabs). Requires OPENAI_API_KEY; ELEVENLABS_API_KEY for elevenlabs.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("rearm") || os.Getenv("REARM_ON_SILENCE") == "" {
				cfg.RearmOnSilence = rearm
			}
			input, output, err := localSpeech(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			loop := conversation.New(input, output, newAgent(cfg), loopOptions(cfg))
			fmt.Fprintln(cmd.OutOrStdout(), "Listening. Press Ctrl-C to quit.")
			loop.Start()
			return runLoop(ctx, loop, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&rearm, "rearm", true, "keep listening after a silent pause")
	return cmd
}

// localSpeech wires the microphone recognizer and the TTS speaker.
func localSpeech(cfg *config.Config) (*speech.Recognizer, *speech.Speaker, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, nil, apperrors.New(apperrors.CodeConfigInvalid, "OPENAI_API_KEY is required for local speech")
	}
	if cfg.TTSProvider == "elevenlabs" && cfg.ElevenLabsAPIKey == "" {
		return nil, nil, apperrors.New(apperrors.CodeConfigInvalid, "ELEVENLABS_API_KEY is required for elevenlabs")
	}

	capturer := audio.NewCapturer(cfg.SampleRate, audio.DefaultChunkBuffer, cfg.ExcludedAudioDevices)
	stt := speech.NewWhisperTranscriber(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.STTModel)
	recognizer := speech.NewRecognizer(capturer, stt, speech.SegmenterConfig{
		VADThreshold:     cfg.VADThreshold,
		MaxSilenceChunks: cfg.MaxSilenceChunks,
	})

	tts, err := speech.NewSynthesizer(cfg.TTSProvider,
		speech.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.TTSModel,
			Voice:   cfg.TTSVoice,
		},
		speech.ElevenLabsConfig{
			APIKey:  cfg.ElevenLabsAPIKey,
			VoiceID: cfg.ElevenLabsVoiceID,
		},
	)
	if err != nil {
		return nil, nil, err
	}
	return recognizer, speech.NewSpeaker(tts, audio.NewPlayer()), nil
}
