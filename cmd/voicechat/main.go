// voicechat runs the conversation loop from a terminal, either typed
// (console) or spoken through the local microphone and speaker (local).
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/voicechat/internal/agent"
	"github.com/GriffinCanCode/voicechat/internal/config"
	"github.com/GriffinCanCode/voicechat/internal/conversation"
	"github.com/GriffinCanCode/voicechat/internal/resilience"
)

// globalFlags override configuration loaded from files and the environment.
type globalFlags struct {
	agentURL string
	mode     string
	locale   string
	debounce time.Duration
	verbose  bool
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var flags globalFlags

	cmd := &cobra.Command{
		Use:   "voicechat",
		Short: "Hands-free conversation with a remote agent",
		Long: `Talk to the conversational agent from a terminal.

Examples:
  voicechat console                      # type utterances, read replies
  voicechat console --mode customerbot   # answer as the customer bot
  voicechat local                        # microphone in, speaker out`,
		SilenceUsage: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.agentURL, "agent-url", "", "agent endpoint (default from AGENT_URL)")
	pf.StringVar(&flags.mode, "mode", "", "bot mode: phonebot or customerbot")
	pf.StringVar(&flags.locale, "locale", "", "recognition locale, e.g. en-US")
	pf.DurationVar(&flags.debounce, "debounce", 0, "pause that ends an utterance")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(consoleCmd(&flags), localCmd(&flags))
	return cmd
}

// loadConfig resolves configuration, applies flag overrides and installs
// the default logger on stderr.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg := config.Load()
	if flags.agentURL != "" {
		cfg.AgentURL = flags.agentURL
	}
	if flags.mode != "" {
		mode, err := conversation.ParseMode(flags.mode)
		if err != nil {
			return nil, err
		}
		cfg.BotMode = string(mode)
	}
	if flags.locale != "" {
		cfg.Locale = flags.locale
	}
	if flags.debounce > 0 {
		cfg.DebounceWindow = flags.debounce
	}
	if flags.verbose {
		cfg.LogLevel = "debug"
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()})))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newAgent(cfg *config.Config) *agent.Client {
	return agent.New(agent.Config{
		URL:     cfg.AgentURL,
		Timeout: cfg.AgentTimeout,
		Breaker: resilience.Config{
			Threshold:    cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerCooldown,
		},
		OnBreakerChange: func(from, to resilience.State) {
			slog.Warn("agent circuit changed", "from", from.String(), "to", to.String())
		},
	})
}

func loopOptions(cfg *config.Config) conversation.Options {
	return conversation.Options{
		Locale:          cfg.Locale,
		DebounceWindow:  cfg.DebounceWindow,
		RestartDelay:    cfg.RestartDelay,
		Mode:            conversation.BotMode(cfg.BotMode),
		RearmOnSilence:  cfg.RearmOnSilence,
		LegacyCallbacks: cfg.LegacyCallbacks,
	}
}

// runLoop drives loop until ctx ends, echoing status changes to w and
// logging completed turns. The first error from any goroutine is returned.
func runLoop(ctx context.Context, loop *conversation.Loop, w io.Writer, extra ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error {
		updates, unsubscribe := loop.Subscribe(8)
		defer unsubscribe()
		last := ""
		for {
			select {
			case <-gctx.Done():
				return nil
			case snap, ok := <-updates:
				if !ok {
					return nil
				}
				if status := statusLine(snap); status != last {
					fmt.Fprintln(w, status)
					last = status
				}
			}
		}
	})
	g.Go(func() error {
		turns := loop.Journal().Events()
		for {
			select {
			case <-gctx.Done():
				return nil
			case turn := <-turns:
				slog.Debug("turn completed", "session_id", turn.SessionID, "mode", string(turn.Mode),
					"utterance", turn.Utterance, "reply", turn.Reply)
			}
		}
	})
	for _, fn := range extra {
		g.Go(func() error { return fn(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func statusLine(s conversation.Snapshot) string {
	return fmt.Sprintf("[%s | %s] %s", s.State, s.Mode, s.Status())
}
