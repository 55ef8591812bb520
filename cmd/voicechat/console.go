package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/voicechat/internal/conversation"
	"github.com/GriffinCanCode/voicechat/internal/speech"
)

const consoleHelp = `Type to talk; a pause of the debounce window sends the utterance.
Commands: /start /stop /mode [phonebot|customerbot] /quit`

func consoleCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Converse by typing; replies are printed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runConsole(ctx, newAgent(cfg), loopOptions(cfg), os.Stdin, cmd.OutOrStdout())
		},
	}
}

// runConsole runs a typed conversation until quit, ctx ends, or in is
// exhausted and the loop has settled.
func runConsole(ctx context.Context, agent conversation.Agent, opts conversation.Options, in io.Reader, out io.Writer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	input := speech.NewConsoleInput(in)
	loop := conversation.New(input, speech.NewConsoleOutput(out, "bot> "), agent, opts)
	input.Unhandled = func(line string) {
		if quit := consoleCommand(loop, line, out); quit {
			cancel()
		}
	}

	updates, unsubscribe := loop.Subscribe(8)
	defer unsubscribe()

	fmt.Fprintln(out, consoleHelp)
	loop.Start()

	return runLoop(ctx, loop, out, func(ctx context.Context) error {
		// Quit once input is exhausted and the loop has gone back to idle
		// after having been active.
		var active, exhausted bool
		eof := input.Done()
		for {
			select {
			case <-ctx.Done():
				return nil
			case snap, ok := <-updates:
				if !ok {
					return nil
				}
				active = active || snap.State != conversation.Idle
			case <-eof:
				eof, exhausted = nil, true
			}
			if exhausted && active && loop.Snapshot().State == conversation.Idle {
				cancel()
				return nil
			}
		}
	})
}

// consoleCommand handles a line the loop did not consume. It reports
// whether the user asked to quit.
func consoleCommand(loop *conversation.Loop, line string, out io.Writer) bool {
	name, arg, _ := strings.Cut(line, " ")
	switch name {
	case "/quit", "/exit":
		return true
	case "/start":
		loop.Start()
	case "/stop":
		loop.Stop()
	case "/mode":
		var err error
		if arg = strings.TrimSpace(arg); arg == "" {
			err = loop.ToggleMode()
		} else {
			var mode conversation.BotMode
			if mode, err = conversation.ParseMode(arg); err == nil {
				err = loop.SetMode(mode)
			}
		}
		if err != nil {
			fmt.Fprintln(out, "error:", err)
		}
	case "/help":
		fmt.Fprintln(out, consoleHelp)
	default:
		if strings.HasPrefix(name, "/") {
			fmt.Fprintf(out, "unknown command %s\n", name)
			return false
		}
		if s := loop.Snapshot(); s.State == conversation.Idle {
			fmt.Fprintln(out, "not listening; type /start first")
		} else {
			fmt.Fprintln(out, "busy; wait for the reply")
		}
	}
	return false
}
