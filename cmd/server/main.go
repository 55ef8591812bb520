// Voice chat server - serves browser conversation loops over WebSocket
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/GriffinCanCode/voicechat/internal/agent"
	"github.com/GriffinCanCode/voicechat/internal/config"
	"github.com/GriffinCanCode/voicechat/internal/metrics"
	"github.com/GriffinCanCode/voicechat/internal/resilience"
	"github.com/GriffinCanCode/voicechat/internal/server"
	"github.com/GriffinCanCode/voicechat/internal/trace"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := trace.Setup(ctx, trace.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Protocol:    cfg.OTLPProtocol,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: cfg.ServiceName,
	})
	if err != nil {
		slog.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}

	m := metrics.New("voicechat")
	client := agent.New(agent.Config{
		URL:     cfg.AgentURL,
		Timeout: cfg.AgentTimeout,
		Breaker: resilience.Config{
			Threshold:    cfg.BreakerFailures,
			ResetTimeout: cfg.BreakerCooldown,
		},
		OnBreakerChange: func(from, to resilience.State) {
			slog.Warn("agent circuit changed", "from", from.String(), "to", to.String())
			m.BreakerChanged(from, to)
		},
	})

	srv := server.New(cfg, client, m)
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("voicechat server starting", "http", cfg.HTTPAddr, "agent", cfg.AgentURL, "mode", cfg.BotMode)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("http shutdown error", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Error("trace shutdown error", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("shutdown complete")
}
