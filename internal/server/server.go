// Package server provides HTTP and WebSocket handlers
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/voicechat/internal/config"
	"github.com/GriffinCanCode/voicechat/internal/conversation"
	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
	"github.com/GriffinCanCode/voicechat/internal/metrics"
	"github.com/GriffinCanCode/voicechat/internal/resilience"
	"github.com/GriffinCanCode/voicechat/internal/trace"
)

const historyTurns = 200

// breakerReporter is implemented by agents guarded by a circuit breaker.
type breakerReporter interface {
	BreakerState() resilience.State
}

// Server handles HTTP and WebSocket connections. Every WebSocket connection
// owns an independent conversation loop.
type Server struct {
	cfg     *config.Config
	agent   conversation.Agent
	metrics *metrics.Metrics
	history *conversation.Journal
	clock   conversation.Clock
}

// New creates a new server. A nil m gets a private registry.
func New(cfg *config.Config, agent conversation.Agent, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.New("")
	}
	return &Server{
		cfg:     cfg,
		agent:   agent,
		metrics: m,
		history: conversation.NewJournal(historyTurns, 1),
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(trace.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	if s.cfg.MetricsEnabled {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		if s.cfg.HTTPRequestsPerMinute > 0 {
			r.Use(httprate.Limit(s.cfg.HTTPRequestsPerMinute, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(s.handleLimited),
			))
		}
		r.Get("/api/turns", s.handleTurns)

		defaultMode, err := conversation.ParseMode(s.cfg.BotMode)
		if err != nil {
			defaultMode = conversation.PhoneBot
		}
		r.Get(RouteToggle, s.handleVoice(RouteToggle, defaultMode, false))
		r.Get(RoutePhone, s.handleVoice(RoutePhone, conversation.PhoneBot, true))
		r.Get(RouteCustomer, s.handleVoice(RouteCustomer, conversation.CustomerBot, true))
	})
	return r
}

func (s *Server) handleVoice(route string, mode conversation.BotMode, fixed bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: originPatterns(s.cfg.AllowedOrigins),
		})
		if err != nil {
			trace.Logger(r.Context()).Error("websocket accept error", "error", err)
			return
		}
		defer func() { _ = conn.CloseNow() }()
		conn.SetReadLimit(ReadLimit)

		ctx, span := trace.StartSpan(r.Context(), "ws_session")
		defer span.End()
		span.SetAttr("route", route)

		s.metrics.SessionOpened(route)
		defer s.metrics.SessionClosed()

		log := trace.Logger(ctx)
		log.Info("websocket connected", "remote", r.RemoteAddr, "route", route)

		sess := &session{
			srv:     s,
			conn:    conn,
			route:   route,
			mode:    mode,
			fixed:   fixed,
			limiter: rate.NewLimiter(rate.Limit(s.cfg.WSMessagesPerSecond), s.cfg.WSBurst),
		}
		err = sess.run(ctx)
		switch {
		case apperrors.IsCode(err, apperrors.CodeInvalidArgument):
			log.Warn("handshake rejected", "error", err)
			_ = conn.Close(websocket.StatusPolicyViolation, "capabilities required")
		case isNormalClose(err):
			log.Info("websocket disconnected")
			_ = conn.Close(websocket.StatusNormalClosure, "")
		default:
			span.RecordError(err)
			log.Warn("websocket session ended", "error", err)
			_ = conn.Close(websocket.StatusInternalError, "")
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]string{"status": "ok"}
	if br, ok := s.agent.(breakerReporter); ok {
		resp["agent_breaker"] = br.BreakerState().String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleTurns lists the newest completed turns across all sessions.
func (s *Server) handleTurns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, apperrors.Newf(apperrors.CodeInvalidArgument, "invalid limit %q", v))
			return
		}
		limit = n
	}
	turns := s.history.Recent(limit)
	out := make([]TurnMessage, 0, len(turns))
	for _, t := range turns {
		out = append(out, newTurnMessage(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLimited(w http.ResponseWriter, _ *http.Request) {
	s.metrics.Limited("http")
	writeError(w, apperrors.New(apperrors.CodeRateLimited, "rate limit exceeded"))
}

func (s *Server) loopOptions(mode conversation.BotMode, fixed bool) conversation.Options {
	return conversation.Options{
		Locale:          s.cfg.Locale,
		DebounceWindow:  s.cfg.DebounceWindow,
		RestartDelay:    s.cfg.RestartDelay,
		Mode:            mode,
		FixedMode:       fixed,
		RearmOnSilence:  s.cfg.RearmOnSilence,
		LegacyCallbacks: s.cfg.LegacyCallbacks,
		Clock:           s.clock,
		Metrics:         s.metrics,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err *apperrors.AppError) {
	writeJSON(w, err.HTTPStatus(), map[string]string{"error": err.Message, "code": err.Code.String()})
}

// originPatterns converts CORS origins ("https://app.example.com") into the
// host patterns websocket.Accept expects.
func originPatterns(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if strings.Contains(o, "://") {
			if u, err := url.Parse(o); err == nil && u.Host != "" {
				o = u.Host
			}
		}
		out = append(out, o)
	}
	return out
}

func isNormalClose(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
