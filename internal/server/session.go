package server

import (
	"context"
	"encoding/json"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/voicechat/internal/conversation"
	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
	"github.com/GriffinCanCode/voicechat/internal/trace"
)

// session is one browser connection driving its own conversation loop.
type session struct {
	srv     *Server
	conn    *websocket.Conn
	route   string
	mode    conversation.BotMode
	fixed   bool
	limiter *rate.Limiter

	bridge *Bridge
	loop   *conversation.Loop
}

func (s *session) run(ctx context.Context) error {
	caps, err := s.handshake(ctx)
	if err != nil {
		return err
	}

	s.bridge = NewBridge(s.send)
	var (
		in  conversation.SpeechInput
		out conversation.SpeechOutput
	)
	if caps.Recognition {
		in = s.bridge
	}
	if caps.Synthesis {
		out = s.bridge
	}
	s.loop = conversation.New(in, out, s.srv.agent, s.srv.loopOptions(s.mode, s.fixed))

	log := trace.Logger(ctx)
	log.Info("voice session ready", "route", s.route, "recognition", caps.Recognition, "synthesis", caps.Synthesis)

	snapshots, unsubscribe := s.loop.Subscribe(SnapshotBuffer)
	defer unsubscribe()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.loop.Run(gctx) })
	g.Go(func() error { return s.forwardState(gctx, snapshots) })
	g.Go(func() error { return s.forwardTurns(gctx) })
	g.Go(func() error {
		defer s.bridge.Shutdown()
		return s.readLoop(gctx)
	})
	return g.Wait()
}

func (s *session) handshake(ctx context.Context) (CapabilitiesMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	defer cancel()

	var caps CapabilitiesMessage
	if err := wsjson.Read(ctx, s.conn, &caps); err != nil {
		return caps, err
	}
	if caps.Type != MsgCapabilities {
		return caps, apperrors.Newf(apperrors.CodeInvalidArgument, "expected %s message, got %q", MsgCapabilities, caps.Type)
	}
	return caps, nil
}

func (s *session) readLoop(ctx context.Context) error {
	log := trace.Logger(ctx)
	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, s.conn, &raw); err != nil {
			return err
		}

		var base Message
		if err := json.Unmarshal(raw, &base); err != nil {
			log.Debug("malformed frame", "error", err)
			continue
		}
		if limited(base.Type) && !s.limiter.Allow() {
			log.Warn("rate limit exceeded", "route", s.route, "type", base.Type)
			s.srv.metrics.Limited("ws")
			s.reportError(ctx, apperrors.New(apperrors.CodeRateLimited, "rate limit exceeded"))
			continue
		}
		s.handle(ctx, base.Type, raw)
	}
}

// limited reports whether a message type counts against the per-connection
// rate limit. Playback and recognition lifecycle acks are never dropped.
func limited(typ string) bool {
	switch typ {
	case MsgSpeechEnd, MsgSpeechError, MsgRecognitionEnd:
		return false
	default:
		return true
	}
}

func (s *session) handle(ctx context.Context, typ string, raw json.RawMessage) {
	log := trace.Logger(ctx)
	switch typ {
	case MsgStart:
		s.loop.Start()
	case MsgStop:
		s.loop.Stop()
	case MsgToggleMode:
		if err := s.loop.ToggleMode(); err != nil {
			s.reportError(ctx, err)
		}
	case MsgSetMode:
		var m SetModeMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		mode, err := conversation.ParseMode(m.Mode)
		if err == nil {
			err = s.loop.SetMode(mode)
		}
		if err != nil {
			s.reportError(ctx, err)
		}
	case MsgRecognitionResult:
		var m RecognitionResultMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		s.bridge.deliverUpdate(m.Fragments)
	case MsgRecognitionError:
		var m RecognitionErrorMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		s.bridge.deliverError(m.Code)
	case MsgRecognitionEnd:
		s.bridge.deliverEnd()
	case MsgSpeechEnd, MsgSpeechError:
		var m SpeechDoneMessage
		if err := json.Unmarshal(raw, &m); err != nil {
			return
		}
		var err error
		if typ == MsgSpeechError {
			if m.Message == "" {
				m.Message = "speech synthesis failed"
			}
			err = apperrors.New(apperrors.CodeSynthesisFailed, m.Message)
		}
		s.bridge.finishSpeech(m.ID, err)
	case MsgCapabilities:
		log.Debug("capabilities already negotiated")
	default:
		log.Debug("unknown message type", "type", typ)
	}
}

func (s *session) forwardState(ctx context.Context, snapshots <-chan conversation.Snapshot) error {
	if err := s.send(ctx, newStateMessage(s.loop.Snapshot())); err != nil {
		return err
	}
	for snap := range snapshots {
		if err := s.send(ctx, newStateMessage(snap)); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) forwardTurns(ctx context.Context) error {
	journal := s.loop.Journal()
	for {
		select {
		case <-ctx.Done():
			return nil
		case turn := <-journal.Events():
			s.srv.history.Add(turn)
			if err := s.send(ctx, newTurnMessage(turn)); err != nil {
				return err
			}
		}
	}
}

func (s *session) reportError(ctx context.Context, err error) {
	msg := err.Error()
	if appErr, ok := apperrors.As(err); ok {
		msg = appErr.Message
	}
	_ = s.send(ctx, ErrorMessage{Type: MsgError, Code: apperrors.CodeOf(err).String(), Message: msg})
}

func (s *session) send(ctx context.Context, v any) error {
	ctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, s.conn, v)
}
