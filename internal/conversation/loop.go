package conversation

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
	"github.com/GriffinCanCode/voicechat/internal/syncx"
	"github.com/GriffinCanCode/voicechat/internal/trace"
)

const (
	DefaultDebounceWindow = 2000 * time.Millisecond
	DefaultRestartDelay   = 800 * time.Millisecond
	DefaultLocale         = "en-US"

	eventBuffer      = 64
	journalTurns     = 50
	journalEventsBuf = 16
)

// ErrModeFixed is returned when changing the mode of a loop bound to a route.
var ErrModeFixed = apperrors.New(apperrors.CodeModeFixed, "bot mode is fixed for this session")

// Options tunes a Loop. Zero values take the defaults.
type Options struct {
	Locale         string
	DebounceWindow time.Duration
	RestartDelay   time.Duration
	Mode           BotMode
	// FixedMode pins Mode for the lifetime of the loop.
	FixedMode bool
	// RearmOnSilence reopens recognition when a pause produced no words or
	// the source ended on its own, instead of waiting in place.
	RearmOnSilence bool
	// LegacyCallbacks applies agent replies and auto-restarts even after the
	// user pressed stop.
	LegacyCallbacks bool

	Clock   Clock
	Metrics Metrics
	Journal *Journal
}

func (o Options) withDefaults() Options {
	if o.Locale == "" {
		o.Locale = DefaultLocale
	}
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = DefaultDebounceWindow
	}
	if o.RestartDelay <= 0 {
		o.RestartDelay = DefaultRestartDelay
	}
	if o.Mode == "" {
		o.Mode = PhoneBot
	}
	if o.Clock == nil {
		o.Clock = realClock{}
	}
	if o.Metrics == nil {
		o.Metrics = noopMetrics{}
	}
	if o.Journal == nil {
		o.Journal = NewJournal(journalTurns, journalEventsBuf)
	}
	return o
}

// Loop is the conversation state machine. Public methods only enqueue
// events; all state below is owned by the goroutine running Run.
type Loop struct {
	input  SpeechInput
	output SpeechOutput
	agent  Agent
	opts   Options

	available bool
	events    chan event
	done      chan struct{}
	ctx       context.Context
	spawn     func(func())

	snap *syncx.RWGuard[Snapshot]
	feed *syncx.Broadcaster[Snapshot]

	state         State
	transcript    string
	pending       string
	mode          BotMode
	sessionID     string
	sessionActive bool
	listening     bool
	inFlight      bool

	gen         uint64 // bumped by user start/stop
	epoch       uint64 // bumped on every recognition open/close
	debounce    Timer
	debounceSeq uint64
	restart     Timer
	restartSeq  uint64

	cancelDispatch context.CancelFunc
	cancelSpeak    context.CancelFunc
}

// New creates a loop. A nil input or output marks the speech capability as
// unavailable: the loop still runs but Start is always refused.
func New(input SpeechInput, output SpeechOutput, agent Agent, opts Options) *Loop {
	opts = opts.withDefaults()
	l := &Loop{
		input:     input,
		output:    output,
		agent:     agent,
		opts:      opts,
		available: input != nil && output != nil,
		events:    make(chan event, eventBuffer),
		done:      make(chan struct{}),
		ctx:       context.Background(),
		spawn:     func(f func()) { go f() },
		feed:      syncx.NewBroadcaster[Snapshot](),
		mode:      opts.Mode,
	}
	l.snap = syncx.NewGuard(l.buildSnapshot())
	return l
}

// Run processes events until ctx is cancelled, then releases the speech
// input and cancels outstanding work.
func (l *Loop) Run(ctx context.Context) error {
	l.ctx = ctx
	defer l.shutdown()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-l.events:
			l.handle(ev)
		}
	}
}

// Start begins listening. Ignored while sending or speaking.
func (l *Loop) Start() { l.post(startCmd{}) }

// Stop ends the session: recognition closes, pending work is abandoned and
// no automatic restart follows.
func (l *Loop) Stop() { l.post(stopCmd{}) }

// SetMode selects the mode used by the next dispatch.
func (l *Loop) SetMode(m BotMode) error {
	if l.opts.FixedMode && m != l.opts.Mode {
		return ErrModeFixed
	}
	l.post(modeCmd{mode: m})
	return nil
}

// ToggleMode flips between PhoneBot and CustomerBot.
func (l *Loop) ToggleMode() error {
	if l.opts.FixedMode {
		return ErrModeFixed
	}
	l.post(modeCmd{toggle: true})
	return nil
}

// Snapshot returns the latest published view.
func (l *Loop) Snapshot() Snapshot { return l.snap.Get() }

// Subscribe streams snapshots as they change. Call the returned func to stop.
func (l *Loop) Subscribe(buffer int) (<-chan Snapshot, func()) {
	return l.feed.Subscribe(buffer)
}

// Journal returns the in-memory log of completed turns.
func (l *Loop) Journal() *Journal { return l.opts.Journal }

func (l *Loop) post(ev event) {
	select {
	case l.events <- ev:
	case <-l.done:
	}
}

func (l *Loop) handle(ev event) {
	switch e := ev.(type) {
	case startCmd:
		l.start(true)
	case stopCmd:
		l.stop(true)
	case modeCmd:
		l.changeMode(e)
	case recognitionUpdate:
		l.onRecognitionUpdate(e)
	case recognitionError:
		l.onRecognitionError(e)
	case recognitionEnd:
		l.onRecognitionEnd(e)
	case debounceExpired:
		l.onDebounceExpire(e)
	case agentReplied:
		l.onAgentReply(e)
	case synthesisComplete:
		l.onSynthesisComplete(e)
	case restartDue:
		l.onRestartDue(e)
	default:
		l.logger().Warn("unknown event", "kind", ev.kind())
	}
	l.publish()
}

func (l *Loop) start(user bool) {
	log := l.logger()
	if !l.available {
		log.Warn("speech recognition unavailable, start ignored")
		return
	}
	if l.state == Sending || l.state == Speaking || l.inFlight {
		log.Debug("start ignored while busy")
		return
	}
	if l.state == Listening {
		return
	}

	l.cancelRestart()
	if user {
		l.gen++
	}
	l.epoch++
	opts := RecognitionOptions{Locale: l.opts.Locale, Continuous: true, InterimResults: true}
	if err := l.input.Open(l.ctx, opts, recognitionSink{l: l, epoch: l.epoch}); err != nil {
		log.Error("speech recognition start failed",
			"error", apperrors.Wrap(err, apperrors.CodeRecognitionFailed, "open speech input"))
		l.setState(Idle)
		return
	}

	l.listening = true
	l.sessionActive = true
	l.sessionID = uuid.NewString()
	l.transcript = ""
	l.setState(Listening)
	l.logger().Info("listening started", "auto", !user)
}

func (l *Loop) stop(user bool) {
	l.cancelDebounce()
	l.closeInput()

	if user && !l.opts.LegacyCallbacks {
		l.sessionActive = false
		l.gen++
		l.cancelRestart()
		l.abortInFlight()
		l.sessionID = ""
		l.setState(Idle)
		return
	}
	if user {
		l.sessionID = ""
	}
	if l.state == Listening {
		l.setState(Idle)
	}
}

func (l *Loop) closeInput() {
	if !l.listening {
		return
	}
	l.listening = false
	l.epoch++
	if err := l.input.Close(); err != nil {
		l.logger().Warn("speech recognition stop failed", "error", err)
	}
}

func (l *Loop) abortInFlight() {
	if l.cancelDispatch != nil {
		l.cancelDispatch()
		l.cancelDispatch = nil
	}
	if l.cancelSpeak != nil {
		l.cancelSpeak()
		l.cancelSpeak = nil
	}
	l.inFlight = false
	l.pending = ""
}

func (l *Loop) changeMode(e modeCmd) {
	if l.opts.FixedMode {
		return
	}
	if e.toggle {
		l.mode = l.mode.Toggle()
	} else {
		l.mode = e.mode
	}
	l.logger().Info("bot mode changed")
}

func (l *Loop) onRecognitionUpdate(e recognitionUpdate) {
	if e.epoch != l.epoch || l.state != Listening {
		return
	}
	l.transcript = strings.Join(e.fragments, "")
	l.resetDebounce()
}

func (l *Loop) resetDebounce() {
	l.cancelDebounce()
	l.debounceSeq++
	seq := l.debounceSeq
	l.debounce = l.opts.Clock.AfterFunc(l.opts.DebounceWindow, func() {
		l.post(debounceExpired{seq: seq})
	})
}

func (l *Loop) cancelDebounce() {
	if l.debounce != nil {
		l.debounce.Stop()
		l.debounce = nil
	}
}

func (l *Loop) onDebounceExpire(e debounceExpired) {
	if l.debounce == nil || e.seq != l.debounceSeq {
		return
	}
	l.debounce = nil
	if l.state != Listening {
		return
	}

	text := l.transcript
	if strings.TrimSpace(text) == "" {
		if l.opts.RearmOnSilence {
			l.closeInput()
			l.setState(Idle)
			l.start(false)
		}
		return
	}
	l.closeInput()
	l.dispatch(text)
}

func (l *Loop) dispatch(text string) {
	if l.inFlight || strings.TrimSpace(text) == "" {
		return
	}
	l.inFlight = true
	l.pending = text
	l.setState(Sending)

	gen, mode, sessionID := l.gen, l.mode, l.sessionID
	ctx, cancel := context.WithCancel(l.ctx)
	l.cancelDispatch = cancel
	l.logger().Info("dispatching utterance", "chars", len(text))

	l.spawn(func() {
		ctx, span := trace.StartSpan(ctx, "conversation_dispatch")
		defer span.End()
		span.SetAttr("mode", string(mode))
		span.SetAttr("session_id", sessionID)

		started := l.opts.Clock.Now()
		reply, err := l.agent.Send(ctx, text, string(mode))
		span.RecordError(err)
		l.post(agentReplied{gen: gen, mode: mode, text: reply, err: err, elapsed: l.opts.Clock.Now().Sub(started)})
	})
}

func (l *Loop) onAgentReply(e agentReplied) {
	log := l.logger()
	if e.gen != l.gen && !l.opts.LegacyCallbacks {
		log.Debug("stale agent reply dropped")
		l.opts.Metrics.Dispatch(e.mode, "stale", e.elapsed)
		return
	}
	l.inFlight = false
	if l.cancelDispatch != nil {
		l.cancelDispatch()
		l.cancelDispatch = nil
	}

	err := e.err
	if err == nil && strings.TrimSpace(e.text) == "" {
		err = apperrors.New(apperrors.CodeAgentEmptyReply, "agent reply has no text")
	}
	if err != nil {
		l.opts.Metrics.Dispatch(e.mode, outcome(err), e.elapsed)
		log.Error("agent request failed", "error", err)
		l.pending = ""
		if l.state == Sending {
			l.setState(Idle)
		}
		return
	}

	l.opts.Metrics.Dispatch(e.mode, "ok", e.elapsed)
	l.opts.Journal.Add(Turn{
		At:        l.opts.Clock.Now(),
		SessionID: l.sessionID,
		Mode:      e.mode,
		Utterance: l.pending,
		Reply:     e.text,
	})
	l.pending = ""
	if l.state == Listening {
		l.cancelDebounce()
		l.closeInput()
	}
	l.setState(Speaking)
	l.speak(e.text)
}

func (l *Loop) speak(text string) {
	gen := l.gen
	ctx, cancel := context.WithCancel(l.ctx)
	l.cancelSpeak = cancel

	l.spawn(func() {
		ctx, span := trace.StartSpan(ctx, "speak")
		defer span.End()
		span.SetAttr("chars", len(text))
		err := l.output.Speak(ctx, text)
		span.RecordError(err)
		l.post(synthesisComplete{gen: gen, err: err})
	})
}

func (l *Loop) onSynthesisComplete(e synthesisComplete) {
	if e.gen != l.gen && !l.opts.LegacyCallbacks {
		return
	}
	if l.state != Speaking {
		return
	}
	if l.cancelSpeak != nil {
		l.cancelSpeak()
		l.cancelSpeak = nil
	}
	if e.err != nil && !errors.Is(e.err, context.Canceled) {
		l.logger().Warn("speech synthesis failed",
			"error", apperrors.Wrap(e.err, apperrors.CodeSynthesisFailed, "speak reply"))
	}
	l.setState(Idle)
	l.scheduleRestart()
}

func (l *Loop) scheduleRestart() {
	l.cancelRestart()
	l.restartSeq++
	gen, seq := l.gen, l.restartSeq
	l.restart = l.opts.Clock.AfterFunc(l.opts.RestartDelay, func() {
		l.post(restartDue{gen: gen, seq: seq})
	})
}

func (l *Loop) cancelRestart() {
	if l.restart != nil {
		l.restart.Stop()
		l.restart = nil
	}
}

func (l *Loop) onRestartDue(e restartDue) {
	if e.seq == l.restartSeq {
		l.restart = nil
	}
	if !l.opts.LegacyCallbacks && (e.gen != l.gen || !l.sessionActive) {
		l.logger().Debug("auto restart suppressed")
		return
	}
	l.start(false)
}

func (l *Loop) onRecognitionError(e recognitionError) {
	if e.epoch != l.epoch {
		return
	}
	l.opts.Metrics.RecognitionError(e.code)
	l.logger().Error("speech recognition error",
		"error", apperrors.Newf(apperrors.CodeRecognitionFailed, "recognition error: %s", e.code))
	l.stop(false)
}

func (l *Loop) onRecognitionEnd(e recognitionEnd) {
	if e.epoch != l.epoch || !l.listening {
		return
	}
	l.listening = false
	l.epoch++
	if l.state != Listening || l.debounce != nil {
		return
	}
	l.setState(Idle)
	if l.opts.RearmOnSilence {
		l.start(false)
	}
}

func (l *Loop) setState(to State) {
	from := l.state
	if from == to {
		return
	}
	l.state = to
	l.opts.Metrics.Transition(from, to)
	l.logger().Debug("state changed", "from", from.String())
}

func (l *Loop) shutdown() {
	l.cancelRestart()
	l.cancelDebounce()
	l.closeInput()
	l.abortInFlight()
	close(l.done)
	l.feed.Close()
}

func (l *Loop) buildSnapshot() Snapshot {
	return Snapshot{
		State:            l.state,
		Transcript:       l.transcript,
		PendingUtterance: l.pending,
		Mode:             l.mode,
		ModeFixed:        l.opts.FixedMode,
		SessionID:        l.sessionID,
		Available:        l.available,
	}
}

func (l *Loop) publish() {
	s := l.buildSnapshot()
	if s == l.snap.Get() {
		return
	}
	l.snap.Set(s)
	l.feed.Publish(s)
}

func (l *Loop) logger() *slog.Logger {
	return trace.Logger(l.ctx).With(
		"session_id", l.sessionID,
		"state", l.state.String(),
		"mode", string(l.mode),
	)
}

func outcome(err error) string {
	if errors.Is(err, context.Canceled) {
		return "cancelled"
	}
	return strings.ToLower(apperrors.CodeOf(err).String())
}
