package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

type fakeTimer struct {
	c       *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{c: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward and fires due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

// pending counts timers that are scheduled and not yet fired or stopped.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

type fakeInput struct {
	mu      sync.Mutex
	opens   int
	closes  int
	openErr error
	handler RecognitionHandler
	opts    RecognitionOptions
}

func (f *fakeInput) Open(_ context.Context, opts RecognitionOptions, h RecognitionHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return f.openErr
	}
	f.opens++
	f.opts = opts
	f.handler = h
	return nil
}

func (f *fakeInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeInput) current() RecognitionHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handler
}

func (f *fakeInput) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

type fakeOutput struct {
	mu     sync.Mutex
	spoken []string
	err    error
	block  chan struct{}
}

func (f *fakeOutput) Speak(ctx context.Context, text string) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	block, err := f.block, f.err
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (f *fakeOutput) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...)
}

type agentCall struct {
	message string
	mode    string
}

type fakeAgent struct {
	mu    sync.Mutex
	calls []agentCall
	reply string
	err   error
	gate  chan struct{}
}

func (f *fakeAgent) Send(ctx context.Context, message, mode string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, agentCall{message: message, mode: mode})
	gate, reply, err := f.gate, f.reply, f.err
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return reply, err
}

func (f *fakeAgent) sent() []agentCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]agentCall(nil), f.calls...)
}

type fakeMetrics struct {
	mu          sync.Mutex
	transitions []string
	outcomes    []string
	recErrors   []string
}

func (m *fakeMetrics) Transition(from, to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions = append(m.transitions, from.String()+">"+to.String())
}

func (m *fakeMetrics) Dispatch(_ BotMode, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outcomes = append(m.outcomes, outcome)
}

func (m *fakeMetrics) RecognitionError(code string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recErrors = append(m.recErrors, code)
}

// tb is the subset of testing.TB that rapid.T also satisfies.
type tb interface {
	Helper()
	Fatal(args ...any)
	Fatalf(format string, args ...any)
}

// harness drives a Loop synchronously: events are handled on the test
// goroutine and async work runs inline unless async is requested.
type harness struct {
	t       tb
	loop    *Loop
	clock   *fakeClock
	input   *fakeInput
	output  *fakeOutput
	agent   *fakeAgent
	metrics *fakeMetrics
}

func newHarness(t tb, opts Options) *harness {
	h := &harness{
		t:       t,
		clock:   newFakeClock(),
		input:   &fakeInput{},
		output:  &fakeOutput{},
		agent:   &fakeAgent{reply: "Hello"},
		metrics: &fakeMetrics{},
	}
	opts.Clock = h.clock
	opts.Metrics = h.metrics
	h.loop = New(h.input, h.output, h.agent, opts)
	h.loop.spawn = func(f func()) { f() }
	return h
}

func (h *harness) async() {
	h.loop.spawn = func(f func()) { go f() }
}

// drain handles every queued event, including ones queued while handling.
func (h *harness) drain() {
	for {
		select {
		case ev := <-h.loop.events:
			h.loop.handle(ev)
		default:
			return
		}
	}
}

// await handles the next event, failing if none arrives in time.
func (h *harness) await() {
	select {
	case ev := <-h.loop.events:
		h.loop.handle(ev)
	case <-time.After(2 * time.Second):
		h.t.Fatal("timed out waiting for loop event")
	}
}

// until handles events until the loop reaches want.
func (h *harness) until(want State) {
	h.t.Helper()
	for h.state() != want {
		h.await()
	}
}

func (h *harness) start() {
	h.loop.Start()
	h.drain()
}

func (h *harness) stop() {
	h.loop.Stop()
	h.drain()
}

func (h *harness) say(fragments ...string) {
	h.input.current().OnRecognitionUpdate(fragments)
	h.drain()
}

func (h *harness) advance(d time.Duration) {
	h.clock.Advance(d)
	h.drain()
}

func (h *harness) state() State {
	return h.loop.Snapshot().State
}

func (h *harness) wantState(want State) {
	h.t.Helper()
	if got := h.state(); got != want {
		h.t.Fatalf("state = %v, want %v", got, want)
	}
}
