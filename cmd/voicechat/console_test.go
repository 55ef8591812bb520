package main

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/voicechat/internal/conversation"
)

type echoAgent struct {
	mu    sync.Mutex
	modes []string
}

func (a *echoAgent) Send(_ context.Context, message, mode string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.modes = append(a.modes, mode)
	return "you said " + message, nil
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestRunConsoleTurn(t *testing.T) {
	agent := &echoAgent{}
	var out syncBuffer
	opts := conversation.Options{DebounceWindow: 20 * time.Millisecond, RestartDelay: 10 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := runConsole(ctx, agent, opts, strings.NewReader("hello there\n"), &out); err != nil {
		t.Fatalf("runConsole() error = %v", err)
	}
	if ctx.Err() != nil {
		t.Fatal("runConsole() did not return after input ended")
	}

	if got := out.String(); !strings.Contains(got, "bot> you said hello there") {
		t.Errorf("output missing reply:\n%s", got)
	}
	agent.mu.Lock()
	defer agent.mu.Unlock()
	if len(agent.modes) != 1 || agent.modes[0] != "phonebot" {
		t.Errorf("agent modes = %v", agent.modes)
	}
}

func TestConsoleCommand(t *testing.T) {
	loop := conversation.New(nil, nil, &echoAgent{}, conversation.Options{})
	tests := []struct {
		line     string
		wantQuit bool
		wantOut  string
	}{
		{"/quit", true, ""},
		{"/frobnicate", false, "unknown command /frobnicate"},
		{"/mode nonsense", false, "error:"},
		{"hello", false, "not listening"},
		{"/help", false, "Commands:"},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		if quit := consoleCommand(loop, tt.line, &out); quit != tt.wantQuit {
			t.Errorf("consoleCommand(%q) quit = %v, want %v", tt.line, quit, tt.wantQuit)
		}
		if tt.wantOut != "" && !strings.Contains(out.String(), tt.wantOut) {
			t.Errorf("consoleCommand(%q) output = %q, want %q", tt.line, out.String(), tt.wantOut)
		}
	}
}

func TestStatusLine(t *testing.T) {
	got := statusLine(conversation.Snapshot{State: conversation.Listening, Mode: conversation.CustomerBot, Available: true})
	if got != "[listening | customerbot] Listening..." {
		t.Errorf("statusLine() = %q", got)
	}
}
