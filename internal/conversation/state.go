// Package conversation implements the hands-free voice conversation loop:
// listen, transcribe, wait for a pause, send to the agent, speak the reply,
// then listen again.
package conversation

import (
	"fmt"
	"strings"

	apperrors "github.com/GriffinCanCode/voicechat/internal/errors"
)

// State is the loop's interaction phase. Exactly one is active at a time.
type State int

const (
	Idle State = iota
	Listening
	Sending
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Sending:
		return "sending"
	case Speaking:
		return "speaking"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// BotMode selects which persona the remote agent answers as. The string
// value is sent verbatim as the request "type".
type BotMode string

const (
	PhoneBot    BotMode = "phonebot"
	CustomerBot BotMode = "customerbot"
)

// ParseMode accepts the wire names plus the short forms used in routes.
func ParseMode(s string) (BotMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "phonebot", "phone":
		return PhoneBot, nil
	case "customerbot", "customer", "cust":
		return CustomerBot, nil
	default:
		return "", apperrors.Newf(apperrors.CodeInvalidArgument, "unknown bot mode %q", s)
	}
}

// Toggle returns the other mode.
func (m BotMode) Toggle() BotMode {
	if m == CustomerBot {
		return PhoneBot
	}
	return CustomerBot
}

// Snapshot is a read-only view of the loop for presentation layers.
type Snapshot struct {
	State            State
	Transcript       string
	PendingUtterance string
	Mode             BotMode
	ModeFixed        bool
	SessionID        string
	Available        bool
}

// Status renders the one-line hint shown next to the microphone control.
func (s Snapshot) Status() string {
	switch {
	case !s.Available:
		return "Speech recognition is not supported"
	case s.State == Listening:
		return "Listening..."
	case s.State == Sending || s.State == Speaking:
		return "Processing..."
	default:
		return "Click the mic to start"
	}
}

// Busy reports whether the microphone control should be disabled.
func (s Snapshot) Busy() bool {
	return !s.Available || s.State == Sending || s.State == Speaking
}
