package server

import (
	"time"

	"github.com/GriffinCanCode/voicechat/internal/conversation"
)

// Message carries only the type discriminator of an inbound frame.
type Message struct {
	Type string `json:"type"`
}

// Inbound.

type CapabilitiesMessage struct {
	Type        string `json:"type"`
	Recognition bool   `json:"recognition"`
	Synthesis   bool   `json:"synthesis"`
}

type SetModeMessage struct {
	Type string `json:"type"`
	Mode string `json:"mode"`
}

type RecognitionResultMessage struct {
	Type      string   `json:"type"`
	Fragments []string `json:"fragments"`
}

type RecognitionErrorMessage struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type SpeechDoneMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Message string `json:"message,omitempty"`
}

// Outbound.

type RecognitionStartMessage struct {
	Type           string `json:"type"`
	Locale         string `json:"locale"`
	Continuous     bool   `json:"continuous"`
	InterimResults bool   `json:"interim_results"`
}

type SpeakMessage struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Text string `json:"text,omitempty"`
}

type StateMessage struct {
	Type       string `json:"type"`
	State      string `json:"state"`
	Status     string `json:"status"`
	Transcript string `json:"transcript"`
	Pending    string `json:"pending,omitempty"`
	Mode       string `json:"mode"`
	ModeFixed  bool   `json:"mode_fixed"`
	SessionID  string `json:"session_id,omitempty"`
	Available  bool   `json:"available"`
	Busy       bool   `json:"busy"`
}

type TurnMessage struct {
	Type      string    `json:"type"`
	At        time.Time `json:"at"`
	SessionID string    `json:"session_id,omitempty"`
	Mode      string    `json:"mode"`
	Utterance string    `json:"utterance"`
	Reply     string    `json:"reply"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newStateMessage(s conversation.Snapshot) StateMessage {
	return StateMessage{
		Type:       MsgState,
		State:      s.State.String(),
		Status:     s.Status(),
		Transcript: s.Transcript,
		Pending:    s.PendingUtterance,
		Mode:       string(s.Mode),
		ModeFixed:  s.ModeFixed,
		SessionID:  s.SessionID,
		Available:  s.Available,
		Busy:       s.Busy(),
	}
}

func newTurnMessage(t conversation.Turn) TurnMessage {
	return TurnMessage{
		Type:      MsgTurn,
		At:        t.At,
		SessionID: t.SessionID,
		Mode:      string(t.Mode),
		Utterance: t.Utterance,
		Reply:     t.Reply,
	}
}
