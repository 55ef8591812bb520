// Package server provides HTTP and WebSocket handlers
package server

import "time"

// Server configuration constants
const (
	HandshakeTimeout = 10 * time.Second // client must report capabilities within this window
	WriteTimeout     = 5 * time.Second  // per outbound websocket frame
	ShutdownTimeout  = 10 * time.Second

	SnapshotBuffer = 8
	ReadLimit      = 64 << 10 // max inbound frame size
)

// Routes.
const (
	RouteToggle   = "/ws"
	RoutePhone    = "/ws/phone"
	RouteCustomer = "/ws/customer"
)

// Client -> server message types.
const (
	MsgCapabilities      = "capabilities"
	MsgStart             = "start"
	MsgStop              = "stop"
	MsgToggleMode        = "toggle_mode"
	MsgSetMode           = "set_mode"
	MsgRecognitionResult = "recognition_result"
	MsgRecognitionError  = "recognition_error"
	MsgRecognitionEnd    = "recognition_end"
	MsgSpeechEnd         = "speech_end"
	MsgSpeechError       = "speech_error"
)

// Server -> client message types.
const (
	MsgRecognitionStart = "recognition_start"
	MsgRecognitionStop  = "recognition_stop"
	MsgSpeak            = "speak"
	MsgSpeakCancel      = "speak_cancel"
	MsgState            = "state"
	MsgTurn             = "turn"
	MsgError            = "error"
)
