// Package errors provides unified error handling with a structured Code.
// Codes classify every failure the conversation loop can observe so logs,
// metrics and the WebSocket protocol share one vocabulary.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies an error class.
type Code int

const (
	CodeUnknown Code = iota
	CodeInternal
	CodeInvalidArgument
	CodeCancelled
	CodeTimeout
	CodeCapabilityUnavailable
	CodeRecognitionFailed
	CodeSynthesisFailed
	CodeAgentNetwork
	CodeAgentStatus
	CodeAgentMalformedReply
	CodeAgentEmptyReply
	CodeAgentUnavailable
	CodeModeFixed
	CodeConfigInvalid
	CodeAudioDevice
	CodeRateLimited
)

var codeNames = map[Code]string{
	CodeUnknown:               "UNKNOWN",
	CodeInternal:              "INTERNAL",
	CodeInvalidArgument:       "INVALID_ARGUMENT",
	CodeCancelled:             "CANCELLED",
	CodeTimeout:               "TIMEOUT",
	CodeCapabilityUnavailable: "CAPABILITY_UNAVAILABLE",
	CodeRecognitionFailed:     "RECOGNITION_FAILED",
	CodeSynthesisFailed:       "SYNTHESIS_FAILED",
	CodeAgentNetwork:          "AGENT_NETWORK",
	CodeAgentStatus:           "AGENT_STATUS",
	CodeAgentMalformedReply:   "AGENT_MALFORMED_REPLY",
	CodeAgentEmptyReply:       "AGENT_EMPTY_REPLY",
	CodeAgentUnavailable:      "AGENT_UNAVAILABLE",
	CodeModeFixed:             "MODE_FIXED",
	CodeConfigInvalid:         "CONFIG_INVALID",
	CodeAudioDevice:           "AUDIO_DEVICE",
	CodeRateLimited:           "RATE_LIMITED",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CODE(%d)", int(c))
}

// httpStatusMap maps codes to the status returned by the HTTP surface.
var httpStatusMap = map[Code]int{
	CodeUnknown:               http.StatusInternalServerError,
	CodeInternal:              http.StatusInternalServerError,
	CodeInvalidArgument:       http.StatusBadRequest,
	CodeCancelled:             499,
	CodeTimeout:               http.StatusGatewayTimeout,
	CodeCapabilityUnavailable: http.StatusServiceUnavailable,
	CodeAgentNetwork:          http.StatusBadGateway,
	CodeAgentStatus:           http.StatusBadGateway,
	CodeAgentMalformedReply:   http.StatusBadGateway,
	CodeAgentEmptyReply:       http.StatusBadGateway,
	CodeAgentUnavailable:      http.StatusServiceUnavailable,
	CodeModeFixed:             http.StatusConflict,
	CodeConfigInvalid:         http.StatusInternalServerError,
	CodeRateLimited:           http.StatusTooManyRequests,
}

// AppError is the base error type with structured error code and metadata.
type AppError struct {
	Code     Code
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	s := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if len(e.Metadata) > 0 {
		s += fmt.Sprintf(" %v", e.Metadata)
	}
	if e.Cause != nil {
		s += fmt.Sprintf(" caused by: %v", e.Cause)
	}
	return s
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *AppError) Unwrap() error { return e.Cause }

// HTTPStatus returns the corresponding HTTP status code.
func (e *AppError) HTTPStatus() int {
	if c, ok := httpStatusMap[e.Code]; ok {
		return c
	}
	return http.StatusInternalServerError
}

// New creates a new AppError with the given code and message.
func New(code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg}
}

// Newf creates a new AppError with formatted message.
func Newf(code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with an AppError.
func Wrap(err error, code Code, msg string) *AppError {
	return &AppError{Code: code, Message: msg, Cause: err}
}

// Wrapf wraps an existing error with formatted message.
func Wrapf(err error, code Code, format string, args ...any) *AppError {
	return &AppError{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithMetadata adds metadata to an AppError.
func (e *AppError) WithMetadata(key, value string) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}

// As extracts the outermost AppError from an error chain.
func As(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// CodeOf returns the code of the outermost AppError, or CodeUnknown.
func CodeOf(err error) Code {
	if appErr, ok := As(err); ok {
		return appErr.Code
	}
	return CodeUnknown
}

// IsCode checks if an error chain carries a specific error code.
func IsCode(err error, code Code) bool {
	var appErr *AppError
	for err != nil {
		if stderrors.As(err, &appErr) {
			if appErr.Code == code {
				return true
			}
			err = appErr.Cause
			continue
		}
		return false
	}
	return false
}

// IsAgentFailure reports whether err is any class of remote agent failure.
func IsAgentFailure(err error) bool {
	switch CodeOf(err) {
	case CodeAgentNetwork, CodeAgentStatus, CodeAgentMalformedReply, CodeAgentEmptyReply, CodeAgentUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}
