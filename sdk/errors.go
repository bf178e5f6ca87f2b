package dodo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dodolabs/dodo-live/pkg/core"
)

// SDK-level error type that wraps core errors
type Error = core.Error

// Error types
const (
	ErrInvalidRequest = core.ErrInvalidRequest
	ErrAuthentication = core.ErrAuthentication
	ErrPermission     = core.ErrPermission
	ErrRateLimit      = core.ErrRateLimit
	ErrAPI            = core.ErrAPI
)

// Error constructors
var (
	NewInvalidRequestError = core.NewInvalidRequestError
	NewAuthenticationError = core.NewAuthenticationError
	NewRateLimitError      = core.NewRateLimitError
	NewAPIError            = core.NewAPIError
)

// ErrNotConnected is returned by send-style methods invoked with no active
// session. It signals a programmer error: callers must connect first or
// handle the rejection, it is never retried internally.
var ErrNotConnected = errors.New("live session is not connected")

// ConnectionError represents a transport-level failure while establishing or
// holding the live session (bad credentials, network failure, quota
// exceeded).
//
// Use errors.As(err, &connErr) to distinguish connection failures from
// canonical API errors (*core.Error).
type ConnectionError struct {
	URL    string
	Reason string
	Err    error
}

func (e *ConnectionError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Reason != "":
		return fmt.Sprintf("live connection failed (%s): %v", e.Reason, e.Err)
	default:
		return fmt.Sprintf("live connection failed: %v", e.Err)
	}
}

func (e *ConnectionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// UserMessage classifies the failure into a short, user-facing message by
// pattern-matching the close/error reason text. Never exposes a raw stack.
func (e *ConnectionError) UserMessage() string {
	if e == nil {
		return ""
	}
	reason := strings.ToLower(e.Reason)
	if reason == "" && e.Err != nil {
		reason = strings.ToLower(e.Err.Error())
	}
	switch {
	case strings.Contains(reason, "quota") || strings.Contains(reason, "resource_exhausted") || strings.Contains(reason, "429"):
		return "The service is out of quota right now. Try again later."
	case strings.Contains(reason, "api key") || strings.Contains(reason, "api_key") || strings.Contains(reason, "unauthenticated") || strings.Contains(reason, "401") || strings.Contains(reason, "403"):
		return "The API key was rejected. Check your credentials."
	default:
		return "Could not reach the live service. Check your connection and try again."
	}
}

// PermissionError represents microphone access denial or device
// unavailability. Surfaced from AudioRecorder.Start and never retried
// automatically.
type PermissionError struct {
	Device string
	Err    error
}

func (e *PermissionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Device != "" {
		return fmt.Sprintf("audio device %q unavailable: %v", e.Device, e.Err)
	}
	return fmt.Sprintf("microphone unavailable: %v", e.Err)
}

func (e *PermissionError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
