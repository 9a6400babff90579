package services

import (
	"errors"
	"strings"
)

// ErrSessionNotReady is returned by every send operation until the user's
// connection has finished its handshake
var ErrSessionNotReady = errors.New("WhatsApp session not ready")

// ButtonValidationError reports malformed button payloads (empty arrays,
// over-long text, duplicate text). Maps to HTTP 400.
type ButtonValidationError struct {
	Message string
}

func (e *ButtonValidationError) Error() string {
	return e.Message
}

// DeprecationError signals that WhatsApp rejected a message type it no
// longer supports. Maps to HTTP 500 with a hint to use an alternative.
type DeprecationError struct {
	Message string
}

func (e *DeprecationError) Error() string {
	return e.Message
}

// isDeprecatedSendError detects the platform refusing a message type as
// no-longer-supported. There is no structured error for this; the server
// responses observed in production all carry one of these markers.
func isDeprecatedSendError(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	for _, marker := range []string{"unsupported", "not supported", "deprecated", "405"} {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
