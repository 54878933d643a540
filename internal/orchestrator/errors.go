package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const maxDetailLength = 256

// ErrTimeout reports that an upstream call exceeded its deadline.
var ErrTimeout = errors.New("orchestrator: request timeout")

// StatusError carries a non-success upstream status and the best-effort detail
// extracted from the upstream body.
type StatusError struct {
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("orchestrator: upstream returned HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("orchestrator: upstream returned HTTP %d: %s", e.StatusCode, e.Detail)
}

// TransportError wraps connection-level failures such as refused dials or reset streams.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("orchestrator: transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is an upstream deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsTransport reports whether err is a connection-level failure.
func IsTransport(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport)
}

// AsStatus extracts a StatusError from err.
func AsStatus(err error) (*StatusError, bool) {
	var status *StatusError
	ok := errors.As(err, &status)
	return status, ok
}

// extractDetail pulls the first human readable message from an upstream error body.
func extractDetail(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		text := strings.TrimSpace(string(body))
		if len(text) > maxDetailLength {
			text = text[:maxDetailLength]
		}
		return text
	}
	for _, key := range []string{"detail", "info", "message", "error"} {
		if value, ok := payload[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
