package obs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a request is issued with no usable
	// transport (before the first connect or while disconnected).
	ErrNotConnected = errors.New("obs: not connected")

	// ErrConnectionLost resolves every in-flight request when the
	// connection is torn down before its response arrives.
	ErrConnectionLost = errors.New("obs: connection lost")

	// ErrRequestTimeout resolves a request that saw no response within the
	// request timeout window. The connection itself stays up.
	ErrRequestTimeout = errors.New("obs: request timed out")

	// ErrPasswordRequired is reported when the server demands
	// authentication but no password is configured. The attempt is
	// abandoned and not retried until configuration changes.
	ErrPasswordRequired = errors.New("obs: server requires a password but none is configured")

	// ErrClientClosed is returned by operations on a client whose event
	// loop has been shut down.
	ErrClientClosed = errors.New("obs: client closed")
)

// RequestError is returned when the server rejects a request
// (requestStatus.result == false). Code and Comment are server-supplied.
type RequestError struct {
	RequestType string
	Code        int
	Comment     string
}

func (e *RequestError) Error() string {
	if e.Comment != "" {
		return fmt.Sprintf("obs: %s rejected (code %d): %s", e.RequestType, e.Code, e.Comment)
	}
	return fmt.Sprintf("obs: %s rejected (code %d)", e.RequestType, e.Code)
}

// TargetError is returned by the composed highlight operation when the
// named target source is absent or has no usable URL configured.
type TargetError struct {
	Target string
	Reason string
}

func (e *TargetError) Error() string {
	return fmt.Sprintf("obs: target source %q: %s", e.Target, e.Reason)
}
