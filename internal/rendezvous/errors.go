package rendezvous

import (
	"errors"
	"fmt"
)

var (
	ErrCapture             = errors.New("camera or microphone unavailable")
	ErrIdentityUnavailable = errors.New("identity already claimed")
	ErrDialFailure         = errors.New("dial failed")
	ErrRelayUnreachable    = errors.New("relay unreachable")
	ErrRetriesExhausted    = errors.New("could not reach host")

	ErrSessionClosed = errors.New("session closed")
	ErrNoMedia       = errors.New("no local media")
	ErrNotFailed     = errors.New("session is not in error")
	ErrStarted       = errors.New("session already started")
)

// SessionError records which step of a session failed.
type SessionError struct {
	Op      string
	Err     error
	Details string
}

func (e *SessionError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *SessionError {
	return &SessionError{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *SessionError {
	return &SessionError{Op: op, Err: err, Details: details}
}

// userMessage renders a terminal error for display.
func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrCapture):
		return "Camera or microphone unavailable: " + err.Error()
	case errors.Is(err, ErrRetriesExhausted):
		return "Could not reach host."
	case errors.Is(err, ErrRelayUnreachable):
		return "Lost connection to the relay."
	default:
		return err.Error()
	}
}
