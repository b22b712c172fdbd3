package session

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNoToken is returned when a successful sign-in or refresh response does
// not carry an access token in any recognized shape.
var ErrNoToken = errors.New("response carried no access token")

// NetworkError reports a transport failure reaching the relay or upstream.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// UpstreamError reports a non-2xx upstream status with the messages the
// upstream returned.
type UpstreamError struct {
	Op       string
	Status   int
	Messages []string
	Body     string
}

// Error renders "[status] message" using the upstream messages, falling back
// to the raw body text and then to a generic "<op> failed".
func (e *UpstreamError) Error() string {
	msg := strings.Join(e.Messages, ", ")
	if msg == "" {
		msg = strings.TrimSpace(e.Body)
	}
	if msg == "" {
		msg = e.Op + " failed"
	}
	return fmt.Sprintf("[%d] %s", e.Status, msg)
}

// AuthenticationError reports a rejected sign-in.
type AuthenticationError struct {
	Status   int
	Messages []string
	Err      error
}

func (e *AuthenticationError) Error() string { return "sign-in rejected: " + e.Err.Error() }

func (e *AuthenticationError) Unwrap() error { return e.Err }

// RefreshError reports a rejected token refresh. It usually means the refresh
// cookie is absent or expired and the user must sign in again.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string { return "token refresh failed: " + e.Err.Error() }

func (e *RefreshError) Unwrap() error { return e.Err }

// DecodeError reports a response body that is not valid JSON. Operations never
// return it; the body is treated as empty and the error is logged.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("%s: decode response: %v", e.Op, e.Err) }

func (e *DecodeError) Unwrap() error { return e.Err }
