package dispatch

import (
	"errors"
	"fmt"
)

// ErrorCode classifies dispatch failures.
type ErrorCode string

const (
	// ErrCodeUpstreamFatal is any non-success response the dispatcher does
	// not retry, or a retry that also failed.
	ErrCodeUpstreamFatal ErrorCode = "upstream-fatal"
	// ErrCodeTransport is a request that never produced a response.
	ErrCodeTransport ErrorCode = "transport"
)

// UpstreamError is returned by Publish when the message API did not accept
// an update.
type UpstreamError struct {
	Code   ErrorCode
	Token  string
	Status int
	Body   string
	Err    error
}

func (e *UpstreamError) Error() string {
	if e.Code == ErrCodeTransport {
		return fmt.Sprintf("[%s] publish %s: %v", e.Code, e.Token, e.Err)
	}
	if e.Body != "" {
		return fmt.Sprintf("[%s] publish %s: status %d: %s", e.Code, e.Token, e.Status, e.Body)
	}
	return fmt.Sprintf("[%s] publish %s: status %d", e.Code, e.Token, e.Status)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// IsUpstreamError checks if err is (or wraps) an UpstreamError.
func IsUpstreamError(err error) bool {
	var ue *UpstreamError
	return errors.As(err, &ue)
}

// StatusOf returns the HTTP status carried by an UpstreamError, or 0.
func StatusOf(err error) int {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Status
	}
	return 0
}
