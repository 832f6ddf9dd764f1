package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/gamesincommon/internal/dispatch"
	"github.com/roach88/gamesincommon/internal/library"
)

// ErrorCode categorizes how an interaction stopped making progress.
type ErrorCode string

const (
	// ErrCodePreconditionUnmet means a participant is not ready yet. The next
	// attempt re-checks.
	ErrCodePreconditionUnmet ErrorCode = "precondition-unmet"

	// ErrCodeDeadlineExceeded means the gate timed out before the group was
	// ready. Terminal; one cancellation notice is published.
	ErrCodeDeadlineExceeded ErrorCode = "deadline-exceeded"

	// ErrCodeUpstreamTransient covers not-found and rate-limit responses the
	// dispatcher absorbs. It only shows up in logs.
	ErrCodeUpstreamTransient ErrorCode = "upstream-transient"

	// ErrCodeUpstreamFatal means the message API or game library failed in a
	// way that is not retried. Terminal; one error notice is published.
	ErrCodeUpstreamFatal ErrorCode = "upstream-fatal"

	// ErrCodeNoCandidates means the group shares no usable game. It is a
	// distinct rendering, not a failure.
	ErrCodeNoCandidates ErrorCode = "no-candidates"

	// ErrCodeInternal covers store failures and recovered panics.
	ErrCodeInternal ErrorCode = "internal"
)

// ErrDuplicateSession is returned when a token is admitted twice.
var ErrDuplicateSession = errors.New("engine: session already admitted")

// RuntimeError is a failure inside an attempt.
type RuntimeError struct {
	Code    ErrorCode
	Message string
	Token   string
	Err     error
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Token != "" {
		return fmt.Sprintf("%s: %s (token=%s)", e.Code, msg, e.Token)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// CodeOf returns the code of the first RuntimeError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

// IsUpstreamFatal reports whether err ended an interaction because of an
// upstream failure.
func IsUpstreamFatal(err error) bool {
	return CodeOf(err) == ErrCodeUpstreamFatal
}

// IsDeadlineExceeded reports whether err came from publishing a
// cancellation.
func IsDeadlineExceeded(err error) bool {
	return CodeOf(err) == ErrCodeDeadlineExceeded
}

// IsInternal reports whether err is a store failure or recovered panic.
func IsInternal(err error) bool {
	return CodeOf(err) == ErrCodeInternal
}

// classify wraps a failure from the claimed path.
func classify(token string, err error) *RuntimeError {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re
	}
	var steamErr *library.SteamError
	if dispatch.IsUpstreamError(err) || errors.As(err, &steamErr) {
		return &RuntimeError{Code: ErrCodeUpstreamFatal, Token: token, Err: err}
	}
	return &RuntimeError{Code: ErrCodeInternal, Token: token, Err: err}
}
