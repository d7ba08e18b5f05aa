package executor

import (
	"context"
	"errors"
	"strings"
)

type classifiedError struct {
	err   error
	class Class
}

func (e *classifiedError) Error() string { return e.err.Error() }
func (e *classifiedError) Unwrap() error { return e.err }

// Transient marks an error as retryable regardless of its text.
func Transient(err error) error {
	return &classifiedError{err: err, class: ClassTransient}
}

// Permanent marks an error as non-retryable regardless of its text.
func Permanent(err error) error {
	return &classifiedError{err: err, class: ClassPermanent}
}

var permanentHints = []string{
	"unauthorized", "forbidden", "permission", "not found",
	"invalid credential", "authentication", "401", "403", "404",
}

var transientHints = []string{
	"timeout", "timed out", "temporarily", "connection",
	"rate limit", "too many requests", "429", "502", "503", "504",
	"unavailable",
}

// DefaultClassifier honors explicit Transient/Permanent markers, then
// falls back to message heuristics. Unknown errors are treated as
// transient: attempts are bounded anyway, and retrying an unknown
// failure is cheaper than wrongly abandoning a recoverable one.
func DefaultClassifier(err error) Class {
	var ce *classifiedError
	if errors.As(err, &ce) {
		return ce.class
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	msg := strings.ToLower(err.Error())
	for _, hint := range permanentHints {
		if strings.Contains(msg, hint) {
			return ClassPermanent
		}
	}
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return ClassTransient
		}
	}
	return ClassTransient
}
