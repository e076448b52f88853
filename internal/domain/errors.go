package domain

import (
	"errors"
	"fmt"
)

// Parse-stage errors. Records failing these checks are dropped from the
// cycle, never fatal.
var (
	ErrMissingTag       = errors.New("required tag missing")
	ErrMalformedTag     = errors.New("malformed tag")
	ErrMalformedContent = errors.New("malformed content")
)

// ErrRefreshInFlight is returned when a refresh cycle is requested while
// another one is still running. Cycles must not overlap: two concurrent
// reconciliations against the same cache could interleave tombstone
// computation.
var ErrRefreshInFlight = errors.New("refresh cycle already in flight")

// NotFoundError represents a missing resource.
type NotFoundError struct {
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return "not found"
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

// Is enables errors.Is matching on NotFoundError.
func (e NotFoundError) Is(target error) bool {
	_, ok := target.(NotFoundError)
	if ok {
		return true
	}
	_, ok = target.(*NotFoundError)
	return ok
}

// ErrNotFound is the sentinel error for missing resources.
var ErrNotFound = NotFoundError{}
