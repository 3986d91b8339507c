package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a request failed.
type ErrorKind string

const (
	KindGeneration     ErrorKind = "generation"
	KindValidation     ErrorKind = "validation"
	KindSynthesis      ErrorKind = "synthesis"
	KindAssembly       ErrorKind = "assembly"
	KindStore          ErrorKind = "store"
	KindNotFound       ErrorKind = "not_found"
	KindTranscript     ErrorKind = "transcript"
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindCanceled is a request that ended while queued for a slot, before
	// any stage ran.
	KindCanceled ErrorKind = "canceled"
)

// ErrNotFound is wrapped by lookups of unknown practice ids.
var ErrNotFound = errors.New("practice not found")

// Error is returned by every pipeline operation that fails. State is the
// stage that was running when the failure happened.
type Error struct {
	Kind  ErrorKind
	State State
	Err   error
}

func (e *Error) Error() string {
	if e.State == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s failed while %s: %v", e.Kind, e.State, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of a pipeline error, or "" for any other error.
func KindOf(err error) ErrorKind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return ""
}
