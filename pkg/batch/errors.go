package batch

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNoRecords is returned when nothing is left to schedule after validation.
	ErrNoRecords = errors.New("no valid records to process")
	// ErrNoInput is returned when a run is started without an input table.
	ErrNoInput = errors.New("no input table")
	// ErrInvalidGroupSize is returned for group sizes below one.
	ErrInvalidGroupSize = errors.New("group size must be at least 1")
)

// ValidationError rejects a single input row before it is scheduled.
type ValidationError struct {
	Row    int
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

type ErrorKind string

const (
	KindNotFound ErrorKind = "not_found"
	KindRemote   ErrorKind = "remote_error"
	KindTimeout  ErrorKind = "timeout"
)

// WorkError is a typed failure returned by a WorkAdapter.
type WorkError struct {
	Kind ErrorKind
	Err  error
}

func (e *WorkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *WorkError) Unwrap() error {
	return e.Err
}

func NotFound(err error) error {
	return &WorkError{Kind: KindNotFound, Err: err}
}

func RemoteError(err error) error {
	return &WorkError{Kind: KindRemote, Err: err}
}

func Timeout(err error) error {
	return &WorkError{Kind: KindTimeout, Err: err}
}

// Classify wraps err as a WorkError. Errors that already carry a kind are
// returned as is; deadline errors become timeouts and everything else a
// remote error.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var we *WorkError
	if errors.As(err, &we) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout(err)
	}
	return RemoteError(err)
}

// KindOf returns the kind of a WorkError, or the empty kind.
func KindOf(err error) ErrorKind {
	var we *WorkError
	if errors.As(err, &we) {
		return we.Kind
	}
	return ""
}

// SetupError aborts a run before any work is scheduled.
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("run setup: %v", e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// PersistenceError is returned when the result set was computed but the
// reconciled table could not be stored.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persisting results: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
