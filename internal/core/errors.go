package core

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation failed")
	ErrConflict     = errors.New("conflict")
	ErrStoreFailure = errors.New("store failure")
	ErrUpstream     = errors.New("upstream failure")
)

// PartialWriteError reports a multi-step write that failed after an earlier
// step had already committed. Committed names what was left behind.
type PartialWriteError struct {
	Step      string
	Committed string
	Err       error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write: %s failed after %s committed: %v", e.Step, e.Committed, e.Err)
}

func (e *PartialWriteError) Unwrap() error { return e.Err }

// Is makes every partial write match ErrStoreFailure.
func (e *PartialWriteError) Is(target error) bool {
	return target == ErrStoreFailure
}

// StoreErr wraps a data or blob store failure so callers can match ErrStoreFailure.
// Errors that already carry a taxonomy sentinel pass through untouched.
func StoreErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, ErrStoreFailure) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStoreFailure, err)
}

// DetailError attaches a client-facing message to an error without changing what it matches.
type DetailError struct {
	Detail string
	Err    error
}

func (e *DetailError) Error() string { return e.Detail + ": " + e.Err.Error() }

func (e *DetailError) Unwrap() error { return e.Err }

// WithDetail wraps err with the message the HTTP layer should show.
func WithDetail(err error, detail string) error {
	if err == nil {
		return nil
	}
	return &DetailError{Detail: detail, Err: err}
}
