package scrap

import "errors"

var (
	// ErrTransient marks failures worth retrying, such as lock contention
	// or serialization conflicts in a backend.
	ErrTransient = errors.New("transient failure")

	// ErrNotFound is returned by service operations addressing a missing
	// aggregate or record.
	ErrNotFound = errors.New("not found")

	// ErrObjectNotFound is returned by object stores for a missing key.
	ErrObjectNotFound = errors.New("object not found")
)

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() []error {
	return []error{ErrTransient, e.err}
}

// Transient wraps err so that IsTransient reports true for it.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err, or anything it wraps, is transient.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
