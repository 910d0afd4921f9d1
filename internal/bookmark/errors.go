package bookmark

import (
	"errors"
	"fmt"

	"marker/internal/tagset"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrMalformedTagSet    = tagset.ErrMalformed
	ErrInvalidFilterInput = tagset.ErrInvalidFilterInput
	ErrCascadeConflict    = errors.New("tag deletion conflicted with concurrent changes")
	ErrStoreUnavailable   = errors.New("store unavailable")

	// ErrConflict is returned by stores when a transaction lost a race
	// (serialization failure, busy database, failed compare-and-swap).
	// The service retries the cascade on it; other callers see it wrapped.
	ErrConflict = errors.New("concurrent modification")
)

// StoreError wraps a collaborator failure so callers can match
// ErrStoreUnavailable while keeping the cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, ErrStoreUnavailable, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// storeErr passes domain errors through and marks everything else as a
// store failure.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrMalformedTagSet),
		errors.Is(err, ErrInvalidFilterInput),
		errors.Is(err, ErrCascadeConflict),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrStoreUnavailable):
		return err
	}
	return &StoreError{Op: op, Err: err}
}
