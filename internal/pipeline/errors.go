package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable matches every *StoreError.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrClientResolutionRace is returned when a client could be neither
	// found nor created within the retry budget.
	ErrClientResolutionRace = errors.New("client resolution race")
)

// StoreError wraps a failure of the persistent store. It aborts the
// ingestion call that observed it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrStoreUnavailable.
func (e *StoreError) Is(target error) bool {
	return target == ErrStoreUnavailable
}
