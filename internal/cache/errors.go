package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports that no entry exists for a key. The miss path
	// recovers it locally; Lookup reports it as absence, not failure.
	ErrNotFound = errors.New("cache: entry not found")

	// ErrAnalysis marks failures of the analyzer, including results that
	// break the range invariants. Nothing is written to the store.
	ErrAnalysis = errors.New("cache: analysis failed")

	// ErrStorage marks an unreachable or failing store.
	ErrStorage = errors.New("cache: storage failure")

	// ErrCorrupt marks a stored entry that no longer decodes or verifies.
	// It always arrives wrapped in a StorageError.
	ErrCorrupt = errors.New("cache: corrupt entry")

	// ErrInvalidParams is returned before any work when the parameter set
	// does not validate.
	ErrInvalidParams = errors.New("cache: invalid parameters")
)

// AnalysisError is returned when the analyzer could not produce a valid
// result for Key. It matches ErrAnalysis and the underlying cause.
type AnalysisError struct {
	Key Key
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("cache: analyze %s: %v", e.Key.Short(), e.Err)
}

func (e *AnalysisError) Unwrap() []error { return []error{ErrAnalysis, e.Err} }

// StorageError is returned when the store failed during Op ("get" or "put")
// for Key. It matches ErrStorage and the underlying cause.
type StorageError struct {
	Key Key
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache: %s %s: %v", e.Op, e.Key.Short(), e.Err)
}

func (e *StorageError) Unwrap() []error { return []error{ErrStorage, e.Err} }
