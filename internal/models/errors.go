package models

import (
	"errors"
	"fmt"
)

// FailureKind classifies how a run failed.
type FailureKind int

// Failure kinds.
const (
	FailureConfig  FailureKind = iota + 1 // configuration rejected before any export
	FailureExport                         // export or log verification failed
	FailurePartial                        // export succeeded, a later stage did not
)

func (k FailureKind) String() string {
	switch k {
	case FailureConfig:
		return "config"
	case FailureExport:
		return "export"
	case FailurePartial:
		return "partial"
	default:
		return "unknown"
	}
}

// RunError is the typed outcome of a failed run.
type RunError struct {
	Stage Stage
	Kind  FailureKind
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failure at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or 0 when err is not a RunError.
func KindOf(err error) FailureKind {
	var runErr *RunError
	if errors.As(err, &runErr) {
		return runErr.Kind
	}
	return 0
}
