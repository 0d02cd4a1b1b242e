package models

import "time"

// ProcessResult holds the result of an external process invocation.
type ProcessResult struct {
	Name     string
	Args     []string
	ExitCode int
	Duration time.Duration
	TimedOut bool
	Output   []byte
	Error    error
}

// Succeeded reports whether the process exited 0 within its timeout.
func (r *ProcessResult) Succeeded() bool {
	return r != nil && r.Error == nil && !r.TimedOut && r.ExitCode == 0
}
