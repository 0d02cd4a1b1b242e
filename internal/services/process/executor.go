// Package process runs external tools as blocking, time-bounded subprocesses.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/fgeck/goexpdp/internal/models"
)

const (
	waitDelay = 10 * time.Second
	// DefaultMaxOutput bounds the output kept in ProcessResult.Output.
	DefaultMaxOutput = 64 << 10
)

// Executor allows mocking exec.Command in tests.
type Executor interface {
	// Run blocks until the process exits or timeout elapses. A zero timeout
	// only bounds the process by ctx.
	Run(ctx context.Context, timeout time.Duration, name string, args ...string) *models.ProcessResult
}

// DefaultExecutor is the default executor using os/exec.
type DefaultExecutor struct {
	// Env is appended to the current environment.
	Env []string
	// Dir is the working directory, empty for the current one.
	Dir string
	// Output receives the combined output while the process runs.
	Output io.Writer
	// MaxOutput caps the trailing output kept in the result, DefaultMaxOutput if zero.
	MaxOutput int
}

// Run executes name with args. Combined output is streamed to Output and
// only its tail is kept in the result.
func (e *DefaultExecutor) Run(ctx context.Context, timeout time.Duration, name string, args ...string) *models.ProcessResult {
	result := &models.ProcessResult{
		Name:     name,
		Args:     args,
		ExitCode: -1,
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec // binaries come from validated config
	cmd.Dir = e.Dir
	// Children that inherit the output pipe must not outlive the deadline.
	cmd.WaitDelay = waitDelay
	if len(e.Env) > 0 {
		cmd.Env = append(os.Environ(), e.Env...)
	}

	limit := e.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	tail := newTailBuffer(limit)
	var sink io.Writer = tail
	if e.Output != nil {
		sink = io.MultiWriter(tail, e.Output)
	}
	// One writer for both streams, so exec serialises the writes.
	cmd.Stdout = sink
	cmd.Stderr = sink

	start := time.Now()
	err := cmd.Run()
	result.Duration = time.Since(start)
	result.Output = tail.Bytes()
	if f, ok := e.Output.(interface{ Flush() }); ok {
		f.Flush()
	}

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.TimedOut = true
		result.Error = fmt.Errorf("%s timed out after %s", name, timeout)
		return result
	}
	if ctx.Err() != nil {
		result.Error = fmt.Errorf("%s cancelled: %w", name, ctx.Err())
		return result
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			result.Error = fmt.Errorf("%s exited with code %d", name, result.ExitCode)
			return result
		}
		result.Error = fmt.Errorf("failed to run %s: %w", name, err)
		return result
	}

	result.ExitCode = 0
	return result
}

// Tail returns at most the last n bytes of output, for log lines.
func Tail(output []byte, n int) string {
	if len(output) <= n {
		return string(output)
	}
	return string(output[len(output)-n:])
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   []byte
	limit int
}

func newTailBuffer(limit int) *tailBuffer {
	return &tailBuffer{limit: limit}
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n >= b.limit {
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		return n, nil
	}
	if over := len(b.buf) + n - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) Bytes() []byte {
	return b.buf
}
