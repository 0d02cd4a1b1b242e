package compress

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/fgeck/goexpdp/internal/services/process"
)

// CLIEngine runs the zstd command line tool.
type CLIEngine struct {
	executor process.Executor
	binary   string
	threads  int
}

// NewCLIEngine creates an engine that shells out to binary.
func NewCLIEngine(executor process.Executor, binary string, threads int) *CLIEngine {
	if binary == "" {
		binary = "zstd"
	}
	if threads < 1 {
		threads = 1
	}
	return &CLIEngine{executor: executor, binary: binary, threads: threads}
}

// Name returns the engine name.
func (e *CLIEngine) Name() string {
	return "zstd"
}

// Args returns the zstd arguments for one file.
func (e *CLIEngine) Args(src, dst string) []string {
	return []string{src, "-T" + strconv.Itoa(e.threads), "--rm", "-v", "-o", dst}
}

// Compress runs zstd and judges success from its own exit status.
func (e *CLIEngine) Compress(ctx context.Context, timeout time.Duration, src, dst string) error {
	result := e.executor.Run(ctx, timeout, e.binary, e.Args(src, dst)...)
	if !result.Succeeded() {
		if result.Error != nil {
			return fmt.Errorf("%w: %s", result.Error, process.Tail(result.Output, 512))
		}
		return fmt.Errorf("%s exited with code %d", e.binary, result.ExitCode)
	}

	if _, err := os.Stat(dst); err != nil {
		return fmt.Errorf("%s reported success but %s is missing: %w", e.binary, dst, err)
	}
	return nil
}
