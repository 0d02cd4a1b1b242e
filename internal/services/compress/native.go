package compress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/klauspost/compress/zstd"
)

// NativeEngine compresses in-process with klauspost/compress.
type NativeEngine struct {
	threads int
	level   zstd.EncoderLevel
}

// NewNativeEngine creates an in-process engine using threads encoder goroutines.
func NewNativeEngine(threads int) *NativeEngine {
	if threads < 1 {
		threads = 1
	}
	return &NativeEngine{threads: threads, level: zstd.SpeedDefault}
}

// Name returns the engine name.
func (e *NativeEngine) Name() string {
	return "native"
}

// Compress writes a zstd frame of src to dst, then removes src. A partial
// dst is removed on failure.
func (e *NativeEngine) Compress(ctx context.Context, timeout time.Duration, src, dst string) (err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	in, err := os.Open(src) //nolint:gosec // src comes from the backup directory listing
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o640) //nolint:gosec // dst is src plus extension
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(dst)
		}
	}()

	enc, err := zstd.NewWriter(out,
		zstd.WithEncoderConcurrency(e.threads),
		zstd.WithEncoderLevel(e.level),
	)
	if err != nil {
		return fmt.Errorf("failed to create zstd encoder: %w", err)
	}

	if _, err = io.Copy(enc, &contextReader{ctx: ctx, r: in}); err != nil {
		_ = enc.Close()
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("compression timed out after %s: %w", timeout, err)
		}
		return fmt.Errorf("failed to compress: %w", err)
	}
	if err = enc.Close(); err != nil {
		return fmt.Errorf("failed to finish zstd frame: %w", err)
	}
	if err = out.Sync(); err != nil {
		return fmt.Errorf("failed to sync output file: %w", err)
	}
	if err = out.Close(); err != nil {
		return fmt.Errorf("failed to close output file: %w", err)
	}

	// dst is complete; a leftover source is swept with the run files.
	_ = in.Close()
	_ = os.Remove(src)
	return nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
