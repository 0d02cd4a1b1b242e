// Package expdp runs Oracle Data Pump exports and checks their log files.
package expdp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/fgeck/goexpdp/internal/models"
	"github.com/fgeck/goexpdp/internal/services/process"
	"github.com/rs/zerolog"
)

// SuccessMarker is expected in the last line of a successful export log.
const SuccessMarker = "successfully completed"

const (
	chunkSize     = 4096
	maxLineLength = 1 << 20
	outputTail    = 2048
)

// ErrMarkerMissing is returned when the export log does not end with SuccessMarker.
var ErrMarkerMissing = errors.New("success marker not found in export log")

// Service defines the interface for export operations.
type Service interface {
	Export(ctx context.Context, cmd models.ExportCommand, timeout time.Duration) *models.ProcessResult
	VerifyLog(path string) error
}

// Impl implements the export Service interface.
type Impl struct {
	executor process.Executor
	logger   zerolog.Logger
}

// New creates a new export service. expdp output is logged line by line as
// it arrives.
func New(logger zerolog.Logger) *Impl {
	output := process.NewLineWriter(logger.With().Str("source", "expdp").Logger(), zerolog.InfoLevel)
	return &Impl{
		executor: &process.DefaultExecutor{Output: output},
		logger:   logger,
	}
}

// NewWithExecutor creates a new export service with a custom executor (for testing).
func NewWithExecutor(logger zerolog.Logger, executor process.Executor) *Impl {
	return &Impl{
		executor: executor,
		logger:   logger,
	}
}

// Export runs expdp and blocks until it exits or timeout elapses.
func (s *Impl) Export(ctx context.Context, cmd models.ExportCommand, timeout time.Duration) *models.ProcessResult {
	s.logger.Info().
		Str("binary", cmd.Binary).
		Strs("args", Redacted(cmd.Args)).
		Dur("timeout", timeout).
		Msg("starting export")

	result := s.executor.Run(ctx, timeout, cmd.Binary, cmd.Args...)

	if !result.Succeeded() {
		s.logger.Error().
			Err(result.Error).
			Int("exit_code", result.ExitCode).
			Bool("timed_out", result.TimedOut).
			Dur("duration", result.Duration).
			Str("output", process.Tail(result.Output, outputTail)).
			Msg("export failed")
		return result
	}

	s.logger.Info().
		Int("exit_code", result.ExitCode).
		Dur("duration", result.Duration).
		Msg("export completed")

	return result
}

// VerifyLog checks that the last line of the log at path contains SuccessMarker.
func (s *Impl) VerifyLog(path string) error {
	line, err := LastLine(path)
	if err != nil {
		s.logger.Error().Err(err).Str("log", path).Msg("failed to read export log")
		return err
	}

	if !strings.Contains(line, SuccessMarker) {
		s.logger.Warn().Str("log", path).Str("last_line", line).Msg("export log has no success marker")
		return fmt.Errorf("%w: %s", ErrMarkerMissing, path)
	}

	s.logger.Info().Str("log", path).Str("last_line", line).Msg("export log verified")
	return nil
}

// LastLine returns the last line of the file at path, ignoring trailing line
// breaks. The file is read backwards from the end in fixed-size chunks.
func LastLine(path string) (string, error) {
	f, err := os.Open(path) //nolint:gosec // path is built from validated config
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}

	var tail []byte
	for pos := info.Size(); pos > 0; {
		n := int64(chunkSize)
		if pos < n {
			n = pos
		}
		pos -= n

		chunk := make([]byte, n)
		if _, err := f.ReadAt(chunk, pos); err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("reading %s: %w", path, err)
		}
		tail = append(chunk, tail...)

		trimmed := bytes.TrimRight(tail, "\r\n")
		if i := bytes.LastIndexByte(trimmed, '\n'); i >= 0 {
			return string(bytes.TrimRight(trimmed[i+1:], "\r")), nil
		}
		if len(tail) > maxLineLength {
			return "", fmt.Errorf("last line of %s exceeds %d bytes", path, maxLineLength)
		}
	}

	trimmed := bytes.TrimRight(tail, "\r\n")
	if len(trimmed) == 0 {
		return "", fmt.Errorf("%s is empty", path)
	}
	return string(trimmed), nil
}
