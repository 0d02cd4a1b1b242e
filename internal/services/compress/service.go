// Package compress turns dump pieces into .zst files, one file at a time.
package compress

import (
	"context"
	"fmt"
	"time"

	"github.com/fgeck/goexpdp/internal/models"
	"github.com/fgeck/goexpdp/internal/services/process"
	"github.com/rs/zerolog"
)

// Extension is appended to every compressed file.
const Extension = ".zst"

// Service defines the interface for compression operations.
type Service interface {
	CompressAll(ctx context.Context, files []string) *models.CompressResult
}

// Engine compresses a single file into dst and removes src on success.
type Engine interface {
	Compress(ctx context.Context, timeout time.Duration, src, dst string) error
	Name() string
}

// Impl implements the compression Service interface.
type Impl struct {
	engine  Engine
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates a compression service for the engine selected in cfg.
func New(logger zerolog.Logger, cfg models.BackupConfig) (*Impl, error) {
	var engine Engine
	switch cfg.Compression.Engine {
	case "", "zstd":
		engine = NewCLIEngine(&process.DefaultExecutor{}, cfg.Compression.Binary, cfg.Compression.Threads)
	case "native":
		engine = NewNativeEngine(cfg.Compression.Threads)
	default:
		return nil, fmt.Errorf("unknown compression engine %q", cfg.Compression.Engine)
	}
	return NewWithEngine(logger, engine, cfg.Timeouts.Compress), nil
}

// NewWithEngine creates a compression service with a custom engine (for testing).
func NewWithEngine(logger zerolog.Logger, engine Engine, timeout time.Duration) *Impl {
	return &Impl{
		engine:  engine,
		timeout: timeout,
		logger:  logger,
	}
}

// CompressAll compresses files serially. A file that fails is skipped and
// recorded, the batch always runs to the end.
func (s *Impl) CompressAll(ctx context.Context, files []string) *models.CompressResult {
	result := &models.CompressResult{Failed: map[string]error{}}

	if len(files) == 0 {
		s.logger.Error().Msg("no files to compress")
		return result
	}

	s.logger.Info().
		Str("engine", s.engine.Name()).
		Int("files", len(files)).
		Dur("timeout", s.timeout).
		Msg("starting compression")

	for _, src := range files {
		dst := src + Extension
		start := time.Now()

		if err := s.engine.Compress(ctx, s.timeout, src, dst); err != nil {
			s.logger.Error().Err(err).Str("file", src).Str("output", dst).Msg("compression failed, skipping file")
			result.Failed[src] = err
			continue
		}

		s.logger.Info().
			Str("file", src).
			Str("output", dst).
			Dur("duration", time.Since(start)).
			Msg("file compressed")
		result.Compressed = append(result.Compressed, dst)
	}

	s.logger.Info().
		Int("compressed", len(result.Compressed)).
		Int("failed", len(result.Failed)).
		Msg("compression completed")

	return result
}
