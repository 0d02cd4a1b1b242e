// Package upload copies compressed dump files to object storage.
package upload

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/goexpdp/internal/models"
	"github.com/fgeck/goexpdp/internal/services/process"
	"github.com/rs/zerolog"
)

// Service defines the interface for upload operations.
type Service interface {
	UploadAll(ctx context.Context, files []string) *models.UploadResult
	Close() error
}

// Backend uploads one file and returns its remote location.
type Backend interface {
	Upload(ctx context.Context, timeout time.Duration, path string) (string, error)
	Name() string
	Close() error
}

// Impl implements the upload Service interface.
type Impl struct {
	backend Backend
	timeout time.Duration
	logger  zerolog.Logger
}

// New creates an upload service for the backend selected in cfg.
func New(ctx context.Context, logger zerolog.Logger, cfg models.BackupConfig) (*Impl, error) {
	var backend Backend
	switch cfg.Upload.Backend {
	case "", "ossutil":
		backend = NewOSSUtilBackend(&process.DefaultExecutor{}, cfg.Upload.Binary, cfg.Bucket, cfg.Upload.Endpoint)
	case "s3":
		s3Backend, err := NewS3Backend(cfg.Bucket, cfg.Upload)
		if err != nil {
			return nil, err
		}
		backend = s3Backend
	case "gcs":
		gcsBackend, err := NewGCSBackend(ctx, cfg.Bucket, cfg.Upload)
		if err != nil {
			return nil, err
		}
		backend = gcsBackend
	default:
		return nil, fmt.Errorf("unknown upload backend %q", cfg.Upload.Backend)
	}
	return NewWithBackend(logger, backend, cfg.Timeouts.Upload), nil
}

// NewWithBackend creates an upload service with a custom backend (for testing).
func NewWithBackend(logger zerolog.Logger, backend Backend, timeout time.Duration) *Impl {
	return &Impl{
		backend: backend,
		timeout: timeout,
		logger:  logger,
	}
}

// UploadAll uploads files serially. Every file is attempted once, failures
// are recorded and do not stop the batch.
func (s *Impl) UploadAll(ctx context.Context, files []string) *models.UploadResult {
	result := &models.UploadResult{Failed: map[string]error{}}

	if len(files) == 0 {
		s.logger.Warn().Msg("no files to upload")
		return result
	}

	s.logger.Info().
		Str("backend", s.backend.Name()).
		Int("files", len(files)).
		Dur("timeout", s.timeout).
		Msg("starting upload")

	for _, path := range files {
		start := time.Now()
		location, err := s.backend.Upload(ctx, s.timeout, path)
		if err != nil {
			s.logger.Error().Err(err).Str("file", path).Msg("upload failed")
			result.Failed[path] = err
			continue
		}

		s.logger.Info().
			Str("file", path).
			Str("location", location).
			Dur("duration", time.Since(start)).
			Msg("file uploaded")
		result.Uploaded = append(result.Uploaded, location)
	}

	s.logger.Info().
		Int("uploaded", len(result.Uploaded)).
		Int("failed", len(result.Failed)).
		Msg("upload completed")

	return result
}

// Close releases the backend.
func (s *Impl) Close() error {
	return s.backend.Close()
}

// SplitBucket separates "name/some/path" into the bucket name and an object
// key prefix ending in "/".
func SplitBucket(bucket string) (string, string) {
	name, prefix, _ := strings.Cut(strings.Trim(bucket, "/"), "/")
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return name, prefix
}

// ObjectKey returns the key a local file is stored under.
func ObjectKey(prefix, path string) string {
	return prefix + filepath.Base(path)
}
