// Package janitor removes stale and failed-run files from the backup directory.
package janitor

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fgeck/goexpdp/internal/models"
	"github.com/rs/zerolog"
)

// ErrEmptyPrefix guards against sweeping a whole directory by accident.
var ErrEmptyPrefix = errors.New("refusing to sweep with an empty prefix")

// Service defines the interface for backup directory cleanup.
type Service interface {
	SweepStale(dir string, maxAge time.Duration) (*models.SweepResult, error)
	SweepPrefix(dir, prefix string) (*models.SweepResult, error)
}

// Impl implements the janitor Service interface.
type Impl struct {
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a new janitor service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		logger: logger,
		now:    time.Now,
	}
}

// NewWithClock creates a new janitor service with a custom clock (for testing).
func NewWithClock(logger zerolog.Logger, now func() time.Time) *Impl {
	return &Impl{
		logger: logger,
		now:    now,
	}
}

// SweepStale deletes regular files in dir last modified more than maxAge ago.
// Single-file failures are recorded in the result, only an unreadable
// directory is returned as an error.
func (s *Impl) SweepStale(dir string, maxAge time.Duration) (*models.SweepResult, error) {
	s.logger.Info().Str("dir", dir).Dur("max_age", maxAge).Msg("sweeping stale files")

	now := s.now()
	result, err := s.sweep(dir, func(name string, info os.FileInfo) (bool, string) {
		age := now.Sub(info.ModTime())
		if age > maxAge {
			return true, fmt.Sprintf("unchanged for %s, more than %s", age.Round(time.Second), maxAge)
		}
		return false, fmt.Sprintf("unchanged for %s, less than %s", age.Round(time.Second), maxAge)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("deleted", len(result.Deleted)).
		Int("kept", len(result.Kept)).
		Int("failed", len(result.Failed)).
		Msg("stale sweep completed")

	return result, nil
}

// SweepPrefix deletes regular files in dir whose name starts with prefix.
func (s *Impl) SweepPrefix(dir, prefix string) (*models.SweepResult, error) {
	if prefix == "" {
		return nil, ErrEmptyPrefix
	}

	s.logger.Info().Str("dir", dir).Str("prefix", prefix).Msg("sweeping run files")

	result, err := s.sweep(dir, func(name string, _ os.FileInfo) (bool, string) {
		if strings.HasPrefix(name, prefix) {
			return true, "matches run prefix"
		}
		return false, "does not match run prefix"
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int("deleted", len(result.Deleted)).
		Int("failed", len(result.Failed)).
		Msg("prefix sweep completed")

	return result, nil
}

func (s *Impl) sweep(dir string, shouldDelete func(name string, info os.FileInfo) (bool, string)) (*models.SweepResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	result := &models.SweepResult{Failed: map[string]error{}}

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			// Removed between listing and stat.
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			s.logger.Warn().Err(err).Str("file", path).Msg("failed to stat file")
			result.Failed[path] = err
			continue
		}

		remove, reason := shouldDelete(entry.Name(), info)
		if !remove {
			s.logger.Debug().Str("file", path).Str("reason", reason).Msg("keeping file")
			result.Kept = append(result.Kept, path)
			continue
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn().Err(err).Str("file", path).Msg("failed to delete file")
			result.Failed[path] = err
			continue
		}

		s.logger.Info().Str("file", path).Str("reason", reason).Msg("deleted file")
		result.Deleted = append(result.Deleted, path)
	}

	return result, nil
}
