// Package runner orchestrates the export workflow.
package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fgeck/goexpdp/internal/config"
	"github.com/fgeck/goexpdp/internal/models"
	"github.com/fgeck/goexpdp/internal/services/alarm"
	"github.com/fgeck/goexpdp/internal/services/compress"
	"github.com/fgeck/goexpdp/internal/services/expdp"
	"github.com/fgeck/goexpdp/internal/services/janitor"
	"github.com/fgeck/goexpdp/internal/services/upload"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Alert notes, one per failure site.
const (
	AlertConfig   = "config check failed"
	AlertExport   = "expdp failed"
	AlertCompress = "compress dmp files failed"
	AlertUpload   = "backup file upload failed"
	AlertClean    = "clean local file failed"
)

// Service defines the interface for the export runner.
type Service interface {
	Run(ctx context.Context, raw map[string]any) error
}

// Factories build the collaborators that depend on the validated config.
type Factories struct {
	Notifier   func(logger zerolog.Logger, cfg models.AlarmConfig) alarm.Notifier
	Compressor func(logger zerolog.Logger, cfg models.BackupConfig) (compress.Service, error)
	Uploader   func(ctx context.Context, logger zerolog.Logger, cfg models.BackupConfig) (upload.Service, error)
}

// Impl implements the runner Service interface.
type Impl struct {
	expdpSvc   expdp.Service
	janitorSvc janitor.Service
	factories  Factories
	validator  config.Validator
	logger     zerolog.Logger
	now        func() time.Time
}

// New creates a new runner service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{
		expdpSvc:   expdp.New(logger),
		janitorSvc: janitor.New(logger),
		factories: Factories{
			Notifier: alarm.New,
			Compressor: func(logger zerolog.Logger, cfg models.BackupConfig) (compress.Service, error) {
				return compress.New(logger, cfg)
			},
			Uploader: func(ctx context.Context, logger zerolog.Logger, cfg models.BackupConfig) (upload.Service, error) {
				return upload.New(ctx, logger, cfg)
			},
		},
		validator: config.Validator{Root: config.ApprovedRoot},
		logger:    logger,
		now:       time.Now,
	}
}

// NewWithServices creates a new runner service with custom services (for testing).
func NewWithServices(
	logger zerolog.Logger,
	expdpSvc expdp.Service,
	janitorSvc janitor.Service,
	factories Factories,
	approvedRoot string,
	now func() time.Time,
) *Impl {
	return &Impl{
		expdpSvc:   expdpSvc,
		janitorSvc: janitorSvc,
		factories:  factories,
		validator:  config.Validator{Root: approvedRoot},
		logger:     logger,
		now:        now,
	}
}

// run carries the state of a single pipeline execution.
type run struct {
	id       string
	logger   zerolog.Logger
	notifier alarm.Notifier
	raw      map[string]any
	started  time.Time

	cfg        *models.BackupConfig
	cmd        models.ExportCommand
	files      []string
	compressed []string

	failedAt models.Stage
	cause    error
	partial  []error
}

// Run executes the pipeline once against the raw configuration mapping.
func (s *Impl) Run(ctx context.Context, raw map[string]any) error {
	r := s.newRun(raw)

	r.logger.Info().Msg("starting export run")

	stage := models.StageStart
	for !stage.Terminal() {
		out := s.step(ctx, r, stage)
		next := transition(stage, out)
		r.logger.Debug().
			Str("stage", string(stage)).
			Str("outcome", out.String()).
			Str("next", string(next)).
			Msg("stage transition")
		stage = next
	}

	return s.finish(ctx, r, stage)
}

func (s *Impl) newRun(raw map[string]any) *run {
	id := uuid.NewString()
	logger := s.logger.With().Str("run_id", id).Logger()
	return &run{
		id:       id,
		logger:   logger,
		notifier: s.factories.Notifier(logger, config.Alarm(raw)),
		raw:      raw,
		started:  s.now(),
	}
}

func (s *Impl) step(ctx context.Context, r *run, stage models.Stage) outcome {
	switch stage {
	case models.StageStart:
		return outcomeOK
	case models.StageCleanStale:
		return s.cleanStale(r)
	case models.StageValidate:
		return s.validate(r)
	case models.StageBuildCmd:
		r.cmd = expdp.BuildCommand(*r.cfg, r.started)
		r.logger = r.logger.With().Str("dump_prefix", r.cmd.Artifacts.DumpPrefix).Logger()
		r.logger.Info().
			Str("dumpfile", r.cmd.Artifacts.DumpFile).
			Str("logfile", r.cmd.Artifacts.LogFile).
			Msg("export command built")
		return outcomeOK
	case models.StageExport:
		return s.export(ctx, r)
	case models.StageVerifyLog:
		return s.verifyLog(r)
	case models.StageLocateFiles:
		return s.locateFiles(r)
	case models.StageCompress:
		return s.compress(ctx, r)
	case models.StageUpload:
		return s.upload(ctx, r)
	case models.StageCleanRun:
		return s.cleanRun(ctx, r)
	default:
		return outcomeOK
	}
}

// cleanStale only runs when the unvalidated backup directory is already
// under the approved root.
func (s *Impl) cleanStale(r *run) outcome {
	dir, ok := s.validator.BackupDir(r.raw)
	if !ok {
		r.logger.Warn().Msg("backup directory not approved yet, skipping stale file cleanup")
		return outcomeEmpty
	}

	result, err := s.janitorSvc.SweepStale(dir, config.Retention(r.raw))
	if err != nil {
		r.logger.Warn().Err(err).Str("dir", dir).Msg("stale file cleanup failed")
		return outcomeFailed
	}

	r.logger.Info().
		Int("deleted", len(result.Deleted)).
		Int("kept", len(result.Kept)).
		Int("failed", len(result.Failed)).
		Msg("stale file cleanup completed")
	return outcomeOK
}

func (s *Impl) validate(r *run) outcome {
	cfg, err := s.validator.Validate(r.raw)
	if err != nil {
		r.logger.Error().Err(err).Msg("configuration check failed")
		r.failedAt = models.StageValidate
		r.cause = err
		return outcomeFailed
	}

	r.cfg = cfg
	r.logger.Info().
		Strs("schemas", cfg.Schemas).
		Str("backup_dir", cfg.BackupDir).
		Str("bucket", cfg.Bucket).
		Int("parallel", cfg.Parallel).
		Msg("configuration check passed")
	return outcomeOK
}

func (s *Impl) export(ctx context.Context, r *run) outcome {
	result := s.expdpSvc.Export(ctx, r.cmd, r.cfg.Timeouts.Export)
	if !result.Succeeded() {
		r.failedAt = models.StageExport
		r.cause = result.Error
		if r.cause == nil {
			r.cause = fmt.Errorf("%s exited with code %d", r.cmd.Binary, result.ExitCode)
		}
		return outcomeFailed
	}
	return outcomeOK
}

func (s *Impl) verifyLog(r *run) outcome {
	path := filepath.Join(r.cfg.BackupDir, r.cmd.Artifacts.LogFile)
	if err := s.expdpSvc.VerifyLog(path); err != nil {
		r.failedAt = models.StageVerifyLog
		r.cause = err
		return outcomeFailed
	}
	return outcomeOK
}

func (s *Impl) locateFiles(r *run) outcome {
	files, err := LocateDumpFiles(r.cfg.BackupDir, r.cmd.Artifacts.DumpPrefix)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to list dump files")
		r.partial = append(r.partial, fmt.Errorf("locating dump files: %w", err))
		return outcomeFailed
	}
	if len(files) == 0 {
		r.logger.Error().Str("dir", r.cfg.BackupDir).Msg("no dump files found")
		r.partial = append(r.partial, errors.New("no dump files found"))
		return outcomeEmpty
	}

	r.files = files
	r.logger.Info().Strs("files", files).Msg("dump files located")
	return outcomeOK
}

func (s *Impl) compress(ctx context.Context, r *run) outcome {
	svc, err := s.factories.Compressor(r.logger, *r.cfg)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to set up compression")
		s.alert(ctx, r, models.StageCompress, AlertCompress, err)
		r.partial = append(r.partial, err)
		return outcomeFailed
	}

	result := svc.CompressAll(ctx, r.files)
	r.compressed = result.Compressed

	if len(result.Failed) > 0 {
		err := batchError("compression", result.Failed)
		s.alert(ctx, r, models.StageCompress, AlertCompress, err)
		r.partial = append(r.partial, err)
	}
	if len(r.compressed) == 0 {
		r.logger.Warn().Msg("nothing compressed, skipping upload")
		return outcomeEmpty
	}
	return outcomeOK
}

func (s *Impl) upload(ctx context.Context, r *run) outcome {
	svc, err := s.factories.Uploader(ctx, r.logger, *r.cfg)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to set up upload")
		s.alert(ctx, r, models.StageUpload, AlertUpload, err)
		r.partial = append(r.partial, err)
		return outcomeFailed
	}
	defer func() {
		if err := svc.Close(); err != nil {
			r.logger.Warn().Err(err).Msg("failed to close upload backend")
		}
	}()

	result := svc.UploadAll(ctx, r.compressed)
	if len(result.Failed) > 0 {
		err := batchError("upload", result.Failed)
		s.alert(ctx, r, models.StageUpload, AlertUpload, err)
		r.partial = append(r.partial, err)
		return outcomeFailed
	}
	return outcomeOK
}

// cleanRun removes every file of this run, uploaded or not.
func (s *Impl) cleanRun(ctx context.Context, r *run) outcome {
	result, err := s.janitorSvc.SweepPrefix(r.cfg.BackupDir, r.cmd.Artifacts.DumpPrefix)
	if err != nil {
		r.logger.Error().Err(err).Msg("run file cleanup failed")
		s.alert(ctx, r, models.StageCleanRun, AlertClean, err)
		r.partial = append(r.partial, fmt.Errorf("cleaning run files: %w", err))
		return outcomeFailed
	}
	if len(result.Failed) > 0 {
		err := batchError("cleanup", result.Failed)
		r.logger.Warn().Err(err).Msg("some run files could not be removed")
		r.partial = append(r.partial, err)
	}
	return outcomeOK
}

// finish handles the terminal stage and returns the run result.
func (s *Impl) finish(ctx context.Context, r *run, stage models.Stage) error {
	elapsed := time.Since(r.started)

	switch stage {
	case models.StageAbort:
		s.alert(ctx, r, models.StageValidate, AlertConfig, r.cause)
		return &models.RunError{Stage: models.StageValidate, Kind: models.FailureConfig, Err: r.cause}

	case models.StageFailed:
		r.logger.Error().
			Err(r.cause).
			Str("stage", string(r.failedAt)).
			Msg("export failed, removing run files")
		if _, err := s.janitorSvc.SweepPrefix(r.cfg.BackupDir, r.cmd.Artifacts.DumpPrefix); err != nil {
			r.logger.Error().Err(err).Msg("failed to remove run files")
		}
		s.alert(ctx, r, r.failedAt, AlertExport, r.cause)
		return &models.RunError{Stage: r.failedAt, Kind: models.FailureExport, Err: r.cause}
	}

	if len(r.partial) > 0 {
		err := errors.Join(r.partial...)
		r.logger.Warn().
			Err(err).
			Dur("duration", elapsed).
			Msg("export run completed with errors")
		return &models.RunError{Stage: models.StageDone, Kind: models.FailurePartial, Err: err}
	}

	r.logger.Info().
		Dur("duration", elapsed).
		Msg("export run completed successfully")
	return nil
}

func (s *Impl) alert(ctx context.Context, r *run, stage models.Stage, note string, cause error) {
	tags := map[string]string{
		"run_id": r.id,
		"stage":  string(stage),
	}
	if cause != nil {
		tags["error"] = cause.Error()
	}
	// A shutdown signal cancels ctx; the alert still has to go out.
	r.notifier.Notify(context.WithoutCancel(ctx), models.Incident{RuleNote: note, Tags: tags})
}

// LocateDumpFiles lists regular files in dir whose name starts with prefix,
// sorted by name.
func LocateDumpFiles(dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasPrefix(entry.Name(), prefix) {
			continue
		}
		if strings.HasSuffix(entry.Name(), ".log") || strings.HasSuffix(entry.Name(), compress.Extension) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func batchError(op string, failed map[string]error) error {
	paths := make([]string, 0, len(failed))
	for path := range failed {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	errs := make([]error, 0, len(paths))
	for _, path := range paths {
		errs = append(errs, fmt.Errorf("%s: %w", filepath.Base(path), failed[path]))
	}
	return fmt.Errorf("%s failed for %d file(s): %w", op, len(paths), errors.Join(errs...))
}
