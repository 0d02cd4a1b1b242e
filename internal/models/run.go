package models

import "time"

// Stage names a state of the export pipeline.
type Stage string

// Pipeline stages, in execution order.
const (
	StageStart       Stage = "start"
	StageCleanStale  Stage = "clean_stale"
	StageValidate    Stage = "validate"
	StageBuildCmd    Stage = "build_cmd"
	StageExport      Stage = "export"
	StageVerifyLog   Stage = "verify_log"
	StageLocateFiles Stage = "locate_files"
	StageCompress    Stage = "compress"
	StageUpload      Stage = "upload"
	StageCleanRun    Stage = "clean_run"
	StageDone        Stage = "done"
	StageAbort       Stage = "abort"
	StageFailed      Stage = "failed"
)

// Terminal reports whether no stage follows s.
func (s Stage) Terminal() bool {
	return s == StageDone || s == StageAbort || s == StageFailed
}

// RunArtifacts identifies the files produced by one run.
type RunArtifacts struct {
	DumpPrefix string // "<prefix>_YYYYMMDDHH", matches every dump piece of the run
	DumpFile   string // dumpfile= argument, contains the %U shard token
	LogFile    string
	StartedAt  time.Time
}

// ExportCommand is the expdp invocation for one run.
type ExportCommand struct {
	Binary    string
	Args      []string
	Artifacts RunArtifacts
}

// CompressResult holds the outcome of a compression batch.
type CompressResult struct {
	Compressed []string
	Failed     map[string]error
}

// UploadResult holds the outcome of an upload batch.
type UploadResult struct {
	Uploaded []string // remote destinations
	Failed   map[string]error
}

// SweepResult holds the outcome of a janitor sweep.
type SweepResult struct {
	Deleted []string
	Kept    []string
	Failed  map[string]error
}
