// Package models contains the data structures used throughout goexpdp.
package models

import "time"

// BackupConfig holds the validated configuration for an export run.
type BackupConfig struct {
	Schemas        []string
	Directory      string // Oracle directory object the dump is written to
	DumpFilePrefix string
	LogFilePrefix  string
	Parallel       int
	BackupDir      string // local path backing Directory
	Bucket         string // may carry a key prefix, e.g. "bucket/oracle/daily"
	Credential     string // connect string passed to expdp, defaults to '/ as sysdba'
	ExpdpBinary    string
	RetentionHours int
	Timeouts       Timeouts
	Compression    CompressionSettings
	Upload         UploadSettings
	Alarm          AlarmConfig
}

// Timeouts bounds every external invocation.
type Timeouts struct {
	Export   time.Duration
	Compress time.Duration
	Upload   time.Duration
}

// CompressionSettings selects how dump pieces are compressed.
type CompressionSettings struct {
	Engine  string // "zstd" (external CLI, default) or "native"
	Binary  string
	Threads int
}

// UploadSettings selects the remote storage backend.
type UploadSettings struct {
	Backend         string // "ossutil" (default), "s3" or "gcs"
	Binary          string // ossutil only
	Endpoint        string // s3 only
	Region          string // s3 only
	AccessKey       string // s3 only, optional
	SecretKey       string // s3 only, optional
	CredentialsFile string // gcs only, optional
}

// Retention returns the stale-file retention window.
func (c BackupConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}
