package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fgeck/goexpdp/internal/models"
	"github.com/spf13/cast"
)

// Limits enforced on every configuration.
const (
	MaxPrefixLength = 10
	MaxParallel     = 4
	ApprovedRoot    = "/backup"
)

// Defaults for optional settings.
const (
	// expdp re-parses its command line, the quotes keep the connect string
	// one token.
	DefaultCredential      = "'/ as sysdba'"
	DefaultExpdpBinary     = "expdp"
	DefaultRetentionHours  = 3
	DefaultExportTimeout   = 120 * time.Minute
	DefaultCompressTimeout = 30 * time.Minute
	DefaultUploadTimeout   = 30 * time.Minute
	DefaultThreads         = 4
	DefaultZstdBinary      = "zstd"
	DefaultOssutilBinary   = "ossutil64"
	DefaultAlarmTimeout    = 10 * time.Second
)

// Compression engines and upload backends.
const (
	EngineZstd    = "zstd"
	EngineNative  = "native"
	BackendOSS    = "ossutil"
	BackendS3     = "s3"
	BackendGCS    = "gcs"
	alarmSeverity = "P4"
)

// Configuration keys. Lookups are case-insensitive.
const (
	KeySchemas        = "schemas"
	KeyDirectory      = "directory"
	KeyDumpFilePrefix = "dumpfile_prefix"
	KeyLogFilePrefix  = "logfile_prefix"
	KeyParallel       = "parallel"
	KeyBackupDir      = "backupdir"
	KeyBucket         = "oss_bucket"
	KeyCredential     = "conn_user_pass"
)

// RequiredKeys must be present in every configuration.
var RequiredKeys = []string{
	KeySchemas,
	KeyDirectory,
	KeyDumpFilePrefix,
	KeyLogFilePrefix,
	KeyParallel,
	KeyBackupDir,
	KeyBucket,
}

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validator checks a raw configuration mapping.
type Validator struct {
	// Root is the directory every backup directory must live under.
	Root string
}

// Validate checks raw against the default approved root.
func Validate(raw any) (*models.BackupConfig, error) {
	return Validator{Root: ApprovedRoot}.Validate(raw)
}

// Validate checks raw and converts it into a BackupConfig. It never touches
// the filesystem or starts a process.
//
//nolint:gocognit,gocyclo // one check per documented constraint
func (val Validator) Validate(raw any) (*models.BackupConfig, error) {
	settings, ok := asMap(raw)
	if !ok {
		return nil, invalid("configuration is not a mapping")
	}

	var missing []string
	for _, k := range RequiredKeys {
		if _, found := settings[k]; !found {
			missing = append(missing, strings.ToUpper(k))
		}
	}
	if len(missing) > 0 {
		return nil, invalid("missing required parameters %v", missing)
	}

	cfg := &models.BackupConfig{}

	schemas, err := stringList(settings[KeySchemas])
	if err != nil {
		return nil, invalid(`SCHEMAS %v, for example "SCHEMAS": ["USER1","USER2"]`, err)
	}
	cfg.Schemas = schemas

	if cfg.Directory, err = nonEmptyString(settings[KeyDirectory]); err != nil {
		return nil, invalid("DIRECTORY %v", err)
	}

	if cfg.DumpFilePrefix, err = prefix(settings[KeyDumpFilePrefix]); err != nil {
		return nil, invalid("DUMPFILE_PREFIX %v", err)
	}
	if cfg.LogFilePrefix, err = prefix(settings[KeyLogFilePrefix]); err != nil {
		return nil, invalid("LOGFILE_PREFIX %v", err)
	}

	if cfg.Parallel, err = integer(settings[KeyParallel]); err != nil {
		return nil, invalid("PARALLEL %v", err)
	}
	if cfg.Parallel < 1 || cfg.Parallel > MaxParallel {
		return nil, invalid("PARALLEL must be between 1 and %d, got %d", MaxParallel, cfg.Parallel)
	}

	if cfg.BackupDir, err = nonEmptyString(settings[KeyBackupDir]); err != nil {
		return nil, invalid("BACKUPDIR %v", err)
	}
	if !WithinRoot(cfg.BackupDir, val.Root) {
		return nil, invalid("BACKUPDIR must start with %s, got %q", val.Root, cfg.BackupDir)
	}
	cfg.BackupDir = filepath.Clean(cfg.BackupDir)

	bucket, err := nonEmptyString(settings[KeyBucket])
	if err != nil {
		return nil, invalid("OSS_BUCKET %v", err)
	}
	if cfg.Bucket = normalizeBucket(bucket); cfg.Bucket == "" {
		return nil, invalid("OSS_BUCKET has no bucket name")
	}

	cfg.Credential = DefaultCredential
	if v, found := settings[KeyCredential]; found {
		s, err := nonEmptyString(v)
		if err != nil {
			return nil, invalid("CONN_USER_PASS %v", err)
		}
		cfg.Credential = os.ExpandEnv(s)
	}

	cfg.ExpdpBinary = stringOr(settings, "expdp_binary", DefaultExpdpBinary)

	if cfg.RetentionHours, err = intOr(settings, "retention_hours", DefaultRetentionHours); err != nil {
		return nil, err
	}
	if cfg.RetentionHours <= 0 {
		return nil, invalid("RETENTION_HOURS must be positive")
	}

	if cfg.Timeouts, err = timeouts(settings); err != nil {
		return nil, err
	}
	if cfg.Compression, err = compression(settings); err != nil {
		return nil, err
	}
	if cfg.Upload, err = upload(settings); err != nil {
		return nil, err
	}

	cfg.Alarm = Alarm(settings)

	return cfg, nil
}

// WithinRoot reports whether dir is root or a path below it.
func WithinRoot(dir, root string) bool {
	if dir == "" || !filepath.IsAbs(dir) {
		return false
	}
	clean := filepath.Clean(dir)
	root = filepath.Clean(root)
	if root == string(filepath.Separator) {
		return true
	}
	return clean == root || strings.HasPrefix(clean, root+string(filepath.Separator))
}

// BackupDir extracts the backup directory from an unvalidated mapping when it
// already satisfies the approved-root rule.
func (val Validator) BackupDir(raw any) (string, bool) {
	settings, ok := asMap(raw)
	if !ok {
		return "", false
	}
	dir, ok := settings[KeyBackupDir].(string)
	if !ok || !WithinRoot(dir, val.Root) {
		return "", false
	}
	return filepath.Clean(dir), true
}

// Retention extracts the stale-file window from an unvalidated mapping,
// falling back to the default on any problem.
func Retention(raw any) time.Duration {
	hours := DefaultRetentionHours
	if settings, ok := asMap(raw); ok {
		if h, err := intOr(settings, "retention_hours", hours); err == nil && h > 0 {
			hours = h
		}
	}
	return time.Duration(hours) * time.Hour
}

// Alarm extracts the alarm settings from an unvalidated mapping. It never
// fails so that configuration errors can still be alerted.
func Alarm(raw any) models.AlarmConfig {
	alarm := models.AlarmConfig{
		Cluster:  "default",
		Group:    "dbbackup",
		RuleName: "oracle expdp backup",
		Severity: alarmSeverity,
		Timeout:  DefaultAlarmTimeout,
	}

	settings, ok := asMap(raw)
	if !ok {
		return alarm
	}
	section, ok := asMap(settings["alarm"])
	if !ok {
		return alarm
	}

	alarm.URL = os.ExpandEnv(stringOr(section, "url", ""))
	alarm.API = stringOr(section, "api", "")
	alarm.Cluster = stringOr(section, "cluster", alarm.Cluster)
	alarm.Group = stringOr(section, "group", alarm.Group)
	alarm.RuleName = stringOr(section, "rule_name", alarm.RuleName)
	alarm.Severity = stringOr(section, "severity", alarm.Severity)
	if d, err := durationOr(section, "timeout", alarm.Timeout); err == nil && d > 0 {
		alarm.Timeout = d
	}

	return alarm
}

// WithAlarmURL returns raw with ALARM.URL set to url when the mapping has no
// alarm endpoint of its own. raw is not modified.
func WithAlarmURL(raw map[string]any, url string) map[string]any {
	out := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		out[k] = v
	}
	if url == "" || Alarm(raw).URL != "" {
		return out
	}

	section := map[string]any{}
	for k, v := range out {
		if strings.EqualFold(k, "alarm") {
			if m, ok := asMap(v); ok {
				for sk, sv := range m {
					section[sk] = sv
				}
			}
			delete(out, k)
		}
	}
	section["url"] = url
	out["alarm"] = section
	return out
}

func timeouts(settings map[string]any) (models.Timeouts, error) {
	t := models.Timeouts{
		Export:   DefaultExportTimeout,
		Compress: DefaultCompressTimeout,
		Upload:   DefaultUploadTimeout,
	}

	section, ok := asMap(settings["timeouts"])
	if !ok {
		return t, nil
	}

	var err error
	if t.Export, err = durationOr(section, "export", t.Export); err != nil {
		return t, invalid("TIMEOUTS.EXPORT %v", err)
	}
	if t.Compress, err = durationOr(section, "compress", t.Compress); err != nil {
		return t, invalid("TIMEOUTS.COMPRESS %v", err)
	}
	if t.Upload, err = durationOr(section, "upload", t.Upload); err != nil {
		return t, invalid("TIMEOUTS.UPLOAD %v", err)
	}
	if t.Export <= 0 || t.Compress <= 0 || t.Upload <= 0 {
		return t, invalid("TIMEOUTS must be positive")
	}

	return t, nil
}

func compression(settings map[string]any) (models.CompressionSettings, error) {
	c := models.CompressionSettings{
		Engine:  EngineZstd,
		Binary:  DefaultZstdBinary,
		Threads: DefaultThreads,
	}

	section, ok := asMap(settings["compression"])
	if !ok {
		return c, nil
	}

	c.Engine = strings.ToLower(stringOr(section, "engine", c.Engine))
	c.Binary = stringOr(section, "binary", c.Binary)

	var err error
	if c.Threads, err = intOr(section, "threads", c.Threads); err != nil {
		return c, err
	}
	if c.Threads < 1 {
		return c, invalid("COMPRESSION.THREADS must be positive")
	}

	switch c.Engine {
	case EngineZstd, EngineNative:
	default:
		return c, invalid("COMPRESSION.ENGINE must be one of: %s, %s", EngineZstd, EngineNative)
	}

	return c, nil
}

func upload(settings map[string]any) (models.UploadSettings, error) {
	u := models.UploadSettings{
		Backend: BackendOSS,
		Binary:  DefaultOssutilBinary,
	}

	section, ok := asMap(settings["upload"])
	if !ok {
		return u, nil
	}

	u.Backend = strings.ToLower(stringOr(section, "backend", u.Backend))
	u.Binary = stringOr(section, "binary", u.Binary)
	u.Endpoint = stringOr(section, "endpoint", "")
	u.Region = stringOr(section, "region", "")
	u.AccessKey = os.ExpandEnv(stringOr(section, "access_key", ""))
	u.SecretKey = os.ExpandEnv(stringOr(section, "secret_key", ""))
	u.CredentialsFile = os.ExpandEnv(stringOr(section, "credentials_file", ""))

	switch u.Backend {
	case BackendOSS, BackendGCS:
	case BackendS3:
		if u.Region == "" {
			return u, invalid("UPLOAD.REGION is required for the s3 backend")
		}
		if (u.AccessKey == "") != (u.SecretKey == "") {
			return u, invalid("UPLOAD.ACCESS_KEY and UPLOAD.SECRET_KEY must be set together")
		}
	default:
		return u, invalid("UPLOAD.BACKEND must be one of: %s, %s, %s", BackendOSS, BackendS3, BackendGCS)
	}

	return u, nil
}

// asMap returns raw as a mapping with lower-cased keys.
func asMap(raw any) (map[string]any, bool) {
	switch raw.(type) {
	case map[string]any, map[any]any:
	default:
		return nil, false
	}
	m, err := cast.ToStringMapE(raw)
	if err != nil {
		return nil, false
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out, true
}

func stringList(v any) ([]string, error) {
	var items []any
	switch list := v.(type) {
	case []string:
		for _, s := range list {
			items = append(items, s)
		}
	case []any:
		items = list
	default:
		return nil, fmt.Errorf("is not a list")
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("is empty")
	}

	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok || strings.TrimSpace(s) == "" {
			return nil, fmt.Errorf("entry %d is not a non-empty string", i)
		}
		out = append(out, strings.TrimSpace(s))
	}
	return out, nil
}

func nonEmptyString(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("is not a string")
	}
	if strings.TrimSpace(s) == "" {
		return "", fmt.Errorf("is empty")
	}
	return strings.TrimSpace(s), nil
}

func prefix(v any) (string, error) {
	s, err := nonEmptyString(v)
	if err != nil {
		return "", err
	}
	if utf8.RuneCountInString(s) > MaxPrefixLength {
		return "", fmt.Errorf("is too long, must be at most %d characters", MaxPrefixLength)
	}
	if strings.ContainsAny(s, `/\`) {
		return "", fmt.Errorf("must not contain path separators")
	}
	return s, nil
}

func integer(v any) (int, error) {
	switch n := v.(type) {
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("is not an integer")
		}
		return i, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("is not an integer")
		}
		return int(n), nil
	case int, int32, int64, uint, uint32, uint64:
		return cast.ToIntE(n)
	default:
		return 0, fmt.Errorf("is not an integer")
	}
}

func stringOr(m map[string]any, key, def string) string {
	v, ok := m[key]
	if !ok {
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil || strings.TrimSpace(s) == "" {
		return def
	}
	return strings.TrimSpace(s)
}

func intOr(m map[string]any, key string, def int) (int, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	i, err := integer(v)
	if err != nil {
		return 0, invalid("%s %v", strings.ToUpper(key), err)
	}
	return i, nil
}

// durationOr reads a Go duration string; bare numbers are minutes.
func durationOr(m map[string]any, key string, def time.Duration) (time.Duration, error) {
	v, ok := m[key]
	if !ok {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		return time.ParseDuration(strings.TrimSpace(d))
	case bool:
		return 0, fmt.Errorf("is not a duration")
	default:
		minutes, err := cast.ToFloat64E(d)
		if err != nil {
			return 0, fmt.Errorf("is not a duration")
		}
		return time.Duration(minutes * float64(time.Minute)), nil
	}
}

func normalizeBucket(bucket string) string {
	for _, scheme := range []string{"oss://", "s3://", "gs://"} {
		bucket = strings.TrimPrefix(bucket, scheme)
	}
	return strings.Trim(bucket, "/")
}
