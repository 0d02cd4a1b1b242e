package expdp

import (
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/goexpdp/internal/config"
	"github.com/fgeck/goexpdp/internal/models"
)

// Timestamp layouts used in file names.
const (
	hourLayout   = "2006010215"
	minuteLayout = "200601021504"
)

// ShardToken is replaced by expdp with the piece number of each dump file.
const ShardToken = "%U"

// Artifacts returns the file names of a run started at now.
func Artifacts(cfg models.BackupConfig, now time.Time) models.RunArtifacts {
	minute := now.Format(minuteLayout)
	return models.RunArtifacts{
		DumpPrefix: cfg.DumpFilePrefix + "_" + now.Format(hourLayout),
		DumpFile:   cfg.DumpFilePrefix + "_" + minute + "_" + ShardToken + ".dmp",
		LogFile:    cfg.LogFilePrefix + "_" + minute + "exp.log",
		StartedAt:  now,
	}
}

// BuildCommand derives the expdp invocation from cfg. It has no side effects.
func BuildCommand(cfg models.BackupConfig, now time.Time) models.ExportCommand {
	artifacts := Artifacts(cfg, now)

	binary := cfg.ExpdpBinary
	if binary == "" {
		binary = config.DefaultExpdpBinary
	}
	credential := cfg.Credential
	if credential == "" {
		credential = config.DefaultCredential
	}

	args := []string{
		credential,
		"directory=" + cfg.Directory,
		"SCHEMAS=" + strings.Join(cfg.Schemas, ","),
		"dumpfile=" + artifacts.DumpFile,
		"logfile=" + artifacts.LogFile,
		"parallel=" + strconv.Itoa(cfg.Parallel),
		"cluster=N",
	}

	return models.ExportCommand{
		Binary:    binary,
		Args:      args,
		Artifacts: artifacts,
	}
}

// Redacted returns args with the credential masked, for logging.
func Redacted(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	if len(out) == 0 {
		return out
	}
	unquoted := strings.Trim(strings.TrimSpace(out[0]), `'"`)
	if strings.Contains(unquoted, "/") && !strings.HasPrefix(unquoted, "/") {
		user, _, _ := strings.Cut(out[0], "/")
		out[0] = user + "/******"
	}
	return out
}
