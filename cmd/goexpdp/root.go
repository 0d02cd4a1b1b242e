package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fgeck/goexpdp/internal/config"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Version is set at build time.
	Version = "dev"

	// Configuration flags.
	configFile    string
	workDir       string
	alarmURL      string
	verbose       bool
	quiet         bool
	jsonOutput    bool
	logFile       string
	logMaxSize    int
	logMaxBackups int
)

var rootCmd = &cobra.Command{
	Use:   "goexpdp",
	Short: "An Oracle Data Pump export orchestrator",
	Long: `goexpdp runs one Oracle Data Pump schema export and archives it:
  - removes stale files from the backup directory
  - runs expdp and verifies its log
  - compresses the dump pieces with zstd
  - uploads them to object storage (ossutil, S3 or GCS)
  - removes the run's local files and alerts on failures

Use as a one-shot command with an external scheduler (cron, systemd timer, etc.)`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       Version,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultFile, "config file")
	rootCmd.PersistentFlags().StringVar(&workDir, "workdir", "", "change to this directory before anything else")
	rootCmd.PersistentFlags().StringVar(&alarmURL, "alarm-url", "", "alarm endpoint used when the config has none")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "enable quiet mode (errors only)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output logs in JSON format")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "goexpdp.log", "rotated JSON log file, empty to disable")
	rootCmd.PersistentFlags().IntVar(&logMaxSize, "log-max-size", 50, "log file size in megabytes before rotation")
	rootCmd.PersistentFlags().IntVar(&logMaxBackups, "log-max-backups", 2, "rotated log files to keep")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func setupLogging() {
	var console io.Writer
	if jsonOutput {
		console = os.Stdout
	} else {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
		output.FormatLevel = func(i interface{}) string {
			if s, ok := i.(string); ok {
				return strings.ToUpper(s)
			}
			return ""
		}
		console = output
	}

	writer := console
	if logFile != "" {
		writer = zerolog.MultiLevelWriter(console, &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logMaxSize,
			MaxBackups: logMaxBackups,
		})
	}
	log.Logger = zerolog.New(writer).With().Timestamp().Logger()

	// Set log level
	switch {
	case quiet:
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case verbose:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}

// resolveConfigPath accepts the legacy positional form config=<path>.
func resolveConfigPath(args []string) (string, error) {
	path := configFile
	for _, arg := range args {
		value, ok := strings.CutPrefix(arg, "config=")
		if !ok || value == "" {
			return "", fmt.Errorf("unexpected argument %q, use --config or config=<path>", arg)
		}
		path = value
	}
	return path, nil
}

func changeWorkdir() error {
	if workDir == "" {
		return nil
	}
	if err := os.Chdir(workDir); err != nil {
		return fmt.Errorf("changing to workdir: %w", err)
	}
	log.Debug().Str("workdir", workDir).Msg("working directory changed")
	return nil
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		log.Error().Err(err).Msg("goexpdp failed")
	}
	return err
}
