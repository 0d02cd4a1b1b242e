package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fgeck/goexpdp/internal/config"
	"github.com/fgeck/goexpdp/internal/models"
	"github.com/fgeck/goexpdp/internal/services/alarm"
	"github.com/fgeck/goexpdp/internal/services/runner"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	// alertParse is sent when the config file cannot be read at all.
	alertParse   = "parse config failed"
	alertWorkdir = "change work dir failed"
)

// newNotifier builds the notifier used before a config is available.
var newNotifier = alarm.New

var runCmd = &cobra.Command{
	Use:   "run [config=<path>]",
	Short: "Execute the export workflow",
	Long: `Execute the complete export workflow:
1. Remove files older than the retention window from the backup directory
2. Validate configuration
3. Run expdp and verify its log
4. Compress the dump pieces
5. Upload the compressed files
6. Remove this run's local files
Failures are sent to the configured alarm endpoint.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath(args)
	if err != nil {
		return err
	}
	if err := changeWorkdir(); err != nil {
		log.Error().Err(err).Str("workdir", workDir).Msg("failed to change working directory")
		notifyEarly(context.Background(), alertWorkdir, map[string]string{"workdir": workDir, "error": err.Error()})
		return err
	}

	// Set up context with signal handling
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Warn().Str("signal", sig.String()).Msg("received signal, shutting down")
			cancel()
		case <-ctx.Done():
		}
	}()

	// Load configuration
	raw, err := config.NewParser().LoadFile(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("failed to load config")
		notifyEarly(ctx, alertParse, map[string]string{"config": path, "error": err.Error()})
		return fmt.Errorf("loading config: %w", err)
	}

	log.Info().Str("config", path).Msg("configuration loaded")

	// Run export
	runnerSvc := runner.New(log.Logger)
	return runnerSvc.Run(ctx, config.WithAlarmURL(raw, alarmURL))
}

// notifyEarly alerts through --alarm-url for failures that happen before the
// config file is loaded. Delivery survives cancellation of ctx.
func notifyEarly(ctx context.Context, note string, tags map[string]string) {
	notifier := newNotifier(log.Logger, config.Alarm(config.WithAlarmURL(nil, alarmURL)))
	notifier.Notify(context.WithoutCancel(ctx), models.Incident{RuleNote: note, Tags: tags})
}
