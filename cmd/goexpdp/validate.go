package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/fgeck/goexpdp/internal/config"
	"github.com/fgeck/goexpdp/internal/models"
	"github.com/fgeck/goexpdp/internal/services/expdp"
	"github.com/olekukonko/tablewriter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [config=<path>]",
	Short: "Validate configuration file",
	Long:  `Validate the configuration file without starting any process or touching the backup directory.`,
	Args:  cobra.MaximumNArgs(1),
	RunE:  validateConfig,
}

func validateConfig(cmd *cobra.Command, args []string) error {
	path, err := resolveConfigPath(args)
	if err != nil {
		return err
	}
	if err := changeWorkdir(); err != nil {
		return err
	}

	// Check if file exists
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Error().Str("file", path).Msg("config file not found")
		return fmt.Errorf("config file not found: %s", path)
	}

	raw, err := config.NewParser().LoadFile(path)
	if err != nil {
		log.Error().Err(err).Str("file", path).Msg("failed to parse config")
		return err
	}

	cfg, err := config.Validate(raw)
	if err != nil {
		color.New(color.FgRed, color.Bold).Println("Configuration is invalid!")
		fmt.Println(err)
		return err
	}

	color.New(color.FgGreen, color.Bold).Println("Configuration is valid!")
	fmt.Println()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Setting", "Value"})
	table.SetAutoWrapText(false)
	table.AppendBulk(summary(cfg, time.Now()))
	table.Render()

	return nil
}

func summary(cfg *models.BackupConfig, now time.Time) [][]string {
	cmd := expdp.BuildCommand(*cfg, now)
	alarmTarget := "(log only)"
	if cfg.Alarm.URL != "" {
		alarmTarget = cfg.Alarm.URL + cfg.Alarm.API
	}

	return [][]string{
		{"Schemas", strings.Join(cfg.Schemas, ", ")},
		{"Directory", cfg.Directory},
		{"Backup dir", cfg.BackupDir},
		{"Dump file", cmd.Artifacts.DumpFile},
		{"Log file", cmd.Artifacts.LogFile},
		{"Parallel", strconv.Itoa(cfg.Parallel)},
		{"Command", cmd.Binary + " " + strings.Join(expdp.Redacted(cmd.Args), " ")},
		{"Retention", cfg.Retention().String()},
		{"Timeouts", fmt.Sprintf("export %s, compress %s, upload %s",
			cfg.Timeouts.Export, cfg.Timeouts.Compress, cfg.Timeouts.Upload)},
		{"Compression", fmt.Sprintf("%s, %d threads", cfg.Compression.Engine, cfg.Compression.Threads)},
		{"Upload", fmt.Sprintf("%s to %s", cfg.Upload.Backend, cfg.Bucket)},
		{"Alarm", alarmTarget},
	}
}
