// Package main is the entry point for goexpdp.
package main

import (
	"errors"
	"os"

	"github.com/fgeck/goexpdp/internal/config"
	"github.com/fgeck/goexpdp/internal/models"
)

// Process exit codes.
const (
	exitOK         = 0
	exitError      = 1
	exitConfig     = 2
	exitExport     = 3
	exitIncomplete = 4
)

func main() {
	os.Exit(exitCode(Execute()))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch models.KindOf(err) {
	case models.FailureConfig:
		return exitConfig
	case models.FailureExport:
		return exitExport
	case models.FailurePartial:
		return exitIncomplete
	}
	if errors.Is(err, config.ErrInvalidConfig) {
		return exitConfig
	}
	return exitError
}
