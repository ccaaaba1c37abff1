package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/HerbHall/netcorrelate/internal/backup"
	"github.com/HerbHall/netcorrelate/internal/correlation"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"go.uber.org/zap"
)

// Process exit codes.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitDegraded = 3
)

// runCorrelate runs one correlation pass and returns the process exit code.
func runCorrelate(args []string) int {
	fs := flag.NewFlagSet("correlate", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	snapshot := fs.String("backup", "", "write a database backup to this path before correlating")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}

	logger := newLogger()
	defer logger.Sync() //nolint:errcheck

	ctx := context.Background()
	cfg, db, err := openStore(ctx, cf)
	if err != nil {
		logger.Error("failed to open database", zap.Error(err))
		return exitFailure
	}
	defer db.Close()

	if *snapshot != "" {
		if err := backup.Backup(ctx, db, *cf.config, *snapshot); err != nil {
			logger.Error("pre-run backup failed", zap.Error(err))
			return exitFailure
		}
		logger.Info("backup created", zap.String("path", *snapshot))
	}

	engine := correlation.NewEngine(db, correlation.ConfigFrom(cfg.Sub("plugins."+correlation.PluginName)),
		logger.Named(correlation.PluginName))
	res, err := engine.Run(ctx)
	if err != nil {
		logger.Error("correlation failed", zap.Error(err))
		return exitFailure
	}
	if err := writeJSON(os.Stdout, res); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		return exitFailure
	}
	return runExitCode(res)
}

// runExitCode maps a run summary to the correlate exit code.
func runExitCode(res *models.CorrelationResult) int {
	if res.Status == models.RunDegraded {
		return exitDegraded
	}
	return exitOK
}
