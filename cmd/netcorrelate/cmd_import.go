package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/HerbHall/netcorrelate/internal/correlation"
	"github.com/HerbHall/netcorrelate/internal/ingest"
	"github.com/HerbHall/netcorrelate/internal/tags"
	"go.uber.org/zap"
)

// runImport loads a snapshot file into the inventory and returns the
// process exit code.
func runImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	file := fs.String("file", "", "snapshot file (YAML or JSON) to import")
	correlate := fs.Bool("correlate", false, "run correlation after importing")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *file == "" {
		fmt.Fprintln(os.Stderr, "import: -file is required")
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

	f, err := os.Open(*file)
	if err != nil {
		logger.Error("failed to open snapshot", zap.Error(err))
		return exitFailure
	}
	defer f.Close()

	snap, err := ingest.LoadSnapshot(f)
	if err != nil {
		logger.Error("failed to decode snapshot", zap.String("file", *file), zap.Error(err))
		return exitFailure
	}

	ccfg := correlation.ConfigFrom(cfg.Sub("plugins." + correlation.PluginName))
	imp := ingest.NewImporter(db, logger.Named("ingest"),
		ingest.WithDeriver(tags.New(ccfg.IPv4Prefix, ccfg.IPv6Prefix)))
	sum, err := imp.ImportSnapshot(ctx, snap)
	if err != nil {
		logger.Error("import failed", zap.Error(err))
		return exitFailure
	}

	out := map[string]any{"import": sum}
	code := exitOK
	if *correlate {
		engine := correlation.NewEngine(db, ccfg, logger.Named(correlation.PluginName))
		res, err := engine.Run(ctx)
		if err != nil {
			logger.Error("correlation failed", zap.Error(err))
			return exitFailure
		}
		out["correlation"] = res
		code = runExitCode(res)
	}
	if err := writeJSON(os.Stdout, out); err != nil {
		fmt.Fprintf(os.Stderr, "encode output: %v\n", err)
		return exitFailure
	}
	return code
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
