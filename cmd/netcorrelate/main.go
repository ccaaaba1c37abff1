package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HerbHall/netcorrelate/internal/config"
	"github.com/HerbHall/netcorrelate/internal/correlation"
	"github.com/HerbHall/netcorrelate/internal/event"
	"github.com/HerbHall/netcorrelate/internal/registry"
	"github.com/HerbHall/netcorrelate/internal/server"
	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/internal/store"
	"github.com/HerbHall/netcorrelate/internal/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	switch cmd {
	case "serve":
		runServe(args)
	case "import":
		os.Exit(runImport(args))
	case "correlate":
		os.Exit(runCorrelate(args))
	case "backup":
		os.Exit(runBackup(args))
	case "version":
		fmt.Println(version.Info())
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\nusage: netcorrelate [serve|import|correlate|backup|version] [flags]\n", cmd)
		os.Exit(exitUsage)
	}
}

// commonFlags are accepted by every subcommand that touches the database.
type commonFlags struct {
	config *string
	db     *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config: fs.String("config", "", "path to configuration file"),
		db:     fs.String("db", "", "path to the SQLite database (overrides database.path)"),
	}
}

// openStore loads configuration and opens the migrated database.
func openStore(ctx context.Context, cf commonFlags) (*config.Config, *store.SQLiteStore, error) {
	cfg, err := config.Load(*cf.config)
	if err != nil {
		return nil, nil, err
	}
	path := cfg.GetString("database.path")
	if *cf.db != "" {
		path = *cf.db
	}

	opts := store.DefaultOptions()
	if d := cfg.GetDuration("database.busy_timeout"); d > 0 {
		opts.BusyTimeout = d
	}
	db, err := store.Open(path, opts)
	if err != nil {
		return nil, nil, err
	}
	if err := db.Migrate(ctx, services.PluginName, services.Migrations()); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return cfg, db, nil
}

func newLogger() *zap.Logger {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cf := addCommonFlags(fs)
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	logger := newLogger()
	defer logger.Sync() //nolint:errcheck

	logger.Info("NetCorrelate server starting", zap.String("version", version.Short()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, db, err := openStore(ctx, cf)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	bus := event.NewBus(logger.Named("event"))
	reg := registry.New(logger)
	if err := reg.Register(correlation.New(db, bus, promReg)); err != nil {
		logger.Fatal("failed to register plugin", zap.Error(err))
	}
	if err := reg.InitAll(cfg.Viper()); err != nil {
		logger.Fatal("failed to initialize plugins", zap.Error(err))
	}
	if err := reg.StartAll(ctx); err != nil {
		logger.Fatal("failed to start plugins", zap.Error(err))
	}

	addr := cfg.GetString("server.host") + ":" + cfg.GetString("server.port")
	if addr == ":" {
		addr = "0.0.0.0:8080"
	}
	srv := server.New(addr, reg, promReg, logger)

	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("NetCorrelate server ready", zap.String("addr", addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	reg.StopAll()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("NetCorrelate server stopped")
}
