package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/HerbHall/netcorrelate/internal/backup"
)

// runBackup writes a backup archive and returns the process exit code.
func runBackup(args []string) int {
	fs := flag.NewFlagSet("backup", flag.ContinueOnError)
	cf := addCommonFlags(fs)
	output := fs.String("output", "", "output file path (default: netcorrelate-backup-{timestamp}.tar.gz)")

	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if *output == "" {
		*output = backup.DefaultName(time.Now())
	}

	ctx := context.Background()
	_, db, err := openStore(ctx, cf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open database: %v\n", err)
		return exitFailure
	}
	defer db.Close()

	if err := backup.Backup(ctx, db, *cf.config, *output); err != nil {
		fmt.Fprintf(os.Stderr, "backup failed: %v\n", err)
		return exitFailure
	}
	fmt.Printf("Backup created: %s\n", *output)
	return exitOK
}
