// Package backup writes tar.gz snapshots of the inventory database. Merges
// delete donor rows, so operators take one before correlating.
package backup

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/HerbHall/netcorrelate/pkg/plugin"
)

// DatabaseName is the archive entry holding the database copy.
const DatabaseName = "netcorrelate.db"

// DefaultName returns netcorrelate-backup-{timestamp}.tar.gz for t.
func DefaultName(t time.Time) string {
	return fmt.Sprintf("netcorrelate-backup-%s.tar.gz", t.UTC().Format("20060102-150405"))
}

// Backup copies the live database with VACUUM INTO, so the snapshot is
// consistent even while the server is writing, and archives it together
// with an optional config file.
func Backup(ctx context.Context, store plugin.Store, configPath, outputPath string) error {
	tmpDir, err := os.MkdirTemp("", "netcorrelate-backup-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	dbCopy := filepath.Join(tmpDir, DatabaseName)
	if _, err := store.DB().ExecContext(ctx, "VACUUM INTO ?", dbCopy); err != nil {
		return fmt.Errorf("snapshot database: %w", err)
	}

	outFile, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("creating output file: %w", err)
	}
	defer outFile.Close()

	gw := gzip.NewWriter(outFile)
	tw := tar.NewWriter(gw)

	if err := addFileToTar(tw, dbCopy, DatabaseName); err != nil {
		return fmt.Errorf("adding database to archive: %w", err)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := addFileToTar(tw, configPath, filepath.Base(configPath)); err != nil {
				return fmt.Errorf("adding config to archive: %w", err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("closing archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("closing gzip stream: %w", err)
	}
	return outFile.Sync()
}

// Entries lists the file names stored in a backup archive.
func Entries(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gr, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("reading gzip header: %w", err)
	}
	defer gr.Close()

	var names []string
	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading archive: %w", err)
		}
		names = append(names, hdr.Name)
	}
}

// addFileToTar adds a single file to the tar archive under the given name.
func addFileToTar(tw *tar.Writer, filePath, archiveName string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	hdr, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return err
	}
	hdr.Name = archiveName

	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}

	_, err = io.Copy(tw, f)
	return err
}
