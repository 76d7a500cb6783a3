package main

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/swarmvote/internal/config"
	"github.com/mtzanidakis/swarmvote/internal/results"
	"github.com/mtzanidakis/swarmvote/internal/store"
	"github.com/spf13/cobra"
)

// Archive entry names. Restore maps each back to the configured path.
const (
	entryLog    = "results.csv"
	entryLedger = "results.db"
)

func newBackupCmd(load loadFunc) *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "backup -f <output.tar.zst>",
		Short: "Archive the results log and ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runBackup(cmd.Context(), cmd.OutOrStdout(), cfg.Results, outputPath)
		},
	}
	cmd.Flags().StringVarP(&outputPath, "file", "f", "", "output archive path")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRestoreCmd(load loadFunc) *cobra.Command {
	var (
		inputPath string
		overwrite bool
	)
	cmd := &cobra.Command{
		Use:   "restore -f <backup.tar.zst>",
		Short: "Restore the results log and ledger from an archive",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runRestore(cmd.OutOrStdout(), cfg.Results, inputPath, overwrite)
		},
	}
	cmd.Flags().StringVarP(&inputPath, "file", "f", "", "archive to restore")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace existing files")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runBackup(ctx context.Context, w io.Writer, cfg config.ResultsConfig, outputPath string) error {
	entries, err := snapshotResults(ctx, cfg)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		slog.Warn("no results found, creating empty archive")
	}

	f, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		return fmt.Errorf("create zstd writer: %w", err)
	}
	defer zw.Close()

	tw := tar.NewWriter(zw)
	defer tw.Close()

	now := time.Now()
	for _, e := range entries {
		slog.Info("archiving", "entry", e.name, "size", len(e.data))
		hdr := &tar.Header{
			Name:    e.name,
			Mode:    0o644,
			Size:    int64(len(e.data)),
			ModTime: now,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write tar header: %w", err)
		}
		if _, err := tw.Write(e.data); err != nil {
			return fmt.Errorf("write tar data: %w", err)
		}
	}

	// Close everything explicitly to catch write errors
	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zstd: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close file: %w", err)
	}

	info, _ := os.Stat(outputPath)
	size := int64(0)
	if info != nil {
		size = info.Size()
	}

	fmt.Fprintf(w, "Backup complete: %d files, %s\n", len(entries), formatSize(size))
	return nil
}

type archiveEntry struct {
	name string
	data []byte
}

// snapshotResults reads a consistent copy of whichever result files exist.
func snapshotResults(ctx context.Context, cfg config.ResultsConfig) ([]archiveEntry, error) {
	var entries []archiveEntry

	if cfg.Path != "" {
		csvLog, err := results.NewCSVLog(cfg.Path, cfg.LockTimeout)
		if err != nil {
			return nil, err
		}
		data, err := csvLog.Snapshot(ctx)
		if err != nil {
			return nil, err
		}
		if data != nil {
			entries = append(entries, archiveEntry{name: entryLog, data: data})
		}
	}

	if cfg.DBPath != "" {
		if _, err := os.Stat(cfg.DBPath); err == nil {
			data, err := snapshotLedger(ctx, cfg.Store())
			if err != nil {
				return nil, err
			}
			entries = append(entries, archiveEntry{name: entryLedger, data: data})
		}
	}
	return entries, nil
}

func snapshotLedger(ctx context.Context, cfg config.StoreConfig) ([]byte, error) {
	db, err := store.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer db.Close()

	tmp, err := os.MkdirTemp("", "swarmvote-backup-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	dest := filepath.Join(tmp, entryLedger)
	if err := db.Backup(ctx, dest); err != nil {
		return nil, err
	}
	return os.ReadFile(dest)
}

func runRestore(w io.Writer, cfg config.ResultsConfig, inputPath string, overwrite bool) error {
	names, err := scanArchive(inputPath)
	if err != nil {
		return fmt.Errorf("scan archive: %w", err)
	}
	if len(names) == 0 {
		fmt.Fprintln(w, "Archive contains no results.")
		return nil
	}

	if !overwrite {
		for _, name := range names {
			target := restoreTarget(name, cfg)
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%s already exists, add --overwrite to replace it", target)
			}
		}
	}

	f, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("create zstd reader: %w", err)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	restored := 0
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("read tar entry: %w", err)
		}

		target := restoreTarget(hdr.Name, cfg)
		if target == "" || hdr.Typeflag != tar.TypeReg {
			continue
		}
		slog.Info("restoring", "entry", hdr.Name, "path", target)
		if err := writeFileAtomic(target, tr); err != nil {
			return fmt.Errorf("restore %s: %w", hdr.Name, err)
		}
		if entryName(hdr.Name) == entryLedger {
			// A stale WAL from the replaced database must not be replayed
			// into the restored one.
			_ = os.Remove(target + "-wal")
			_ = os.Remove(target + "-shm")
		}
		restored++
	}

	fmt.Fprintf(w, "Restore complete: %d files\n", restored)
	return nil
}

// writeFileAtomic replaces path with the contents of r via a rename, so a
// failed restore never leaves a truncated log behind.
func writeFileAtomic(path string, r io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".restore-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// scanArchive reads tar headers and returns the recognized entry names
// without extracting file data.
func scanArchive(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	var names []string
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if entryName(hdr.Name) != "" {
			names = append(names, entryName(hdr.Name))
		}
	}
	return names, nil
}

// entryName normalizes an archive path to one of the known entries, or ""
// for anything else.
func entryName(name string) string {
	name = strings.TrimLeft(name, "./")
	switch name {
	case entryLog, entryLedger:
		return name
	}
	return ""
}

// restoreTarget maps an archive entry to the configured file it restores.
func restoreTarget(name string, cfg config.ResultsConfig) string {
	switch entryName(name) {
	case entryLog:
		return cfg.Path
	case entryLedger:
		return cfg.DBPath
	}
	return ""
}

func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(gb))
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
