package main

import (
	"archive/tar"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/mtzanidakis/swarmvote/internal/config"
	"github.com/mtzanidakis/swarmvote/internal/results"
	"github.com/mtzanidakis/swarmvote/internal/store"
)

func TestEntryName(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"log", "results.csv", "results.csv"},
		{"ledger", "results.db", "results.db"},
		{"leading dot-slash", "./results.csv", "results.csv"},
		{"leading slash", "/results.db", "results.db"},
		{"nested", "results/results.csv", ""},
		{"traversal", "../results.csv", "results.csv"},
		{"wal file", "results.db-wal", ""},
		{"unknown", "notes.txt", ""},
		{"empty string", "", ""},
		{"dot only", ".", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := entryName(tt.input); got != tt.want {
				t.Errorf("entryName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestRestoreTarget(t *testing.T) {
	cfg := config.ResultsConfig{Path: "/data/results.csv", DBPath: "/data/results.db"}
	if got := restoreTarget("results.csv", cfg); got != cfg.Path {
		t.Errorf("expected %s, got %s", cfg.Path, got)
	}
	if got := restoreTarget("./results.db", cfg); got != cfg.DBPath {
		t.Errorf("expected %s, got %s", cfg.DBPath, got)
	}
	if got := restoreTarget("etc/passwd", cfg); got != "" {
		t.Errorf("expected no target, got %s", got)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 bytes"},
		{512, "512 bytes"},
		{1023, "1023 bytes"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1048576, "1.0 MB"},
		{1073741824, "1.0 GB"},
		{1610612736, "1.5 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := formatSize(tt.bytes)
			if got != tt.want {
				t.Errorf("formatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
			}
		})
	}
}

// createTestArchive builds a zstd-compressed tar with the given entries.
func createTestArchive(t *testing.T, entries map[string]string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.tar.zst")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	zw, err := zstd.NewWriter(f)
	if err != nil {
		t.Fatal(err)
	}

	tw := tar.NewWriter(zw)
	for name, content := range entries {
		hdr := &tar.Header{
			Name: name,
			Mode: 0644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	tw.Close()
	zw.Close()

	return path
}

func TestScanArchive(t *testing.T) {
	archivePath := createTestArchive(t, map[string]string{
		"results.csv":    "robot_id,proposal,decision,timestamp\n",
		"./results.db":   "sqlite",
		"other/file.txt": "ignored",
	})

	names, err := scanArchive(archivePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(names), names)
	}
}

func TestScanArchive_Empty(t *testing.T) {
	names, err := scanArchive(createTestArchive(t, map[string]string{}))
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Fatalf("expected 0 entries, got %v", names)
	}
}

func TestScanArchive_InvalidFile(t *testing.T) {
	if _, err := scanArchive("/nonexistent/file.tar.zst"); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestScanArchive_InvalidZstd(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.tar.zst")
	os.WriteFile(path, []byte("not zstd data"), 0644)

	if _, err := scanArchive(path); err == nil {
		t.Fatal("expected error for invalid zstd data")
	}
}

func seedResults(t *testing.T, cfg config.ResultsConfig) {
	t.Helper()
	ctx := context.Background()

	csvLog, err := results.NewCSVLog(cfg.Path, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	db, err := store.New(cfg.Store())
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for _, id := range []string{"R1", "R2", "R3"} {
		rec := results.Record{Round: "r1", RobotID: id, Proposal: "Go Left", Decision: "Go Left", Timestamp: time.Now().UTC()}
		if err := csvLog.Append(ctx, rec); err != nil {
			t.Fatal(err)
		}
		if err := db.Append(ctx, rec); err != nil {
			t.Fatal(err)
		}
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := config.ResultsConfig{
		Path:        filepath.Join(dir, "results.csv"),
		DBPath:      filepath.Join(dir, "results.db"),
		LockTimeout: time.Second,
	}
	seedResults(t, cfg)

	archive := filepath.Join(t.TempDir(), "backup.tar.zst")
	var out bytes.Buffer
	if err := runBackup(context.Background(), &out, cfg, archive); err != nil {
		t.Fatalf("backup: %v", err)
	}
	if !strings.Contains(out.String(), "Backup complete: 2 files") {
		t.Errorf("unexpected output: %q", out.String())
	}

	// Restore into a fresh location.
	restoreDir := t.TempDir()
	target := config.ResultsConfig{
		Path:   filepath.Join(restoreDir, "results.csv"),
		DBPath: filepath.Join(restoreDir, "results.db"),
	}
	out.Reset()
	if err := runRestore(&out, target, archive, false); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !strings.Contains(out.String(), "Restore complete: 2 files") {
		t.Errorf("unexpected output: %q", out.String())
	}

	recs, err := results.ReadCSV(target.Path)
	if err != nil {
		t.Fatalf("read restored log: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("expected 3 restored rows, got %d", len(recs))
	}

	db, err := store.New(target.Store())
	if err != nil {
		t.Fatalf("open restored ledger: %v", err)
	}
	defer db.Close()
	rows, err := db.ListResults(context.Background(), "r1")
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Errorf("expected 3 ledger rows, got %d", len(rows))
	}
}

func TestRestoreRefusesOverwrite(t *testing.T) {
	dir := t.TempDir()
	cfg := config.ResultsConfig{
		Path:   filepath.Join(dir, "results.csv"),
		DBPath: filepath.Join(dir, "results.db"),
	}
	if err := os.WriteFile(cfg.Path, []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}
	archive := createTestArchive(t, map[string]string{"results.csv": "robot_id,proposal,decision,timestamp\n"})

	if err := runRestore(&bytes.Buffer{}, cfg, archive, false); err == nil {
		t.Fatal("expected restore to refuse overwriting")
	}
	data, _ := os.ReadFile(cfg.Path)
	if string(data) != "existing" {
		t.Errorf("existing file was modified: %q", data)
	}

	if err := runRestore(&bytes.Buffer{}, cfg, archive, true); err != nil {
		t.Fatalf("restore with overwrite: %v", err)
	}
	data, _ = os.ReadFile(cfg.Path)
	if !strings.HasPrefix(string(data), "robot_id,") {
		t.Errorf("expected restored log, got %q", data)
	}
}

func TestBackupWithNoResults(t *testing.T) {
	dir := t.TempDir()
	cfg := config.ResultsConfig{
		Path:   filepath.Join(dir, "results.csv"),
		DBPath: filepath.Join(dir, "results.db"),
	}
	archive := filepath.Join(dir, "empty.tar.zst")
	if err := runBackup(context.Background(), &bytes.Buffer{}, cfg, archive); err != nil {
		t.Fatalf("backup: %v", err)
	}
	names, err := scanArchive(archive)
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("expected empty archive, got %v", names)
	}
}
