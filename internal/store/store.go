package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mtzanidakis/swarmvote/internal/config"
	_ "modernc.org/sqlite"
)

// Store is the SQLite results ledger. Robots in separate processes may open
// the same file concurrently; WAL mode plus a busy timeout serializes their
// single-statement inserts.
type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	// Pragmas go in the DSN so every pooled connection gets WAL and the busy
	// timeout, not just the first one.
	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Backup writes a consistent copy of the ledger to dest, which must not exist.
func (s *Store) Backup(ctx context.Context, dest string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("backup ledger: %w", err)
	}
	return nil
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS results (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			round          TEXT NOT NULL,
			robot_id       TEXT NOT NULL,
			proposal       TEXT NOT NULL,
			decision       TEXT NOT NULL DEFAULT '',
			status         TEXT NOT NULL DEFAULT 'ok',
			convergence_ms INTEGER NOT NULL DEFAULT 0,
			recorded_at    TEXT NOT NULL,
			UNIQUE(round, robot_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_results_round ON results(round, recorded_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}
