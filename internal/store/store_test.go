package store

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/swarmvote/internal/config"
	"github.com/mtzanidakis/swarmvote/internal/results"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ts := time.Date(2026, 5, 4, 10, 0, 0, 42, time.UTC)
	recs := []results.Record{
		{Round: "r1", RobotID: "R1", Proposal: "Go Left", Decision: "Go Left", Timestamp: ts, Convergence: 1500 * time.Millisecond},
		{Round: "r1", RobotID: "R2", Proposal: "Go Right", Decision: "Go Left", Timestamp: ts.Add(time.Second)},
		{Round: "r2", RobotID: "R1", Proposal: "Stay Put", Status: "barrier_timeout", Timestamp: ts},
	}
	for _, r := range recs {
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.ListResults(ctx, "r1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows for r1, got %d", len(got))
	}
	if got[0].RobotID != "R1" || got[1].RobotID != "R2" {
		t.Errorf("unexpected order: %s, %s", got[0].RobotID, got[1].RobotID)
	}
	if got[0].Status != results.StatusOK {
		t.Errorf("expected default status ok, got %s", got[0].Status)
	}
	if got[0].Convergence != 1500*time.Millisecond {
		t.Errorf("expected convergence 1.5s, got %v", got[0].Convergence)
	}
	if !got[0].Timestamp.Equal(ts) {
		t.Errorf("expected timestamp %v, got %v", ts, got[0].Timestamp)
	}

	all, err := s.ListResults(ctx, "")
	if err != nil {
		t.Fatalf("list all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(all))
	}
	if !all[2].Failed() {
		t.Error("expected r2 row to be failure-tagged")
	}
}

func TestAppendIsIdempotentPerRobot(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec := results.Record{Round: "r1", RobotID: "R1", Proposal: "a", Decision: "a"}
	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := s.ListResults(ctx, "r1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("expected 1 row, got %d", len(got))
	}
}

func TestConcurrentWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	const robots = 8

	// Migrate once up front; concurrent first-open of a fresh WAL database
	// is the launcher's concern, not the ledger's.
	first, err := New(config.StoreConfig{Path: path})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer first.Close()

	var wg sync.WaitGroup
	errs := make(chan error, robots)
	for i := 0; i < robots; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := New(config.StoreConfig{Path: path})
			if err != nil {
				errs <- err
				return
			}
			defer s.Close()
			errs <- s.Append(context.Background(), results.Record{
				Round:    "r1",
				RobotID:  fmt.Sprintf("robot_%d", i),
				Proposal: "Go Left",
				Decision: "Go Left",
			})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("writer failed: %v", err)
		}
	}

	got, err := first.ListResults(context.Background(), "r1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != robots {
		t.Errorf("expected %d rows, got %d", robots, len(got))
	}

	summary := results.Summarize(got)
	if len(summary) != 1 || !summary[0].Agreed {
		t.Errorf("expected one agreeing round, got %+v", summary)
	}
}
