package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/mtzanidakis/swarmvote/internal/config"
	"github.com/mtzanidakis/swarmvote/internal/results"
	"github.com/mtzanidakis/swarmvote/internal/store"
	"github.com/spf13/cobra"
)

func newResultsCmd(load loadFunc) *cobra.Command {
	var (
		backend string
		round   string
	)
	cmd := &cobra.Command{
		Use:   "results",
		Short: "Print recorded results and whether each round agreed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if backend != "" {
				cfg.Results.Backend = backend
			}
			recs, err := loadResults(cmd.Context(), cfg.Results, round)
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), recs)
			return nil
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "", "results backend to read: csv or sqlite (default from config)")
	cmd.Flags().StringVar(&round, "round", "", "only show this round (sqlite backend)")
	return cmd
}

func loadResults(ctx context.Context, cfg config.ResultsConfig, round string) ([]results.Record, error) {
	switch cfg.Backend {
	case config.BackendCSV:
		recs, err := results.ReadCSV(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("read results log: %w", err)
		}
		return recs, nil
	case config.BackendSQLite:
		db, err := store.New(cfg.Store())
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		defer db.Close()
		return db.ListResults(ctx, round)
	default:
		return nil, fmt.Errorf("unknown results backend %q", cfg.Backend)
	}
}

func printResults(w io.Writer, recs []results.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No results recorded.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ROUND\tROBOT\tPROPOSAL\tDECISION\tTIMESTAMP")
	for _, r := range recs {
		round := r.Round
		if round == "" {
			round = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", round, r.RobotID, r.Proposal, r.DecisionColumn(), r.Timestamp.Format(time.RFC3339))
	}
	tw.Flush()
	fmt.Fprintln(w)

	for _, s := range results.Summarize(recs) {
		name := s.Round
		if name == "" {
			name = "(csv log)"
		}
		verdict := "DISAGREED"
		switch {
		case s.Agreed:
			verdict = "agreed"
		case s.Succeeded == 0:
			verdict = "no decision"
		}
		fmt.Fprintf(w, "Round %s: %d robots, %d ok, %d failed, %s\n", name, s.Robots, s.Succeeded, s.Failed, verdict)
		if len(s.Decisions) > 0 {
			fmt.Fprintf(w, "  decisions: %s\n", formatCounts(s.Decisions))
		}
		if len(s.Failures) > 0 {
			fmt.Fprintf(w, "  failures:  %s\n", formatCounts(s.Failures))
		}
	}
}

// formatCounts renders counts as `"a" x2, "b" x1`, highest first.
func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%q x%d", k, counts[k])
	}
	return strings.Join(parts, ", ")
}
