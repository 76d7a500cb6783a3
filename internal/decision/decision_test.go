package decision

import (
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDecideScenarios(t *testing.T) {
	tests := []struct {
		name      string
		proposals map[string]string
		swarmSize int
		want      string
		count     int
		majority  bool
		tied      []string
	}{
		{
			name:      "plurality with single leader",
			proposals: map[string]string{"R1": "Go Left", "R2": "Go Left", "R3": "Go Right", "R4": "Stay Put"},
			swarmSize: 4,
			want:      "Go Left",
			count:     2,
		},
		{
			name:      "two-way tie picks smallest text",
			proposals: map[string]string{"R1": "Go Left", "R2": "Go Left", "R3": "Go Right", "R4": "Go Right"},
			swarmSize: 4,
			want:      "Go Left",
			count:     2,
			tied:      []string{"Go Left", "Go Right"},
		},
		{
			name:      "single robot",
			proposals: map[string]string{"R1": "Go Forward"},
			swarmSize: 1,
			want:      "Go Forward",
			count:     1,
			majority:  true,
		},
		{
			name:      "unanimous",
			proposals: map[string]string{"R1": "Stay Put", "R2": "Stay Put", "R3": "Stay Put"},
			swarmSize: 3,
			want:      "Stay Put",
			count:     3,
			majority:  true,
		},
		{
			name:      "strict majority beats smaller text",
			proposals: map[string]string{"R1": "Go Right", "R2": "Go Right", "R3": "Go Left"},
			swarmSize: 3,
			want:      "Go Right",
			count:     2,
			majority:  true,
		},
		{
			name:      "all distinct",
			proposals: map[string]string{"R1": "c", "R2": "a", "R3": "b"},
			swarmSize: 3,
			want:      "a",
			count:     1,
			tied:      []string{"a", "b", "c"},
		},
		{
			name:      "half is not a majority",
			proposals: map[string]string{"R1": "z", "R2": "z", "R3": "y", "R4": "x"},
			swarmSize: 4,
			want:      "z",
			count:     2,
		},
		{
			name:      "tie-break is byte order",
			proposals: map[string]string{"R1": "go left", "R2": "Go Right"},
			swarmSize: 2,
			want:      "Go Right",
			count:     1,
			tied:      []string{"Go Right", "go left"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decide(tt.proposals, tt.swarmSize)
			require.NoError(t, err)
			require.Equal(t, tt.want, got.Text)
			require.Equal(t, tt.count, got.Count)
			require.Equal(t, tt.swarmSize, got.SwarmSize)
			require.Equal(t, tt.majority, got.Majority)
			require.Equal(t, tt.tied, got.Tied)
		})
	}
}

func TestDecideRejectsBadInput(t *testing.T) {
	_, err := Decide(map[string]string{"R1": "a"}, 0)
	require.ErrorIs(t, err, ErrInvalidSwarmSize)

	_, err = Decide(nil, 3)
	require.ErrorIs(t, err, ErrNoProposals)

	_, err = Decide(map[string]string{"R1": "a", "R2": "b"}, 1)
	require.True(t, errors.Is(err, ErrTooManyProposals), "got %v", err)
}

func TestDecideDoesNotMutateInput(t *testing.T) {
	in := map[string]string{"R1": "a", "R2": "b"}
	_, err := Decide(in, 2)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"R1": "a", "R2": "b"}, in)
}

func TestDecisionString(t *testing.T) {
	d, err := Decide(map[string]string{"R1": "Go Left", "R2": "Go Right"}, 2)
	require.NoError(t, err)
	require.Contains(t, d.String(), "tie-break")

	d, err = Decide(map[string]string{"R1": "Go Left"}, 1)
	require.NoError(t, err)
	require.Contains(t, d.String(), "majority")
}

// genProposals draws a proposal set of size n over a small text alphabet so
// collisions, ties and majorities all show up often.
func genProposals(t *rapid.T) (map[string]string, int) {
	n := rapid.IntRange(1, 12).Draw(t, "swarmSize")
	texts := []string{"Go Forward", "Go Left", "Go Right", "Stay Put", "Go Back"}
	proposals := make(map[string]string, n)
	for i := 0; i < n; i++ {
		proposals[fmt.Sprintf("robot_%d", i)] = rapid.SampledFrom(texts).Draw(t, fmt.Sprintf("p%d", i))
	}
	return proposals, n
}

func TestDecideIsDeterministic(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		proposals, n := genProposals(t)

		first, err := Decide(proposals, n)
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		// A copy built in a different insertion order must agree too.
		keys := make([]string, 0, len(proposals))
		for k := range proposals {
			keys = append(keys, k)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(keys)))
		copied := make(map[string]string, len(proposals))
		for _, k := range keys {
			copied[k] = proposals[k]
		}

		second, err := Decide(copied, n)
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if first.Text != second.Text || first.Count != second.Count || first.Majority != second.Majority {
			t.Fatalf("decisions differ: %v vs %v", first, second)
		}
	})
}

func TestMajorityTakesPrecedence(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		proposals, n := genProposals(t)

		counts := make(map[string]int)
		for _, p := range proposals {
			counts[p]++
		}
		got, err := Decide(proposals, n)
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		for text, c := range counts {
			if c > n/2 && got.Text != text {
				t.Fatalf("%q holds %d/%d but decision was %q", text, c, n, got.Text)
			}
		}
	})
}

func TestTieBreakPicksSmallestLeader(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		proposals, n := genProposals(t)

		counts := make(map[string]int)
		top := 0
		for _, p := range proposals {
			counts[p]++
			if counts[p] > top {
				top = counts[p]
			}
		}
		if top > n/2 {
			return
		}
		var leaders []string
		for text, c := range counts {
			if c == top {
				leaders = append(leaders, text)
			}
		}
		sort.Strings(leaders)

		got, err := Decide(proposals, n)
		if err != nil {
			t.Fatalf("decide: %v", err)
		}
		if got.Text != leaders[0] {
			t.Fatalf("expected %q among %q, got %q", leaders[0], leaders, got.Text)
		}
		if got.Count != top {
			t.Fatalf("expected count %d, got %d", top, got.Count)
		}
	})
}
