// Package decision turns a completed proposal set into the round's outcome.
//
// Decide is a pure function: it does no I/O, keeps no state and never
// mutates its input. Every robot that holds the same proposal set computes
// the same Decision, which is what makes the swarm agree.
package decision

import (
	"errors"
	"fmt"
	"sort"
)

var (
	ErrInvalidSwarmSize = errors.New("swarm size must be positive")
	ErrNoProposals      = errors.New("no proposals to decide on")
	ErrTooManyProposals = errors.New("more proposals than swarm members")
)

// Decision is the selected proposal text plus the tally that produced it.
type Decision struct {
	Text      string         `json:"text"`
	Count     int            `json:"count"`
	SwarmSize int            `json:"swarm_size"`
	Majority  bool           `json:"majority"`
	Tied      []string       `json:"tied,omitempty"`
	Tally     map[string]int `json:"tally"`
}

// Decide picks the proposal held by a strict majority of the full swarm
// (count > swarmSize/2). Without one it falls back to the plurality, breaking
// ties by taking the lexicographically smallest text.
func Decide(proposals map[string]string, swarmSize int) (Decision, error) {
	if swarmSize <= 0 {
		return Decision{}, ErrInvalidSwarmSize
	}
	if len(proposals) == 0 {
		return Decision{}, ErrNoProposals
	}
	if len(proposals) > swarmSize {
		return Decision{}, fmt.Errorf("%w: %d proposals for swarm of %d", ErrTooManyProposals, len(proposals), swarmSize)
	}

	tally := make(map[string]int)
	for _, text := range proposals {
		tally[text]++
	}

	for text, count := range tally {
		if count > swarmSize/2 {
			return Decision{
				Text:      text,
				Count:     count,
				SwarmSize: swarmSize,
				Majority:  true,
				Tally:     tally,
			}, nil
		}
	}

	top := 0
	for _, count := range tally {
		if count > top {
			top = count
		}
	}
	var leaders []string
	for text, count := range tally {
		if count == top {
			leaders = append(leaders, text)
		}
	}
	sort.Strings(leaders)

	d := Decision{
		Text:      leaders[0],
		Count:     top,
		SwarmSize: swarmSize,
		Tally:     tally,
	}
	if len(leaders) > 1 {
		d.Tied = leaders
	}
	return d, nil
}

// String renders the decision for logs.
func (d Decision) String() string {
	switch {
	case d.Majority:
		return fmt.Sprintf("%q by majority (%d/%d)", d.Text, d.Count, d.SwarmSize)
	case len(d.Tied) > 0:
		return fmt.Sprintf("%q by tie-break among %q (%d/%d each)", d.Text, d.Tied, d.Count, d.SwarmSize)
	default:
		return fmt.Sprintf("%q by plurality (%d/%d)", d.Text, d.Count, d.SwarmSize)
	}
}
