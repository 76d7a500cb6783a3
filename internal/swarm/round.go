package swarm

import (
	"sort"

	"github.com/algorand/go-deadlock"
)

type admission int

const (
	admitted admission = iota
	duplicate
	outsider
	full
)

func (a admission) String() string {
	switch a {
	case admitted:
		return "admitted"
	case duplicate:
		return "duplicate"
	case outsider:
		return "outsider"
	case full:
		return "full"
	default:
		return "unknown"
	}
}

// Round is one robot's view of a decision round. Both sets only grow, are
// keyed by robot id with first-write-wins, and are capped at swarmSize.
// Proposals are refused until readiness reached quorum.
type Round struct {
	mu        deadlock.Mutex
	id        string
	swarmSize int
	ready     map[string]bool
	proposals map[string]Proposal
}

func NewRound(id string, swarmSize int) *Round {
	return &Round{
		id:        id,
		swarmSize: swarmSize,
		ready:     make(map[string]bool, swarmSize),
		proposals: make(map[string]Proposal, swarmSize),
	}
}

func (r *Round) ID() string {
	return r.id
}

func (r *Round) SwarmSize() int {
	return r.swarmSize
}

func (r *Round) markReady(robotID string) admission {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ready[robotID] {
		return duplicate
	}
	if len(r.ready) >= r.swarmSize {
		return full
	}
	r.ready[robotID] = true
	return admitted
}

func (r *Round) ReadyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready)
}

// Quorum reports whether every member of the swarm announced readiness.
func (r *Round) Quorum() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ready) == r.swarmSize
}

// Roster returns the sorted ids of the robots seen ready.
func (r *Round) Roster() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.ready))
	for id := range r.ready {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Round) addProposal(p Proposal) admission {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.proposals[p.RobotID]; ok {
		return duplicate
	}
	if !r.ready[p.RobotID] {
		return outsider
	}
	if len(r.proposals) >= r.swarmSize {
		return full
	}
	r.proposals[p.RobotID] = p
	return admitted
}

func (r *Round) ProposalCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.proposals)
}

// Complete reports whether a proposal from every swarm member is known.
func (r *Round) Complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.proposals) == r.swarmSize
}

// Proposals returns a copy of the proposal set as robot id -> text.
func (r *Round) Proposals() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string, len(r.proposals))
	for id, p := range r.proposals {
		out[id] = p.Text
	}
	return out
}

// Missing returns the sorted roster members whose proposal has not arrived.
func (r *Round) Missing() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for id := range r.ready {
		if _, ok := r.proposals[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
