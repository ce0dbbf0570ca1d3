package core

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
)

// StealPolicy decides which peers an idle worker tries to steal from, and in
// what order. Policies only affect performance; any order is correct.
type StealPolicy interface {
	// Victims appends the peers thief should try, in order, to dst. depth
	// reports an estimate of a peer's queue length.
	Victims(dst []int, thief int, depth func(worker int) int) []int

	// Stolen reports that thief successfully stole from victim.
	Stolen(thief, victim int)
}

// StealPolicyFactory builds a policy for a scheduler with numWorkers workers.
type StealPolicyFactory func(numWorkers int) StealPolicy

// =============================================================================
// Round robin: start after the last successful victim
// =============================================================================

type roundRobinPolicy struct {
	n    int
	last []atomic.Int32 // per thief, offset of the last successful victim
}

// NewRoundRobinStealPolicy visits peers in index order, starting from the
// one the thief last stole from successfully.
func NewRoundRobinStealPolicy(numWorkers int) StealPolicy {
	p := &roundRobinPolicy{n: numWorkers, last: make([]atomic.Int32, numWorkers)}
	for i := range p.last {
		p.last[i].Store(1)
	}
	return p
}

func (p *roundRobinPolicy) Victims(dst []int, thief int, _ func(int) int) []int {
	start := int(p.last[thief].Load())
	for i := 0; i < p.n-1; i++ {
		off := (start-1+i)%(p.n-1) + 1
		dst = append(dst, (thief+off)%p.n)
	}
	return dst
}

func (p *roundRobinPolicy) Stolen(thief, victim int) {
	off := (victim - thief + p.n) % p.n
	p.last[thief].Store(int32(off))
}

// =============================================================================
// Random: a fresh permutation of peers per round
// =============================================================================

type randomPolicy struct {
	n int
}

// NewRandomStealPolicy visits peers in a random order each round.
func NewRandomStealPolicy(numWorkers int) StealPolicy {
	return &randomPolicy{n: numWorkers}
}

func (p *randomPolicy) Victims(dst []int, thief int, _ func(int) int) []int {
	base := len(dst)
	for i := 0; i < p.n; i++ {
		if i != thief {
			dst = append(dst, i)
		}
	}
	peers := dst[base:]
	rand.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
	return dst
}

func (p *randomPolicy) Stolen(int, int) {}

// =============================================================================
// Richest first: deepest queues first
// =============================================================================

type richestFirstPolicy struct {
	n int
}

// NewRichestFirstStealPolicy visits peers in decreasing order of queue depth.
func NewRichestFirstStealPolicy(numWorkers int) StealPolicy {
	return &richestFirstPolicy{n: numWorkers}
}

func (p *richestFirstPolicy) Victims(dst []int, thief int, depth func(int) int) []int {
	base := len(dst)
	for i := 0; i < p.n; i++ {
		if i != thief {
			dst = append(dst, i)
		}
	}
	if depth == nil {
		return dst
	}
	// Insertion sort: depths change concurrently, and this stays a
	// permutation whatever the comparisons return.
	peers := dst[base:]
	for i := 1; i < len(peers); i++ {
		for j := i; j > 0 && depth(peers[j]) > depth(peers[j-1]); j-- {
			peers[j], peers[j-1] = peers[j-1], peers[j]
		}
	}
	return dst
}

func (p *richestFirstPolicy) Stolen(int, int) {}

// StealPolicyByName maps "round-robin", "random" and "richest-first" to factories.
func StealPolicyByName(name string) (StealPolicyFactory, error) {
	switch name {
	case "round-robin", "":
		return NewRoundRobinStealPolicy, nil
	case "random":
		return NewRandomStealPolicy, nil
	case "richest-first":
		return NewRichestFirstStealPolicy, nil
	default:
		return nil, fmt.Errorf("ftl: unknown steal policy %q", name)
	}
}
