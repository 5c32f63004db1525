package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrRankRange is returned when a rank outside the group contributes.
var ErrRankRange = errors.New("rank out of range")

// Reducer sums counter state across every rank of a training job.
// Every rank must call AllReduceSum the same number of times.
type Reducer interface {
	AllReduceSum(ctx context.Context, state State) (State, error)
}

// LocalReducer is the Reducer of a single-process job.
type LocalReducer struct{}

// AllReduceSum returns a copy of the local state.
func (LocalReducer) AllReduceSum(_ context.Context, state State) (State, error) {
	return state.Clone(), nil
}

// Group is an in-process all-reduce over a fixed number of ranks, one
// goroutine per rank. Each round completes when every rank has contributed.
type Group struct {
	mu      sync.Mutex
	size    int
	round   *groupRound
	waiting int
}

type groupRound struct {
	parts  []State
	joined []bool
	result State
	done   chan struct{}
}

// NewGroup creates a group of size ranks.
func NewGroup(size int) *Group {
	return &Group{size: size}
}

// Size returns the number of ranks in the group.
func (g *Group) Size() int {
	return g.size
}

// Rank returns the Reducer used by one rank of the group.
func (g *Group) Rank(rank int) Reducer {
	return groupMember{group: g, rank: rank}
}

type groupMember struct {
	group *Group
	rank  int
}

// AllReduceSum implements Reducer.
func (m groupMember) AllReduceSum(ctx context.Context, state State) (State, error) {
	return m.group.contribute(ctx, m.rank, state)
}

func (g *Group) contribute(ctx context.Context, rank int, state State) (State, error) {
	if rank < 0 || rank >= g.size {
		return nil, fmt.Errorf("%w: %d of %d", ErrRankRange, rank, g.size)
	}

	g.mu.Lock()

	if g.round == nil {
		g.round = &groupRound{
			parts:  make([]State, g.size),
			joined: make([]bool, g.size),
			done:   make(chan struct{}),
		}
	}

	round := g.round
	round.parts[rank] = state.Clone()

	// A repeated contribution from the same rank replaces its earlier part.
	if !round.joined[rank] {
		round.joined[rank] = true
		g.waiting++
	}

	if g.waiting == g.size {
		round.result = SumStates(round.parts...)
		g.round = nil
		g.waiting = 0

		close(round.done)
	}

	g.mu.Unlock()

	select {
	case <-round.done:
		return round.result.Clone(), nil
	case <-ctx.Done():
		if g.withdraw(round, rank) {
			return nil, fmt.Errorf("all-reduce rank %d: %w", rank, ctx.Err())
		}

		// The round completed while the cancellation was being handled.
		return round.result.Clone(), nil
	}
}

// withdraw removes the part of rank from a round that is still open, so a
// cancelled contribution does not count towards the next caller's round.
// It reports false when the round already completed.
func (g *Group) withdraw(round *groupRound, rank int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.round != round {
		return false
	}

	if round.joined[rank] {
		round.joined[rank] = false
		round.parts[rank] = nil
		g.waiting--
	}

	return true
}
