package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/curve"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Pool is a LiquidityVenue that prices swaps with the curve for its state.
type Pool struct {
	mu      sync.Mutex
	state   domain.VenueState
	journal journal[domain.VenueState]

	// BeforeSwap, when set, runs before each swap and can fail it or move
	// state underneath the caller.
	BeforeSwap func(p *Pool) error
}

// NewPool creates a pool holding a copy of state.
func NewPool(state domain.VenueState) *Pool {
	return &Pool{state: state.Clone()}
}

var _ domain.LiquidityVenue = (*Pool)(nil)

func (p *Pool) ID() domain.VenueID {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Venue()
}

// State returns a copy of the current state.
func (p *Pool) State(_ context.Context) (domain.VenueState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state.Clone(), nil
}

// SetState replaces the pool state, e.g. after a fresh on-chain read.
func (p *Pool) SetState(state domain.VenueState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state.Clone()
}

// Swap trades amountIn in dir and keeps the resulting state.
func (p *Pool) Swap(_ context.Context, amountIn *uint256.Int, dir domain.Direction) (*uint256.Int, error) {
	if hook := p.BeforeSwap; hook != nil {
		if err := hook(p); err != nil {
			return nil, err
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	res, err := curve.Quote(p.state, amountIn, dir)
	if err != nil {
		return nil, fmt.Errorf("sim: swap on %s: %w", p.state.Venue(), err)
	}
	p.state = res.Next
	return res.Quote.AmountOut, nil
}

func (p *Pool) Checkpoint(_ context.Context) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.journal.push(p.state.Clone()), nil
}

func (p *Pool) Revert(_ context.Context, checkpoint int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, err := p.journal.pop(checkpoint)
	if err != nil {
		return err
	}
	p.state = st
	return nil
}

func (p *Pool) Release(_ context.Context, checkpoint int) error {
	_, err := p.journal.pop(checkpoint)
	return err
}
