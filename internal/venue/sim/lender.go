package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/arbitrage"
	"github.com/alanyoungcy/flasharb/internal/domain"
)

type lenderState struct {
	balances map[common.Address]*uint256.Int
	owed     map[common.Address]*uint256.Int
}

func (s lenderState) clone() lenderState {
	out := lenderState{
		balances: make(map[common.Address]*uint256.Int, len(s.balances)),
		owed:     make(map[common.Address]*uint256.Int, len(s.owed)),
	}
	for k, v := range s.balances {
		out.balances[k] = v.Clone()
	}
	for k, v := range s.owed {
		out.owed[k] = v.Clone()
	}
	return out
}

// Lender is a FlashLender with fixed balances. A loan must be repaid with
// its premium before another loan of the same asset opens.
type Lender struct {
	id      domain.VenueID
	feeBps  uint32
	mu      sync.Mutex
	state   lenderState
	journal journal[lenderState]
}

// NewLender creates a lender holding a copy of balances.
func NewLender(id domain.VenueID, feeBps uint32, balances map[common.Address]*uint256.Int) *Lender {
	st := lenderState{balances: make(map[common.Address]*uint256.Int), owed: make(map[common.Address]*uint256.Int)}
	for k, v := range balances {
		st.balances[k] = v.Clone()
	}
	return &Lender{id: id, feeBps: feeBps, state: st}
}

var _ domain.FlashLender = (*Lender)(nil)

func (l *Lender) ID() domain.VenueID { return l.id }
func (l *Lender) FeeBps() uint32     { return l.feeBps }

// Balance reports what the lender holds of asset.
func (l *Lender) Balance(asset common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.state.balances[asset]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Outstanding lists open loans by asset, premium included.
func (l *Lender) Outstanding() map[common.Address]*uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.clone().owed
}

func (l *Lender) Borrow(_ context.Context, asset common.Address, amount *uint256.Int) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, open := l.state.owed[asset]; open {
		return nil, fmt.Errorf("sim: lender %s already has an open loan of %s: %w", l.id, asset.Hex(), domain.ErrLoanUnavailable)
	}
	held, ok := l.state.balances[asset]
	if !ok || held.Lt(amount) {
		return nil, fmt.Errorf("sim: lender %s cannot lend %s of %s: %w", l.id, amount.Dec(), asset.Hex(), domain.ErrLoanUnavailable)
	}
	premium, err := arbitrage.Premium(amount, l.feeBps)
	if err != nil {
		return nil, err
	}
	l.state.balances[asset] = new(uint256.Int).Sub(held, amount)
	l.state.owed[asset] = new(uint256.Int).Add(amount, premium)
	return amount.Clone(), nil
}

func (l *Lender) Repay(_ context.Context, asset common.Address, amount *uint256.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	owed, open := l.state.owed[asset]
	if !open {
		return fmt.Errorf("sim: lender %s has no open loan of %s", l.id, asset.Hex())
	}
	if amount.Lt(owed) {
		return fmt.Errorf("sim: lender %s owed %s got %s: %w", l.id, owed.Dec(), amount.Dec(), domain.ErrRepaymentShortfall)
	}
	l.state.balances[asset] = new(uint256.Int).Add(l.state.balances[asset], amount)
	delete(l.state.owed, asset)
	return nil
}

func (l *Lender) Checkpoint(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.journal.push(l.state.clone()), nil
}

func (l *Lender) Revert(_ context.Context, checkpoint int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.journal.pop(checkpoint)
	if err != nil {
		return err
	}
	l.state = st
	return nil
}

func (l *Lender) Release(_ context.Context, checkpoint int) error {
	_, err := l.journal.pop(checkpoint)
	return err
}
