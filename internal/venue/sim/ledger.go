package sim

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Ledger is a Payout that records what each destination has received.
type Ledger struct {
	mu       sync.Mutex
	received map[common.Address]map[common.Address]*uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{received: make(map[common.Address]map[common.Address]*uint256.Int)}
}

var _ domain.Payout = (*Ledger)(nil)

func (l *Ledger) Transfer(_ context.Context, asset common.Address, amount *uint256.Int, to common.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	byAsset, ok := l.received[to]
	if !ok {
		byAsset = make(map[common.Address]*uint256.Int)
		l.received[to] = byAsset
	}
	cur, ok := byAsset[asset]
	if !ok {
		cur = new(uint256.Int)
	}
	byAsset[asset] = new(uint256.Int).Add(cur, amount)
	return nil
}

// Received reports the total of asset sent to dest.
func (l *Ledger) Received(dest, asset common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if v, ok := l.received[dest][asset]; ok {
		return v.Clone()
	}
	return new(uint256.Int)
}
