// Package custody holds the residual balances earned by settled attempts
// until the operator retrieves them.
package custody

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Authorizer reports whether caller may move funds.
type Authorizer interface {
	Authorize(caller common.Address) error
}

// Balance is one held asset.
type Balance struct {
	Asset  common.Address
	Amount *uint256.Int
}

// Vault is the instance's custody account.
type Vault struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
	auth     Authorizer
	payout   domain.Payout
	logger   *slog.Logger
}

// NewVault creates an empty vault. Funds leave it only through payout.
func NewVault(auth Authorizer, payout domain.Payout, logger *slog.Logger) *Vault {
	return &Vault{
		balances: make(map[common.Address]*uint256.Int),
		auth:     auth,
		payout:   payout,
		logger:   logger.With(slog.String("component", "custody")),
	}
}

// Balance returns the held amount of asset.
func (v *Vault) Balance(asset common.Address) *uint256.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	if b, ok := v.balances[asset]; ok {
		return b.Clone()
	}
	return new(uint256.Int)
}

// Balances lists every non-zero holding ordered by asset address.
func (v *Vault) Balances() []Balance {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]Balance, 0, len(v.balances))
	for a, b := range v.balances {
		if b.IsZero() {
			continue
		}
		out = append(out, Balance{Asset: a, Amount: b.Clone()})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Asset.Cmp(out[j].Asset) < 0
	})
	return out
}

// Retrieve sends amount of asset to dest. Only the operator may call it, and
// the balance is untouched on any failure.
func (v *Vault) Retrieve(ctx context.Context, caller, asset common.Address, amount *uint256.Int, dest common.Address) error {
	if err := v.auth.Authorize(caller); err != nil {
		v.logger.WarnContext(ctx, "unauthorized retrieve", slog.String("caller", caller.Hex()))
		return fmt.Errorf("custody: retrieve: %w", err)
	}
	if amount == nil {
		amount = new(uint256.Int)
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	held, ok := v.balances[asset]
	if !ok {
		held = new(uint256.Int)
	}
	if amount.Gt(held) {
		return fmt.Errorf("custody: retrieve %s of %s, holding %s: %w",
			amount.Dec(), asset.Hex(), held.Dec(), domain.ErrInsufficientBalance)
	}
	if amount.IsZero() {
		return nil
	}
	if err := v.payout.Transfer(ctx, asset, amount, dest); err != nil {
		return fmt.Errorf("custody: transfer to %s: %w", dest.Hex(), err)
	}
	v.balances[asset] = new(uint256.Int).Sub(held, amount)

	v.logger.InfoContext(ctx, "funds retrieved",
		slog.String("asset", asset.Hex()),
		slog.String("amount", amount.Dec()),
		slog.String("destination", dest.Hex()),
	)
	return nil
}

// Deposit credits the vault directly. Used when restoring persisted balances.
func (v *Vault) Deposit(asset common.Address, amount *uint256.Int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.credit(asset, amount)
}

func (v *Vault) credit(asset common.Address, amount *uint256.Int) error {
	held, ok := v.balances[asset]
	if !ok {
		held = new(uint256.Int)
	}
	sum, overflow := new(uint256.Int).AddOverflow(held, amount)
	if overflow {
		return fmt.Errorf("custody: credit %s: %w", asset.Hex(), domain.ErrArithmeticOverflow)
	}
	v.balances[asset] = sum
	return nil
}

// Stage opens an attempt-local view. Nothing it records reaches the vault
// until Commit.
func (v *Vault) Stage() *Staged {
	return &Staged{vault: v, deltas: make(map[common.Address]*uint256.Int)}
}

// Staged holds the funds moving through one attempt. Debits may only spend
// what the attempt itself has credited, so an attempt can never touch
// balances earned by earlier ones.
type Staged struct {
	vault  *Vault
	deltas map[common.Address]*uint256.Int
	closed bool
}

// Credit records funds received during the attempt.
func (s *Staged) Credit(asset common.Address, amount *uint256.Int) error {
	if s.closed {
		return fmt.Errorf("custody: credit on closed stage")
	}
	cur := s.Available(asset)
	sum, overflow := new(uint256.Int).AddOverflow(cur, amount)
	if overflow {
		return fmt.Errorf("custody: staged credit %s: %w", asset.Hex(), domain.ErrArithmeticOverflow)
	}
	s.deltas[asset] = sum
	return nil
}

// Debit spends staged funds. It fails with ErrInsufficientBalance when the
// attempt has not received enough of asset.
func (s *Staged) Debit(asset common.Address, amount *uint256.Int) error {
	if s.closed {
		return fmt.Errorf("custody: debit on closed stage")
	}
	cur := s.Available(asset)
	if amount.Gt(cur) {
		return fmt.Errorf("custody: staged debit %s of %s, have %s: %w",
			amount.Dec(), asset.Hex(), cur.Dec(), domain.ErrInsufficientBalance)
	}
	s.deltas[asset] = new(uint256.Int).Sub(cur, amount)
	return nil
}

// Available is what the attempt holds of asset right now.
func (s *Staged) Available(asset common.Address) *uint256.Int {
	if d, ok := s.deltas[asset]; ok {
		return d.Clone()
	}
	return new(uint256.Int)
}

// Commit moves every staged residual into the vault.
func (s *Staged) Commit() error {
	if s.closed {
		return fmt.Errorf("custody: commit on closed stage")
	}
	v := s.vault
	v.mu.Lock()
	defer v.mu.Unlock()

	next := make(map[common.Address]*uint256.Int, len(s.deltas))
	for asset, d := range s.deltas {
		held, ok := v.balances[asset]
		if !ok {
			held = new(uint256.Int)
		}
		sum, overflow := new(uint256.Int).AddOverflow(held, d)
		if overflow {
			return fmt.Errorf("custody: commit %s: %w", asset.Hex(), domain.ErrArithmeticOverflow)
		}
		next[asset] = sum
	}
	for asset, b := range next {
		v.balances[asset] = b
	}
	s.closed = true
	return nil
}

// Discard drops the stage. The vault is left as it was.
func (s *Staged) Discard() {
	s.deltas = nil
	s.closed = true
}
