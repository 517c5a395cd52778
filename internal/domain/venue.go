package domain

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// MaxFeeBps is the exclusive upper bound for a venue fee rate.
const MaxFeeBps = 10_000

// VenueID identifies a liquidity venue (usually the pool contract address).
type VenueID string

// VenueKind tags the pricing curve a venue follows.
type VenueKind string

const (
	KindConstantProduct       VenueKind = "constant_product"
	KindConcentratedLiquidity VenueKind = "concentrated_liquidity"
)

// VenueState is a read-only snapshot of a venue. Concrete values are
// *ConstantProductState and *ConcentratedState.
type VenueState interface {
	Venue() VenueID
	Kind() VenueKind
	Fee() uint32
	Assets() (asset0, asset1 common.Address)
	Validate() error
	Clone() VenueState
}

// VenueMeta holds the fields every venue variant shares.
type VenueMeta struct {
	ID     VenueID
	Asset0 common.Address
	Asset1 common.Address
	FeeBps uint32
}

func (m VenueMeta) Venue() VenueID { return m.ID }
func (m VenueMeta) Fee() uint32     { return m.FeeBps }

func (m VenueMeta) Assets() (common.Address, common.Address) {
	return m.Asset0, m.Asset1
}

func (m VenueMeta) validate() error {
	if m.ID == "" {
		return fmt.Errorf("%w: empty venue id", ErrInvalidVenueState)
	}
	if m.FeeBps >= MaxFeeBps {
		return fmt.Errorf("%w: venue %s fee %d bps out of range", ErrInvalidVenueState, m.ID, m.FeeBps)
	}
	return nil
}

// ConstantProductState is an x*y=k pool.
type ConstantProductState struct {
	VenueMeta
	Reserve0 *uint256.Int
	Reserve1 *uint256.Int
}

func (s *ConstantProductState) Kind() VenueKind { return KindConstantProduct }

func (s *ConstantProductState) Validate() error {
	if err := s.validate(); err != nil {
		return err
	}
	if s.Reserve0 == nil || s.Reserve1 == nil {
		return fmt.Errorf("%w: venue %s missing reserves", ErrInvalidVenueState, s.ID)
	}
	return nil
}

func (s *ConstantProductState) Clone() VenueState {
	return &ConstantProductState{
		VenueMeta: s.VenueMeta,
		Reserve0:  cloneU(s.Reserve0),
		Reserve1:  cloneU(s.Reserve1),
	}
}

// Reserves returns (reserveIn, reserveOut) for a swap in dir.
func (s *ConstantProductState) Reserves(dir Direction) (in, out *uint256.Int) {
	if dir == ZeroForOne {
		return s.Reserve0, s.Reserve1
	}
	return s.Reserve1, s.Reserve0
}

// Tick is an initialized tick boundary. LiquidityNet is signed: it is added
// to active liquidity when price crosses the tick upwards.
type Tick struct {
	Index        int32
	LiquidityNet *big.Int
}

// TickWindow is the inclusive tick range a partial read scanned. Ticks
// inside it are complete; nothing is known about liquidity outside it.
type TickWindow struct {
	Lower int32
	Upper int32
}

// Contains reports whether t lies inside the window.
func (w TickWindow) Contains(t int32) bool { return t >= w.Lower && t <= w.Upper }

// ConcentratedState is a tick-based pool. Ticks must be sorted ascending by
// index with no duplicates. A nil Window means Ticks lists every
// initialized tick of the pool.
type ConcentratedState struct {
	VenueMeta
	SqrtPriceX96 *uint256.Int
	Tick         int32
	Liquidity    *uint256.Int
	TickSpacing  int32
	Ticks        []Tick
	Window       *TickWindow
}

var maxUint128 = new(uint256.Int).Sub(new(uint256.Int).Lsh(uint256.NewInt(1), 128), uint256.NewInt(1))

func (s *ConcentratedState) Kind() VenueKind { return KindConcentratedLiquidity }

func (s *ConcentratedState) Validate() error {
	if err := s.validate(); err != nil {
		return err
	}
	if s.SqrtPriceX96 == nil || s.SqrtPriceX96.IsZero() {
		return fmt.Errorf("%w: venue %s missing sqrt price", ErrInvalidVenueState, s.ID)
	}
	if s.Liquidity == nil {
		return fmt.Errorf("%w: venue %s missing liquidity", ErrInvalidVenueState, s.ID)
	}
	if s.Liquidity.Gt(maxUint128) {
		return fmt.Errorf("%w: venue %s liquidity exceeds 128 bits", ErrInvalidVenueState, s.ID)
	}
	if s.TickSpacing <= 0 {
		return fmt.Errorf("%w: venue %s tick spacing %d", ErrInvalidVenueState, s.ID, s.TickSpacing)
	}
	if w := s.Window; w != nil {
		if w.Lower >= w.Upper {
			return fmt.Errorf("%w: venue %s empty tick window [%d, %d]", ErrInvalidVenueState, s.ID, w.Lower, w.Upper)
		}
		if !w.Contains(s.Tick) {
			return fmt.Errorf("%w: venue %s tick %d outside window [%d, %d]", ErrInvalidVenueState, s.ID, s.Tick, w.Lower, w.Upper)
		}
	}
	for i, t := range s.Ticks {
		if s.Window != nil && !s.Window.Contains(t.Index) {
			return fmt.Errorf("%w: venue %s tick %d outside window", ErrInvalidVenueState, s.ID, t.Index)
		}
		if t.LiquidityNet == nil {
			return fmt.Errorf("%w: venue %s tick %d has no liquidity net", ErrInvalidVenueState, s.ID, t.Index)
		}
		if i > 0 && s.Ticks[i-1].Index >= t.Index {
			return fmt.Errorf("%w: venue %s ticks not strictly ascending at %d", ErrInvalidVenueState, s.ID, t.Index)
		}
	}
	return nil
}

func (s *ConcentratedState) Clone() VenueState {
	ticks := make([]Tick, len(s.Ticks))
	for i, t := range s.Ticks {
		ticks[i] = Tick{Index: t.Index, LiquidityNet: new(big.Int).Set(t.LiquidityNet)}
	}
	var window *TickWindow
	if s.Window != nil {
		w := *s.Window
		window = &w
	}
	return &ConcentratedState{
		VenueMeta:    s.VenueMeta,
		SqrtPriceX96: cloneU(s.SqrtPriceX96),
		Tick:         s.Tick,
		Liquidity:    cloneU(s.Liquidity),
		TickSpacing:  s.TickSpacing,
		Ticks:        ticks,
		Window:       window,
	}
}

// NextInitializedTick returns the nearest initialized tick in the swap
// direction: at or below the current tick when price falls (ZeroForOne),
// strictly above it when price rises.
func (s *ConcentratedState) NextInitializedTick(current int32, dir Direction) (Tick, bool) {
	if dir == ZeroForOne {
		i := sort.Search(len(s.Ticks), func(i int) bool { return s.Ticks[i].Index > current })
		if i == 0 {
			return Tick{}, false
		}
		return s.Ticks[i-1], true
	}
	i := sort.Search(len(s.Ticks), func(i int) bool { return s.Ticks[i].Index > current })
	if i == len(s.Ticks) {
		return Tick{}, false
	}
	return s.Ticks[i], true
}

// SortTicks orders ticks ascending and merges duplicates.
func SortTicks(ticks []Tick) []Tick {
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Index < ticks[j].Index })
	out := ticks[:0]
	for _, t := range ticks {
		if n := len(out); n > 0 && out[n-1].Index == t.Index {
			out[n-1].LiquidityNet = new(big.Int).Add(out[n-1].LiquidityNet, t.LiquidityNet)
			continue
		}
		out = append(out, t)
	}
	return out
}

func cloneU(x *uint256.Int) *uint256.Int {
	if x == nil {
		return nil
	}
	return x.Clone()
}

// Journaled collaborators can snapshot their state and restore it. The
// orchestrator relies on this to undo completed steps of an aborted attempt.
// Revert restores the snapshot and drops it together with every later one;
// Release drops them without restoring.
type Journaled interface {
	Checkpoint(ctx context.Context) (int, error)
	Revert(ctx context.Context, checkpoint int) error
	Release(ctx context.Context, checkpoint int) error
}

// LiquidityVenue is a venue the orchestrator can quote and trade against.
type LiquidityVenue interface {
	Journaled
	ID() VenueID
	State(ctx context.Context) (VenueState, error)
	Swap(ctx context.Context, amountIn *uint256.Int, dir Direction) (*uint256.Int, error)
}

// FlashLender lends an asset for the duration of one attempt.
type FlashLender interface {
	Journaled
	ID() VenueID
	FeeBps() uint32
	Borrow(ctx context.Context, asset common.Address, amount *uint256.Int) (*uint256.Int, error)
	Repay(ctx context.Context, asset common.Address, amount *uint256.Int) error
}

// StateSource reads venue state without being able to trade.
type StateSource interface {
	ReadState(ctx context.Context, id VenueID) (VenueState, error)
}

// Payout moves custody funds to an external destination.
type Payout interface {
	Transfer(ctx context.Context, asset common.Address, amount *uint256.Int, to common.Address) error
}
