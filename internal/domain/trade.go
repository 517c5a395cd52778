package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// TradeQuote is the deterministic outcome of quoting one swap against one
// venue state.
type TradeQuote struct {
	Venue     VenueID
	Direction Direction
	AmountIn  *uint256.Int
	AmountOut *uint256.Int
	Fee       *uint256.Int
}

// ArbitrageResult describes a two-leg round trip. BalanceChange0/1 are the
// signed net changes in custody, indexed by the source venue's asset order.
type ArbitrageResult struct {
	SwapAmount     *uint256.Int
	Direction      Direction
	BalanceChange0 *big.Int
	BalanceChange1 *big.Int
	VenueA         VenueID
	VenueB         VenueID
	FlashVenue     VenueID
	Asset0         common.Address
	Asset1         common.Address
	Premium        *uint256.Int
	Leg1           TradeQuote
	Leg2           TradeQuote
}

// Profit returns the balance change in the asset that was borrowed.
func (r ArbitrageResult) Profit() *big.Int {
	if r.Direction == ZeroForOne {
		return r.BalanceChange0
	}
	return r.BalanceChange1
}

// BorrowedAsset is the asset taken from the flash venue.
func (r ArbitrageResult) BorrowedAsset() common.Address {
	if r.Direction == ZeroForOne {
		return r.Asset0
	}
	return r.Asset1
}

// Settlement is the record emitted once per successful attempt.
type Settlement struct {
	ID string
	ArbitrageResult
	SettledAt time.Time
}

type settlementJSON struct {
	ID             string         `json:"id"`
	SwapAmount     string         `json:"swap_amount"`
	Direction      Direction      `json:"direction"`
	BalanceChange0 string         `json:"balance_change0"`
	BalanceChange1 string         `json:"balance_change1"`
	VenueA         VenueID        `json:"venue_a"`
	VenueB         VenueID        `json:"venue_b"`
	FlashVenue     VenueID        `json:"flash_venue,omitempty"`
	Asset0         common.Address `json:"asset0"`
	Asset1         common.Address `json:"asset1"`
	Premium        string         `json:"premium"`
	Leg1Out        string         `json:"leg1_out"`
	Leg2Out        string         `json:"leg2_out"`
	SettledAt      time.Time      `json:"settled_at"`
}

// MarshalJSON writes amounts as decimal strings.
func (s Settlement) MarshalJSON() ([]byte, error) {
	return json.Marshal(settlementJSON{
		ID:             s.ID,
		SwapAmount:     decU(s.SwapAmount),
		Direction:      s.Direction,
		BalanceChange0: decB(s.BalanceChange0),
		BalanceChange1: decB(s.BalanceChange1),
		VenueA:         s.VenueA,
		VenueB:         s.VenueB,
		FlashVenue:     s.FlashVenue,
		Asset0:         s.Asset0,
		Asset1:         s.Asset1,
		Premium:        decU(s.Premium),
		Leg1Out:        decU(s.Leg1.AmountOut),
		Leg2Out:        decU(s.Leg2.AmountOut),
		SettledAt:      s.SettledAt,
	})
}

func (s *Settlement) UnmarshalJSON(b []byte) error {
	var raw settlementJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	var err error
	out := Settlement{ID: raw.ID, SettledAt: raw.SettledAt}
	out.Direction = raw.Direction
	out.VenueA, out.VenueB, out.FlashVenue = raw.VenueA, raw.VenueB, raw.FlashVenue
	out.Asset0, out.Asset1 = raw.Asset0, raw.Asset1
	if out.SwapAmount, err = ParseAmount(raw.SwapAmount); err != nil {
		return err
	}
	if out.Premium, err = ParseAmount(raw.Premium); err != nil {
		return err
	}
	if out.BalanceChange0, err = parseSigned(raw.BalanceChange0); err != nil {
		return err
	}
	if out.BalanceChange1, err = parseSigned(raw.BalanceChange1); err != nil {
		return err
	}
	leg1Out, err := ParseAmount(raw.Leg1Out)
	if err != nil {
		return err
	}
	leg2Out, err := ParseAmount(raw.Leg2Out)
	if err != nil {
		return err
	}
	out.Leg1 = TradeQuote{Venue: raw.VenueA, Direction: raw.Direction, AmountIn: out.SwapAmount, AmountOut: leg1Out}
	out.Leg2 = TradeQuote{Venue: raw.VenueB, AmountIn: leg1Out, AmountOut: leg2Out}
	*s = out
	return nil
}

// AttemptStatus is the terminal state of one solve-and-execute call.
type AttemptStatus string

const (
	AttemptSettled AttemptStatus = "settled"
	AttemptAborted AttemptStatus = "aborted"
	AttemptNoTrade AttemptStatus = "no_trade"
)

// Attempt is the audit row for every solve-and-execute call, successful or
// not. Aborted attempts leave no other trace.
type Attempt struct {
	ID           string
	VenueA       VenueID
	VenueB       VenueID
	Direction    Direction
	SwapAmount   *uint256.Int
	Status       AttemptStatus
	Reason       string
	StateReached string
	CreatedAt    time.Time
}

// ParseAmount parses a non-negative decimal amount. Empty means zero.
func ParseAmount(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("domain: parse amount %q: %w", s, err)
	}
	return v, nil
}

func parseSigned(s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("domain: parse signed amount %q", s)
	}
	return v, nil
}

func decU(x *uint256.Int) string {
	if x == nil {
		return "0"
	}
	return x.Dec()
}

func decB(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}
