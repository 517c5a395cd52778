// Package fixture builds venue states from YAML scenario files and from
// liquidity positions, for simulate mode and tests.
package fixture

import (
	_ "embed"
	"fmt"
	"math/big"
	"os"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/fixedpoint"
)

// Scenario is a complete simulated market: venues, a lender and the
// arbitrage configuration to run against them.
type Scenario struct {
	Name      string    `yaml:"name"`
	Venues    []Venue   `yaml:"venues"`
	Lender    Lender    `yaml:"lender"`
	Arbitrage Arbitrage `yaml:"arbitrage"`
}

// Venue describes one pool. Constant product pools set reserves;
// concentrated pools set tick (or sqrt_price_x96), tick_spacing and
// positions.
type Venue struct {
	ID           string     `yaml:"id"`
	Kind         string     `yaml:"kind"`
	FeeBps       uint32     `yaml:"fee_bps"`
	Asset0       string     `yaml:"asset0"`
	Asset1       string     `yaml:"asset1"`
	Reserve0     string     `yaml:"reserve0"`
	Reserve1     string     `yaml:"reserve1"`
	Tick         *int32     `yaml:"tick"`
	SqrtPriceX96 string     `yaml:"sqrt_price_x96"`
	TickSpacing  int32      `yaml:"tick_spacing"`
	Positions    []Position `yaml:"positions"`
}

// Position is a range of liquidity [Lower, Upper).
type Position struct {
	Lower     int32  `yaml:"lower"`
	Upper     int32  `yaml:"upper"`
	Liquidity string `yaml:"liquidity"`
}

// Lender describes the flash venue and what it can lend.
type Lender struct {
	ID       string            `yaml:"id"`
	FeeBps   uint32            `yaml:"fee_bps"`
	Balances map[string]string `yaml:"balances"`
}

// Arbitrage is the configuration applied before the run.
type Arbitrage struct {
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`
	Reverse     bool   `yaml:"reverse"`
	MinProfit0  string `yaml:"min_profit0"`
	MinProfit1  string `yaml:"min_profit1"`
	MaxInput    string `yaml:"max_input"`
}

// Load reads and parses a scenario file.
func Load(path string) (Scenario, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("fixture: read %s: %w", path, err)
	}
	return Parse(b)
}

// Parse decodes a YAML scenario and checks every venue builds.
func Parse(b []byte) (Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(b, &sc); err != nil {
		return Scenario{}, fmt.Errorf("fixture: decode: %w", err)
	}
	if len(sc.Venues) < 2 {
		return Scenario{}, fmt.Errorf("fixture: scenario %q needs at least two venues", sc.Name)
	}
	for _, v := range sc.Venues {
		if _, err := v.State(); err != nil {
			return Scenario{}, err
		}
	}
	if sc.Lender.ID == "" {
		return Scenario{}, fmt.Errorf("fixture: scenario %q has no lender", sc.Name)
	}
	return sc, nil
}

// State builds the venue's domain state.
func (v Venue) State() (domain.VenueState, error) {
	meta := domain.VenueMeta{
		ID:     domain.VenueID(v.ID),
		Asset0: common.HexToAddress(v.Asset0),
		Asset1: common.HexToAddress(v.Asset1),
		FeeBps: v.FeeBps,
	}
	switch domain.VenueKind(v.Kind) {
	case domain.KindConstantProduct:
		r0, err := domain.ParseAmount(v.Reserve0)
		if err != nil {
			return nil, fmt.Errorf("fixture: venue %s: %w", v.ID, err)
		}
		r1, err := domain.ParseAmount(v.Reserve1)
		if err != nil {
			return nil, fmt.Errorf("fixture: venue %s: %w", v.ID, err)
		}
		s := ConstantProduct(meta, r0, r1)
		return s, s.Validate()

	case domain.KindConcentratedLiquidity:
		var (
			sqrtPrice *uint256.Int
			err       error
		)
		switch {
		case v.SqrtPriceX96 != "":
			if sqrtPrice, err = domain.ParseAmount(v.SqrtPriceX96); err != nil {
				return nil, fmt.Errorf("fixture: venue %s: %w", v.ID, err)
			}
		case v.Tick != nil:
			if sqrtPrice, err = fixedpoint.SqrtRatioAtTick(*v.Tick); err != nil {
				return nil, fmt.Errorf("fixture: venue %s: %w", v.ID, err)
			}
		default:
			return nil, fmt.Errorf("fixture: venue %s needs tick or sqrt_price_x96", v.ID)
		}
		spacing := v.TickSpacing
		if spacing == 0 {
			spacing = 1
		}
		return Concentrated(meta, sqrtPrice, spacing, v.Positions)

	default:
		return nil, fmt.Errorf("fixture: venue %s has unknown kind %q", v.ID, v.Kind)
	}
}

// ConstantProduct builds a constant product state.
func ConstantProduct(meta domain.VenueMeta, reserve0, reserve1 *uint256.Int) *domain.ConstantProductState {
	return &domain.ConstantProductState{VenueMeta: meta, Reserve0: reserve0.Clone(), Reserve1: reserve1.Clone()}
}

// Concentrated builds a tick-based state at sqrtPriceX96 from liquidity
// positions, deriving each tick's net liquidity and the active liquidity.
func Concentrated(meta domain.VenueMeta, sqrtPriceX96 *uint256.Int, tickSpacing int32, positions []Position) (*domain.ConcentratedState, error) {
	tick, err := fixedpoint.TickAtSqrtRatio(sqrtPriceX96)
	if err != nil {
		return nil, fmt.Errorf("fixture: venue %s: %w", meta.ID, err)
	}

	var ticks []domain.Tick
	active := new(big.Int)
	for _, p := range positions {
		if p.Lower >= p.Upper {
			return nil, fmt.Errorf("fixture: venue %s position [%d,%d) is empty", meta.ID, p.Lower, p.Upper)
		}
		if p.Lower%tickSpacing != 0 || p.Upper%tickSpacing != 0 {
			return nil, fmt.Errorf("fixture: venue %s position [%d,%d) not aligned to spacing %d", meta.ID, p.Lower, p.Upper, tickSpacing)
		}
		liq, ok := new(big.Int).SetString(p.Liquidity, 10)
		if !ok || liq.Sign() <= 0 {
			return nil, fmt.Errorf("fixture: venue %s position liquidity %q", meta.ID, p.Liquidity)
		}
		ticks = append(ticks,
			domain.Tick{Index: p.Lower, LiquidityNet: new(big.Int).Set(liq)},
			domain.Tick{Index: p.Upper, LiquidityNet: new(big.Int).Neg(liq)},
		)
		if p.Lower <= tick && tick < p.Upper {
			active.Add(active, liq)
		}
	}

	liquidity, overflow := uint256.FromBig(active)
	if overflow {
		return nil, fmt.Errorf("fixture: venue %s: %w", meta.ID, domain.ErrArithmeticOverflow)
	}
	s := &domain.ConcentratedState{
		VenueMeta:    meta,
		SqrtPriceX96: sqrtPriceX96.Clone(),
		Tick:         tick,
		Liquidity:    liquidity,
		TickSpacing:  tickSpacing,
		Ticks:        domain.SortTicks(ticks),
	}
	return s, s.Validate()
}

var (
	//go:embed default.yaml
	defaultScenario []byte
	//go:embed reversed.yaml
	reversedScenario []byte
)

// DefaultName is the scenario used when none is configured.
const DefaultName = "cp-2000-vs-cl-1800"

var builtins = map[string][]byte{
	DefaultName:                   defaultScenario,
	"cp-1950-vs-cl-2000-reversed": reversedScenario,
}

// Builtins lists the names of the embedded scenarios.
func Builtins() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builtin returns the embedded scenario called name.
func Builtin(name string) (Scenario, error) {
	b, ok := builtins[name]
	if !ok {
		return Scenario{}, fmt.Errorf("fixture: no built-in scenario %q", name)
	}
	return Parse(b)
}

// Default returns the built-in scenario used when no scenario file is
// configured.
func Default() Scenario {
	sc, err := Builtin(DefaultName)
	if err != nil {
		panic(fmt.Sprintf("fixture: built-in scenario: %v", err))
	}
	return sc
}

// VenueByID finds a venue in the scenario.
func (sc Scenario) VenueByID(id string) (Venue, bool) {
	for _, v := range sc.Venues {
		if v.ID == id {
			return v, true
		}
	}
	return Venue{}, false
}
