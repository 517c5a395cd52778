// Package evm reads constant product (V2) and concentrated liquidity (V3)
// pool state from an Ethereum JSON-RPC endpoint. It never sends
// transactions.
package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/fixedpoint"
)

const v2PairABI = `[
 {"inputs":[],"name":"getReserves","outputs":[
   {"internalType":"uint112","name":"reserve0","type":"uint112"},
   {"internalType":"uint112","name":"reserve1","type":"uint112"},
   {"internalType":"uint32","name":"blockTimestampLast","type":"uint32"}],
  "stateMutability":"view","type":"function"}
]`

const v3PoolABI = `[
 {"inputs":[],"name":"slot0","outputs":[
   {"internalType":"uint160","name":"sqrtPriceX96","type":"uint160"},
   {"internalType":"int24","name":"tick","type":"int24"},
   {"internalType":"uint16","name":"observationIndex","type":"uint16"},
   {"internalType":"uint16","name":"observationCardinality","type":"uint16"},
   {"internalType":"uint16","name":"observationCardinalityNext","type":"uint16"},
   {"internalType":"uint8","name":"feeProtocol","type":"uint8"},
   {"internalType":"bool","name":"unlocked","type":"bool"}],
  "stateMutability":"view","type":"function"},
 {"inputs":[],"name":"liquidity","outputs":[{"internalType":"uint128","name":"","type":"uint128"}],"stateMutability":"view","type":"function"},
 {"inputs":[],"name":"fee","outputs":[{"internalType":"uint24","name":"","type":"uint24"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"int16","name":"wordPosition","type":"int16"}],"name":"tickBitmap","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
 {"inputs":[{"internalType":"int24","name":"tick","type":"int24"}],"name":"ticks","outputs":[
   {"internalType":"uint128","name":"liquidityGross","type":"uint128"},
   {"internalType":"int128","name":"liquidityNet","type":"int128"},
   {"internalType":"uint256","name":"feeGrowthOutside0X128","type":"uint256"},
   {"internalType":"uint256","name":"feeGrowthOutside1X128","type":"uint256"},
   {"internalType":"int56","name":"tickCumulativeOutside","type":"int56"},
   {"internalType":"uint160","name":"secondsPerLiquidityOutsideX128","type":"uint160"},
   {"internalType":"uint32","name":"secondsOutside","type":"uint32"},
   {"internalType":"bool","name":"initialized","type":"bool"}],
  "stateMutability":"view","type":"function"}
]`

const defaultWordRadius = 2

// ContractCaller is the part of ethclient.Client the reader uses.
type ContractCaller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Pool describes one on-chain pool to read.
type Pool struct {
	ID      domain.VenueID
	Kind    domain.VenueKind
	Address common.Address
	Asset0  common.Address
	Asset1  common.Address
	// FeeBps overrides the on-chain fee. V3 pools read fee() when it is 0.
	FeeBps      uint32
	TickSpacing int32
	// WordRadius is how many tick bitmap words on each side of the current
	// one are scanned for initialized ticks.
	WordRadius int
}

// Reader implements domain.StateSource over JSON-RPC.
type Reader struct {
	caller ContractCaller
	pools  map[domain.VenueID]Pool
	v2     abi.ABI
	v3     abi.ABI
	logger *slog.Logger
}

var _ domain.StateSource = (*Reader)(nil)

// Dial connects to rpcURL.
func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	ec, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	return ec, nil
}

// NewReader creates a Reader for pools.
func NewReader(caller ContractCaller, pools []Pool, logger *slog.Logger) (*Reader, error) {
	v2, err := abi.JSON(strings.NewReader(v2PairABI))
	if err != nil {
		return nil, fmt.Errorf("evm: v2 abi: %w", err)
	}
	v3, err := abi.JSON(strings.NewReader(v3PoolABI))
	if err != nil {
		return nil, fmt.Errorf("evm: v3 abi: %w", err)
	}
	byID := make(map[domain.VenueID]Pool, len(pools))
	for _, p := range pools {
		switch p.Kind {
		case domain.KindConstantProduct:
		case domain.KindConcentratedLiquidity:
			if p.TickSpacing <= 0 {
				return nil, fmt.Errorf("evm: pool %s: tick spacing %d", p.ID, p.TickSpacing)
			}
		default:
			return nil, fmt.Errorf("evm: pool %s: unknown kind %q", p.ID, p.Kind)
		}
		byID[p.ID] = p
	}
	return &Reader{
		caller: caller,
		pools:  byID,
		v2:     v2,
		v3:     v3,
		logger: logger.With(slog.String("component", "evm_reader")),
	}, nil
}

// ReadState reads the latest state of pool id.
func (r *Reader) ReadState(ctx context.Context, id domain.VenueID) (domain.VenueState, error) {
	p, ok := r.pools[id]
	if !ok {
		return nil, fmt.Errorf("evm: pool %q: %w", id, domain.ErrUnknownVenue)
	}
	meta := domain.VenueMeta{ID: p.ID, Asset0: p.Asset0, Asset1: p.Asset1, FeeBps: p.FeeBps}

	var (
		st  domain.VenueState
		err error
	)
	if p.Kind == domain.KindConstantProduct {
		st, err = r.readV2(ctx, p, meta)
	} else {
		st, err = r.readV3(ctx, p, meta)
	}
	if err != nil {
		return nil, fmt.Errorf("evm: read %s: %w", id, err)
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("evm: read %s: %w", id, err)
	}
	return st, nil
}

func (r *Reader) readV2(ctx context.Context, p Pool, meta domain.VenueMeta) (domain.VenueState, error) {
	outs, err := r.call(ctx, r.v2, p.Address, "getReserves")
	if err != nil {
		return nil, err
	}
	r0, err := u256(outs[0])
	if err != nil {
		return nil, err
	}
	r1, err := u256(outs[1])
	if err != nil {
		return nil, err
	}
	return &domain.ConstantProductState{VenueMeta: meta, Reserve0: r0, Reserve1: r1}, nil
}

func (r *Reader) readV3(ctx context.Context, p Pool, meta domain.VenueMeta) (domain.VenueState, error) {
	slot0, err := r.call(ctx, r.v3, p.Address, "slot0")
	if err != nil {
		return nil, err
	}
	sqrtPrice, err := u256(slot0[0])
	if err != nil {
		return nil, err
	}
	tickBig, ok := slot0[1].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("slot0 tick has type %T", slot0[1])
	}
	tick := int32(tickBig.Int64())

	liqOut, err := r.call(ctx, r.v3, p.Address, "liquidity")
	if err != nil {
		return nil, err
	}
	liquidity, err := u256(liqOut[0])
	if err != nil {
		return nil, err
	}

	if meta.FeeBps == 0 {
		feeOut, err := r.call(ctx, r.v3, p.Address, "fee")
		if err != nil {
			return nil, err
		}
		pips, ok := feeOut[0].(*big.Int)
		if !ok {
			return nil, fmt.Errorf("fee has type %T", feeOut[0])
		}
		// fee() is in hundredths of a basis point. Rates are carried in
		// whole basis points, so finer tiers cannot be priced exactly.
		if !pips.IsUint64() || pips.Uint64()%100 != 0 {
			return nil, fmt.Errorf("%w: fee %s pips is not a whole basis point", domain.ErrInvalidVenueState, pips)
		}
		meta.FeeBps = uint32(pips.Uint64() / 100)
	}

	ticks, window, err := r.readTicks(ctx, p, tick)
	if err != nil {
		return nil, err
	}
	return &domain.ConcentratedState{
		VenueMeta:    meta,
		SqrtPriceX96: sqrtPrice,
		Tick:         tick,
		Liquidity:    liquidity,
		TickSpacing:  p.TickSpacing,
		Ticks:        ticks,
		Window:       window,
	}, nil
}

// readTicks scans the tick bitmap around tick and loads liquidityNet for
// every initialized tick found. The returned window is the tick range the
// scanned words cover.
func (r *Reader) readTicks(ctx context.Context, p Pool, tick int32) ([]domain.Tick, *domain.TickWindow, error) {
	radius := p.WordRadius
	if radius <= 0 {
		radius = defaultWordRadius
	}
	center := int(wordPosition(tick, p.TickSpacing))
	lo, hi := max(center-radius, -32768), min(center+radius, 32767)

	var out []domain.Tick
	for w := lo; w <= hi; w++ {
		bm, err := r.call(ctx, r.v3, p.Address, "tickBitmap", int16(w))
		if err != nil {
			return nil, nil, err
		}
		word, ok := bm[0].(*big.Int)
		if !ok {
			return nil, nil, fmt.Errorf("tickBitmap has type %T", bm[0])
		}
		for _, idx := range initializedTicks(int16(w), word, p.TickSpacing) {
			info, err := r.call(ctx, r.v3, p.Address, "ticks", big.NewInt(int64(idx)))
			if err != nil {
				return nil, nil, err
			}
			net, ok := info[1].(*big.Int)
			if !ok {
				return nil, nil, fmt.Errorf("ticks(%d) liquidityNet has type %T", idx, info[1])
			}
			out = append(out, domain.Tick{Index: idx, LiquidityNet: new(big.Int).Set(net)})
		}
	}
	window := wordWindow(lo, hi, p.TickSpacing)
	r.logger.DebugContext(ctx, "ticks loaded",
		slog.String("pool", string(p.ID)),
		slog.Int("count", len(out)),
		slog.Int("window_lower", int(window.Lower)),
		slog.Int("window_upper", int(window.Upper)),
	)
	return domain.SortTicks(out), window, nil
}

// wordWindow is the inclusive tick range covered by bitmap words lo..hi,
// clamped to the valid tick range.
func wordWindow(lo, hi int, spacing int32) *domain.TickWindow {
	lower := int64(lo) * 256 * int64(spacing)
	upper := (int64(hi)*256 + 255) * int64(spacing)
	return &domain.TickWindow{
		Lower: int32(max(lower, int64(fixedpoint.MinTick))),
		Upper: int32(min(upper, int64(fixedpoint.MaxTick))),
	}
}

// call packs method(args...), runs it against the latest block and unpacks
// the outputs.
func (r *Reader) call(ctx context.Context, a abi.ABI, to common.Address, method string, args ...any) ([]any, error) {
	data, err := a.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	raw, err := r.caller.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	outs, err := a.Methods[method].Outputs.Unpack(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", method, err)
	}
	if len(outs) == 0 {
		return nil, fmt.Errorf("decode %s: empty result", method)
	}
	return outs, nil
}

// wordPosition is the bitmap word holding tick's compressed index. Division
// rounds towards negative infinity.
func wordPosition(tick, spacing int32) int16 {
	compressed := tick / spacing
	if tick < 0 && tick%spacing != 0 {
		compressed--
	}
	return int16(compressed >> 8)
}

// initializedTicks lists the ticks whose bits are set in word, ascending.
func initializedTicks(wordPos int16, word *big.Int, spacing int32) []int32 {
	var out []int32
	for bit := 0; bit < 256; bit++ {
		if word.Bit(bit) == 1 {
			compressed := int32(wordPos)<<8 + int32(bit)
			out = append(out, compressed*spacing)
		}
	}
	return out
}

func u256(v any) (*uint256.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("expected *big.Int, got %T", v)
	}
	out, overflow := uint256.FromBig(b)
	if overflow || b.Sign() < 0 {
		return nil, domain.ErrArithmeticOverflow
	}
	return out, nil
}
