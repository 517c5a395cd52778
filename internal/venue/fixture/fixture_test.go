package fixture

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/fixedpoint"
)

func TestDefaultScenario(t *testing.T) {
	sc := Default()
	assert.Equal(t, "cp-2000-vs-cl-1800", sc.Name)
	require.Len(t, sc.Venues, 2)

	v, ok := sc.VenueByID("aqueduct")
	require.True(t, ok)
	st, err := v.State()
	require.NoError(t, err)
	cp, ok := st.(*domain.ConstantProductState)
	require.True(t, ok)
	assert.Equal(t, "2000000000000000000000", cp.Reserve0.Dec())

	v, ok = sc.VenueByID("external")
	require.True(t, ok)
	st, err = v.State()
	require.NoError(t, err)
	cl, ok := st.(*domain.ConcentratedState)
	require.True(t, ok)
	assert.Equal(t, int32(-74960), cl.Tick)
	assert.Equal(t, "500000000000000000000", cl.Liquidity.Dec())
	require.Len(t, cl.Ticks, 2)
	assert.Equal(t, int32(-80040), cl.Ticks[0].Index)
	assert.Equal(t, "500000000000000000000", cl.Ticks[0].LiquidityNet.String())
	assert.Equal(t, "-500000000000000000000", cl.Ticks[1].LiquidityNet.String())

	_, ok = sc.VenueByID("missing")
	assert.False(t, ok)
}

func TestBuiltinScenarios(t *testing.T) {
	assert.Equal(t, []string{"cp-1950-vs-cl-2000-reversed", DefaultName}, Builtins())

	sc, err := Builtin("cp-1950-vs-cl-2000-reversed")
	require.NoError(t, err)
	assert.True(t, sc.Arbitrage.Reverse)

	src, ok := sc.VenueByID(sc.Arbitrage.Source)
	require.True(t, ok)
	dst, ok := sc.VenueByID(sc.Arbitrage.Destination)
	require.True(t, ok)
	srcState, err := src.State()
	require.NoError(t, err)
	dstState, err := dst.State()
	require.NoError(t, err)

	// the destination lists the pair the other way round
	s0, s1 := srcState.Assets()
	d0, d1 := dstState.Assets()
	assert.Equal(t, s0, d1)
	assert.Equal(t, s1, d0)
	assert.Equal(t, "500000000000000000000", dstState.(*domain.ConcentratedState).Liquidity.Dec())

	_, err = Builtin("nowhere")
	assert.Error(t, err)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"one venue", `
name: x
venues:
  - {id: a, kind: constant_product, reserve0: "1", reserve1: "1"}
lender: {id: f}
`},
		{"unknown kind", `
name: x
venues:
  - {id: a, kind: constant_product, reserve0: "1", reserve1: "1"}
  - {id: b, kind: orderbook}
lender: {id: f}
`},
		{"misaligned position", `
name: x
venues:
  - {id: a, kind: constant_product, reserve0: "1", reserve1: "1"}
  - id: b
    kind: concentrated_liquidity
    tick: 0
    tick_spacing: 60
    positions: [{lower: -50, upper: 60, liquidity: "10"}]
lender: {id: f}
`},
		{"no lender", `
name: x
venues:
  - {id: a, kind: constant_product, reserve0: "1", reserve1: "1"}
  - {id: b, kind: constant_product, reserve0: "1", reserve1: "1"}
`},
		{"bad amount", `
name: x
venues:
  - {id: a, kind: constant_product, reserve0: "-1", reserve1: "1"}
  - {id: b, kind: constant_product, reserve0: "1", reserve1: "1"}
lender: {id: f}
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestConcentratedActiveLiquidity(t *testing.T) {
	meta := domain.VenueMeta{ID: "cl", FeeBps: 5}
	s, err := Concentrated(meta, fixedpoint.Q96, 10, []Position{
		{Lower: -100, Upper: 100, Liquidity: "7"},
		{Lower: -100, Upper: 50, Liquidity: "3"},
		{Lower: 10, Upper: 20, Liquidity: "1000"},
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), s.Tick)
	assert.Equal(t, "10", s.Liquidity.Dec())
	require.Len(t, s.Ticks, 5)
	assert.Equal(t, "10", s.Ticks[0].LiquidityNet.String(), "duplicate lower ticks merge")
}
