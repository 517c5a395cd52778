package app

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/flasharb/internal/config"
	"github.com/alanyoungcy/flasharb/internal/custody"
	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/platform/evm"
	"github.com/alanyoungcy/flasharb/internal/service"
	"github.com/alanyoungcy/flasharb/internal/settings"
	"github.com/alanyoungcy/flasharb/internal/venue"
	"github.com/alanyoungcy/flasharb/internal/venue/fixture"
	"github.com/alanyoungcy/flasharb/internal/venue/sim"
)

// simulationOperator runs simulate mode when no operator is configured.
var simulationOperator = common.HexToAddress("0x00000000000000000000000000000000000f1a54")

// initialConfig is applied when no persisted configuration exists.
type initialConfig struct {
	Source      domain.VenueID
	Destination domain.VenueID
	Flash       domain.VenueID
	Reverse     bool
	MinProfit0  *uint256.Int
	MinProfit1  *uint256.Int
	MaxInput    *uint256.Int
}

// market is the set of venues a mode trades against. Reader is nil when the
// venues come from a scenario fixture rather than a chain.
type market struct {
	Registry *venue.Registry
	Forks    []service.Forkable
	Reader   domain.StateSource
	Payout   *sim.Ledger
	Initial  initialConfig
}

// scenarioMarket builds simulated venues from the configured scenario, which
// names a built-in fixture or a file. Non-empty arbitrage settings override
// the scenario's.
func scenarioMarket(cfg *config.Config) (*market, error) {
	sc := fixture.Default()
	if name := cfg.Arbitrage.Scenario; name != "" {
		var err error
		if slices.Contains(fixture.Builtins(), name) {
			sc, err = fixture.Builtin(name)
		} else {
			sc, err = fixture.Load(name)
		}
		if err != nil {
			return nil, fmt.Errorf("app: scenario: %w", err)
		}
	}

	m := &market{Registry: venue.NewRegistry(), Payout: sim.NewLedger()}
	for _, v := range sc.Venues {
		st, err := v.State()
		if err != nil {
			return nil, fmt.Errorf("app: scenario venue %s: %w", v.ID, err)
		}
		pool := sim.NewPool(st)
		m.Registry.Register(pool)
		m.Forks = append(m.Forks, pool)
	}

	balances, err := parseBalances(sc.Lender.Balances)
	if err != nil {
		return nil, fmt.Errorf("app: scenario lender: %w", err)
	}
	m.Registry.RegisterLender(sim.NewLender(domain.VenueID(sc.Lender.ID), sc.Lender.FeeBps, balances))

	arb := config.ArbitrageConfig{
		Source:      sc.Arbitrage.Source,
		Destination: sc.Arbitrage.Destination,
		Reverse:     sc.Arbitrage.Reverse || cfg.Arbitrage.Reverse,
		MinProfit0:  sc.Arbitrage.MinProfit0,
		MinProfit1:  sc.Arbitrage.MinProfit1,
		MaxInput:    sc.Arbitrage.MaxInput,
	}
	override(&arb.Source, cfg.Arbitrage.Source)
	override(&arb.Destination, cfg.Arbitrage.Destination)
	if cfg.Arbitrage.MinProfit0 != "0" {
		override(&arb.MinProfit0, cfg.Arbitrage.MinProfit0)
	}
	if cfg.Arbitrage.MinProfit1 != "0" {
		override(&arb.MinProfit1, cfg.Arbitrage.MinProfit1)
	}
	override(&arb.MaxInput, cfg.Arbitrage.MaxInput)

	if m.Initial, err = newInitialConfig(arb, domain.VenueID(sc.Lender.ID)); err != nil {
		return nil, err
	}
	return m, nil
}

// chainMarket reads every configured pool once and forks it into a
// simulated venue. The returned close function releases the RPC client.
func chainMarket(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*market, func(), error) {
	client, err := evm.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("app: %w", err)
	}

	pools := make([]evm.Pool, 0, len(cfg.Venues))
	for _, v := range cfg.Venues {
		pools = append(pools, evm.Pool{
			ID:          domain.VenueID(v.ID),
			Kind:        domain.VenueKind(v.Kind),
			Address:     common.HexToAddress(v.Address),
			Asset0:      common.HexToAddress(v.Asset0),
			Asset1:      common.HexToAddress(v.Asset1),
			FeeBps:      v.FeeBps,
			TickSpacing: v.TickSpacing,
			WordRadius:  v.WordRadius,
		})
	}
	reader, err := evm.NewReader(client, pools, logger)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("app: %w", err)
	}

	m := &market{Registry: venue.NewRegistry(), Reader: reader, Payout: sim.NewLedger()}
	for _, p := range pools {
		st, err := reader.ReadState(ctx, p.ID)
		if err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("app: initial read: %w", err)
		}
		pool := sim.NewPool(st)
		m.Registry.Register(pool)
		m.Forks = append(m.Forks, pool)
	}

	balances, err := parseBalances(cfg.Flash.Balances)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("app: flash balances: %w", err)
	}
	m.Registry.RegisterLender(sim.NewLender(domain.VenueID(cfg.Flash.ID), cfg.Flash.FeeBps, balances))

	if m.Initial, err = newInitialConfig(cfg.Arbitrage, domain.VenueID(cfg.Flash.ID)); err != nil {
		client.Close()
		return nil, nil, err
	}
	return m, client.Close, nil
}

// newService assembles an ArbService over m. A persisted configuration wins
// over m.Initial; otherwise the initial settings are applied as the operator.
func newService(ctx context.Context, cfg *config.Config, deps *Dependencies, m *market, operator common.Address, logger *slog.Logger) (*service.ArbService, error) {
	var opts []settings.Option
	if deps.ConfigStore != nil {
		opts = append(opts, settings.WithStore(deps.ConfigStore))
	}
	mgr := settings.NewManager(operator, logger, opts...)
	if err := mgr.Restore(ctx); err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	svc := service.NewArbService(service.Deps{
		Settings:    mgr,
		Registry:    m.Registry,
		Vault:       custody.NewVault(mgr, m.Payout, logger),
		Settlements: deps.Settlements,
		Attempts:    deps.Attempts,
		Audit:       deps.Audit,
		Locks:       deps.Locks,
		Bus:         deps.Bus,
		Notifier:    deps.Notifier,
	}, service.ArbConfig{
		MaxInput:       m.Initial.MaxInput,
		MaxSlippageBps: cfg.Arbitrage.MaxSlippageBps,
		LockTTL:        cfg.Arbitrage.LockTTL.Duration,
	}, logger)

	if svc.Configuration().Ready() {
		return svc, nil
	}
	u := m.Initial.update()
	if u == (settings.Update{}) {
		logger.WarnContext(ctx, "no arbitrage configuration; set it through the API")
		return svc, nil
	}
	if err := svc.Configure(ctx, mgr.Operator(), u); err != nil {
		return nil, fmt.Errorf("app: initial configuration: %w", err)
	}
	return svc, nil
}

func newInitialConfig(arb config.ArbitrageConfig, flash domain.VenueID) (initialConfig, error) {
	min0, min1, maxInput, err := arb.Amounts()
	if err != nil {
		return initialConfig{}, err
	}
	return initialConfig{
		Source:      domain.VenueID(arb.Source),
		Destination: domain.VenueID(arb.Destination),
		Flash:       flash,
		Reverse:     arb.Reverse,
		MinProfit0:  min0,
		MinProfit1:  min1,
		MaxInput:    maxInput,
	}, nil
}

// update converts the non-empty fields into a settings.Update.
func (c initialConfig) update() settings.Update {
	var u settings.Update
	if c.Source != "" {
		u.SourceVenue = &c.Source
	}
	if c.Destination != "" {
		u.DestinationVenue = &c.Destination
	}
	if c.Flash != "" {
		u.FlashVenue = &c.Flash
	}
	if u == (settings.Update{}) {
		return u
	}
	u.Reverse = &c.Reverse
	if c.MinProfit0 != nil && !c.MinProfit0.IsZero() {
		u.MinProfit0 = c.MinProfit0
	}
	if c.MinProfit1 != nil && !c.MinProfit1.IsZero() {
		u.MinProfit1 = c.MinProfit1
	}
	return u
}

func parseBalances(in map[string]string) (map[common.Address]*uint256.Int, error) {
	out := make(map[common.Address]*uint256.Int, len(in))
	for asset, amount := range in {
		if !common.IsHexAddress(asset) {
			return nil, fmt.Errorf("%q is not an address", asset)
		}
		v, err := domain.ParseAmount(amount)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", asset, err)
		}
		out[common.HexToAddress(asset)] = v
	}
	return out, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
