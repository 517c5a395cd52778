package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/executor"
	"github.com/alanyoungcy/flasharb/internal/metrics"
	"github.com/alanyoungcy/flasharb/internal/server"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
	"github.com/alanyoungcy/flasharb/internal/service"
)

// SimulateMode runs one solve-and-execute against the scenario venues and
// logs the outcome. Aborts and "no trade" are reported, not returned.
func (a *App) SimulateMode(ctx context.Context, deps *Dependencies) error {
	m, err := scenarioMarket(a.cfg)
	if err != nil {
		return err
	}
	operator := simulationOperator
	if a.cfg.Arbitrage.Operator != "" {
		operator = common.HexToAddress(a.cfg.Arbitrage.Operator)
	}
	svc, err := newService(ctx, a.cfg, deps, m, operator, a.logger)
	if err != nil {
		return err
	}
	cfg := svc.Configuration()
	a.logger.InfoContext(ctx, "starting simulate mode",
		slog.String("source", string(cfg.SourceVenue)),
		slog.String("destination", string(cfg.DestinationVenue)),
		slog.String("flash", string(cfg.FlashVenue)),
	)

	s, err := svc.SolveAndExecute(ctx, cfg.Operator, nil)
	var abort *executor.AbortError
	switch {
	case errors.Is(err, domain.ErrNoProfitableTrade):
		a.logger.InfoContext(ctx, "no profitable trade")
		return nil
	case errors.As(err, &abort):
		a.logger.WarnContext(ctx, "attempt aborted",
			slog.String("reason", service.AbortReason(err)),
			slog.Any("state_reached", abort.State),
			slog.String("error", err.Error()),
		)
		return nil
	case err != nil:
		return fmt.Errorf("simulate: %w", err)
	}

	a.logger.InfoContext(ctx, "settled",
		slog.String("settlement_id", s.ID),
		slog.String("swap_amount", s.SwapAmount.Dec()),
		slog.String("direction", s.Direction.String()),
		slog.String("balance_change0", s.BalanceChange0.String()),
		slog.String("balance_change1", s.BalanceChange1.String()),
		slog.String("premium", s.Premium.Dec()),
	)
	for _, b := range svc.Balances() {
		a.logger.InfoContext(ctx, "custody balance",
			slog.String("asset", b.Asset.Hex()),
			slog.String("amount", b.Amount.Dec()),
		)
	}
	return nil
}

// MonitorMode forks on-chain pool state every poll interval and executes
// profitable round trips against the forks.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	m, closeRPC, err := chainMarket(ctx, a.cfg, a.logger)
	if err != nil {
		return err
	}
	defer closeRPC()

	operator := common.HexToAddress(a.cfg.Arbitrage.Operator)
	svc, err := newService(ctx, a.cfg, deps, m, operator, a.logger)
	if err != nil {
		return err
	}
	mon := service.NewMonitor(svc, m.Reader, m.Forks, service.MonitorConfig{
		Interval: a.cfg.Chain.PollInterval.Duration,
		MaxInput: m.Initial.MaxInput,
		Caller:   svc.Configuration().Operator,
		DedupTTL: a.cfg.Arbitrage.DedupTTL.Duration,
	}, a.logger)

	a.logger.InfoContext(ctx, "starting monitor mode", slog.Int("venues", len(m.Forks)))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return mon.Run(ctx) })
	if a.cfg.Metrics.Enabled {
		a.startMetricsServer(ctx, g)
	}
	if deps.Archiver != nil {
		g.Go(func() error { return a.archiveLoop(ctx, deps) })
	}
	return g.Wait()
}

// ServerMode serves the HTTP and WebSocket API. With an RPC URL the venues
// are chain forks refreshed every poll interval; otherwise they are the
// scenario fixture.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	var (
		m   *market
		err error
	)
	if a.cfg.Chain.RPCURL != "" {
		var closeRPC func()
		m, closeRPC, err = chainMarket(ctx, a.cfg, a.logger)
		if err != nil {
			return err
		}
		defer closeRPC()
	} else {
		if m, err = scenarioMarket(a.cfg); err != nil {
			return err
		}
	}

	operator := common.HexToAddress(a.cfg.Arbitrage.Operator)
	svc, err := newService(ctx, a.cfg, deps, m, operator, a.logger)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "starting server mode",
		slog.Int("port", a.cfg.Server.Port),
		slog.Bool("chain", m.Reader != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	if m.Reader != nil {
		mon := service.NewMonitor(svc, m.Reader, m.Forks, service.MonitorConfig{
			Interval: a.cfg.Chain.PollInterval.Duration,
		}, a.logger)
		g.Go(func() error {
			return every(ctx, a.cfg.Chain.PollInterval.Duration, func() {
				if err := mon.Sync(ctx); err != nil && ctx.Err() == nil {
					a.logger.WarnContext(ctx, "fork refresh failed", slog.String("error", err.Error()))
				}
			})
		})
	}

	hub := ws.NewHub(deps.Bus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	if deps.Bus == nil {
		// Without Redis the hub has nothing to relay; feed it directly.
		svc.OnSettlement(func(s domain.Settlement) {
			payload, err := json.Marshal(s)
			if err != nil {
				return
			}
			hub.Broadcast(domain.ChannelSettlements, payload)
		})
	}
	g.Go(func() error { return hub.Run(ctx) })

	h := server.Handlers{
		Health:      handler.NewHealthHandler(deps.Health, a.logger),
		Arb:         handler.NewArbHandler(svc, a.logger),
		Settlements: handler.NewSettlementHandler(svc, a.logger),
		Config:      handler.NewConfigHandler(svc, a.logger),
		Custody:     handler.NewCustodyHandler(svc, a.logger),
	}
	if a.cfg.Metrics.Enabled {
		h.Metrics = metrics.Handler()
	}
	srv := server.NewServer(server.Config{
		Port:             a.cfg.Server.Port,
		CORSOrigins:      a.cfg.Server.CORSOrigins,
		SignatureMaxSkew: a.cfg.Server.SignatureMaxSkew.Duration,
		RateLimit:        a.cfg.Server.RateLimit,
		RateWindow:       a.cfg.Server.RateWindow.Duration,
		Replay:           deps.Replay,
	}, h, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	if deps.Archiver != nil {
		g.Go(func() error { return a.archiveLoop(ctx, deps) })
	}
	return g.Wait()
}

// ArchiveMode moves settlements older than the retention window to S3, then
// repeats every archive interval until ctx is cancelled.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive: s3 is not configured: %w", domain.ErrInvalidConfig)
	}
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.S3.RetentionDays),
		slog.Duration("interval", a.cfg.S3.Interval.Duration),
	)
	return a.archiveLoop(ctx, deps)
}

func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour
	return every(ctx, a.cfg.S3.Interval.Duration, func() {
		cutoff := time.Now().UTC().Add(-retention)
		n, err := deps.Archiver.ArchiveSettlements(ctx, cutoff)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.ErrorContext(ctx, "archive failed", slog.String("error", err.Error()))
			}
			return
		}
		a.logger.InfoContext(ctx, "archive complete",
			slog.Int64("settlements", n),
			slog.Time("before", cutoff),
		)
	})
}

// startMetricsServer serves /metrics on its own port.
func (a *App) startMetricsServer(ctx context.Context, g *errgroup.Group) {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Metrics.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		a.logger.InfoContext(ctx, "metrics listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// every runs fn immediately and then on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
