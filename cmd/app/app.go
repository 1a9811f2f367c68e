package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/apexmev/flasharb/config"
	"github.com/apexmev/flasharb/coordinator"
	"github.com/apexmev/flasharb/engine"
	"github.com/apexmev/flasharb/ledger"
	"github.com/apexmev/flasharb/lending"
	"github.com/apexmev/flasharb/metrics"
	"github.com/apexmev/flasharb/notify"
	"github.com/apexmev/flasharb/types"
	"github.com/apexmev/flasharb/venue"
	"github.com/apexmev/flasharb/venue/amm"
)

// App wires the whole arbitrage stack together: a shared ledger, two venue
// routers seeded from config, a funded lending pool and the coordinator that
// drives attempts against them.
type App struct {
	cfg      *config.Config
	book     *ledger.Ledger
	pool     *lending.SimulatedPool
	routers  []*amm.Router
	coord    *coordinator.Coordinator
	registry *prometheus.Registry
	logger   *zap.Logger

	redis *notify.RedisPublisher
}

// New builds the simulated environment described by cfg. The context is only
// used while connecting to optional external services such as redis.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}

	book := ledger.New()
	registry := prometheus.NewRegistry()

	routers := make([]*amm.Router, 0, len(cfg.Venues))
	routersByAddr := make(map[common.Address]venue.Router, len(cfg.Venues))
	for _, vc := range cfg.Venues {
		router, err := amm.NewRouter(vc.Name, vc.Router, book)
		if err != nil {
			return nil, fmt.Errorf("failed to create router for %s: %w", vc.Name, err)
		}
		if err := router.AddLiquidity(vc.Token0, vc.Token1, vc.Reserve0, vc.Reserve1); err != nil {
			return nil, fmt.Errorf("failed to seed liquidity on %s: %w", vc.Name, err)
		}
		routers = append(routers, router)
		routersByAddr[vc.Router] = router
	}

	eng, err := engine.NewEngine(
		venue.Venue{Name: cfg.Venues[0].Name, Router: cfg.Venues[0].Router},
		venue.Venue{Name: cfg.Venues[1].Name, Router: cfg.Venues[1].Router},
		routersByAddr, book, logger, metrics.NewEngineMetrics(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	pool, err := lending.NewSimulatedPool(cfg.Lending.Pool, cfg.Lending.PremiumBps, book, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create lending pool: %w", err)
	}
	if err := pool.Fund(cfg.Loan.Asset, cfg.Lending.Liquidity); err != nil {
		return nil, fmt.Errorf("failed to fund lending pool: %w", err)
	}
	provider := lending.NewProvider(cfg.Lending.Pool)

	var (
		notifier notify.Notifier = notify.Nop{}
		redisPub *notify.RedisPublisher
	)
	if cfg.Redis.Enabled {
		redisPub, err = notify.Dial(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		notifier = redisPub
	}

	coord, err := coordinator.New(
		coordinator.Config{Address: cfg.Executor, Owner: cfg.Owner},
		provider,
		map[common.Address]lending.Pool{cfg.Lending.Pool: pool},
		eng, book, notifier, logger,
		metrics.NewCoordinatorMetrics(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create coordinator: %w", err)
	}

	return &App{
		cfg:      cfg,
		book:     book,
		pool:     pool,
		routers:  routers,
		coord:    coord,
		registry: registry,
		logger:   logger,
		redis:    redisPub,
	}, nil
}

// Coordinator returns the assembled coordinator.
func (a *App) Coordinator() *coordinator.Coordinator {
	return a.coord
}

// Book returns the shared ledger.
func (a *App) Book() *ledger.Ledger {
	return a.book
}

// Pool returns the lending pool.
func (a *App) Pool() *lending.SimulatedPool {
	return a.pool
}

// Routers returns the venue routers in config order.
func (a *App) Routers() []*amm.Router {
	return a.routers
}

// Run executes one arbitrage attempt using the loan parameters from config.
// The shared ledger is returned either way so callers can inspect balances.
func (a *App) Run(ctx context.Context) (*ledger.Ledger, error) {
	trade, err := types.PathFor(a.cfg.Loan.Path...)
	if err != nil {
		return nil, fmt.Errorf("invalid trade path: %w", err)
	}
	params, err := trade.EncodeParams()
	if err != nil {
		return nil, fmt.Errorf("failed to encode trade path: %w", err)
	}

	if err := a.coord.Initiate(ctx, a.cfg.Owner, a.cfg.Loan.Asset, a.cfg.Loan.Amount, params); err != nil {
		return a.book, err
	}
	return a.book, nil
}

// StartMetricsServer serves the prometheus registry until ctx is cancelled.
// It returns immediately when prometheus is disabled in config.
func (a *App) StartMetricsServer(ctx context.Context) {
	if !a.cfg.PrometheusEnabled {
		return
	}

	server := &http.Server{
		Addr:    a.cfg.PrometheusEndpoint,
		Handler: promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}),
	}
	go func() {
		a.logger.Info("Serving metrics", zap.String("endpoint", a.cfg.PrometheusEndpoint))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
}

// Close releases external connections.
func (a *App) Close() error {
	if a.redis != nil {
		return a.redis.Close()
	}
	return nil
}
