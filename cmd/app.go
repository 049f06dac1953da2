package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/tcp-router/config"
	"github.com/angeloszaimis/tcp-router/internal/handler"
	"github.com/angeloszaimis/tcp-router/internal/healthcheck"
	"github.com/angeloszaimis/tcp-router/internal/httpserver"
	"github.com/angeloszaimis/tcp-router/internal/loadbalancer"
	"github.com/angeloszaimis/tcp-router/internal/metrics"
	"github.com/angeloszaimis/tcp-router/internal/registry"
	"github.com/angeloszaimis/tcp-router/internal/strategy"
	"github.com/angeloszaimis/tcp-router/internal/tcpserver"
)

const (
	drainTimeout      = 5 * time.Second
	metricsBufferSize = 1000
)

// app holds every long-running component of the router.
type app struct {
	log       *slog.Logger
	balancer  *loadbalancer.LoadBalancer
	collector *metrics.Collector
	monitor   *healthcheck.Monitor
	router    *tcpserver.Server
	operator  *httpserver.Server
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	strat, err := createStrategy(cfg.Strategy.Type)
	if err != nil {
		return nil, err
	}

	candidates, err := cfg.HealthCheck.Candidates()
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no backend candidates configured")
	}

	reg := registry.New(log)
	lb := loadbalancer.NewLoadBalancer(reg, strat)
	collector := metrics.NewCollector(metricsBufferSize, log)

	monitor := healthcheck.NewMonitor(reg, candidates,
		healthcheck.NewTCPProber(cfg.HealthCheck.TimeoutDuration()),
		healthcheck.Options{
			Interval:    cfg.HealthCheck.IntervalDuration(),
			Concurrency: cfg.HealthCheck.Concurrency,
			PruneStale:  cfg.HealthCheck.PruneStale,
			Collector:   collector,
		}, log)

	connHandler := handler.NewConnectionHandler(lb, handler.Options{
		BufferSize:     cfg.Router.BufferSize,
		ConnectTimeout: cfg.Router.ConnectTimeoutDuration(),
		IOTimeout:      cfg.Router.IOTimeoutDuration(),
		Framing:        handler.Framing(cfg.Router.Framing),
		MaxMessageSize: cfg.Router.MaxMessageSize,
	}, collector, log)

	router, err := tcpserver.New(cfg.Server.Address, connHandler, cfg.Server.MaxConnections, log)
	if err != nil {
		return nil, fmt.Errorf("router address: %w", err)
	}

	a := &app{
		log:       log,
		balancer:  lb,
		collector: collector,
		monitor:   monitor,
		router:    router,
	}

	if cfg.Metrics.Enabled {
		promRegistry := prometheus.NewRegistry()
		promRegistry.MustRegister(
			metrics.NewExporter(collector, lb.Registry(), cfg.Strategy.Type),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)

		mux := setupRouter(collector, promRegistry, lb.Registry(), cfg.Strategy.Type)
		a.operator, err = httpserver.New(cfg.Metrics.Address, mux)
		if err != nil {
			return nil, fmt.Errorf("metrics address: %w", err)
		}
	}

	log.Info("Router configured",
		slog.String("strategy", cfg.Strategy.Type),
		slog.String("framing", cfg.Router.Framing),
		slog.Int("candidates", len(candidates)))

	return a, nil
}

// listen binds the router and operator sockets so bind failures surface
// before anything starts running.
func (a *app) listen(ctx context.Context) error {
	if err := a.router.Listen(ctx); err != nil {
		return fmt.Errorf("router: %w", err)
	}

	if a.operator != nil {
		if err := a.operator.Listen(); err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
	}

	return nil
}

// run blocks until ctx is cancelled or a component fails. In-flight
// exchanges get drainTimeout to finish after the listener closes.
func (a *app) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	a.collector.Start(gctx)

	g.Go(func() error {
		return a.monitor.Run(gctx)
	})

	g.Go(func() error {
		return a.router.Serve(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("Shutting down gracefully...")

		drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
		defer cancel()

		if err := a.router.Shutdown(drainCtx); err != nil {
			a.log.Warn("In-flight exchanges abandoned", slog.Any("err", err))
		}
		return nil
	})

	if a.operator != nil {
		g.Go(func() error {
			if err := a.operator.Start(); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})

		g.Go(func() error {
			<-gctx.Done()
			return a.operator.Shutdown(context.Background())
		})
	}

	return g.Wait()
}

func createStrategy(strategyType string) (strategy.Strategy, error) {
	switch strategyType {
	case config.StrategyLeastConn:
		return strategy.NewLeastConnStrategy(), nil
	case config.StrategyRoundRobin:
		return strategy.NewRoundRobinStrategy(), nil
	case config.StrategyRandom:
		return strategy.NewRandomStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", strategyType)
	}
}
