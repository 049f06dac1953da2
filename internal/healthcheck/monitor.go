package healthcheck

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/tcp-router/internal/backend"
	"github.com/angeloszaimis/tcp-router/internal/metrics"
	"github.com/angeloszaimis/tcp-router/internal/registry"
)

const defaultConcurrency = 16

type Options struct {
	// Interval is the sleep between the end of one scan and the start of
	// the next.
	Interval time.Duration
	// Concurrency caps the number of probes in flight during a scan.
	Concurrency int
	// PruneStale drops zero counters of addresses that have been outside
	// the active set for longer than one Interval.
	PruneStale bool
	// Collector receives a health_changed event per transition. May be nil.
	Collector *metrics.Collector
}

// Monitor periodically scans a fixed list of candidate addresses and feeds
// the reachable ones into the registry.
type Monitor struct {
	registry   *registry.Registry
	candidates []backend.Address
	prober     Prober
	opts       Options
	logger     *slog.Logger
}

func NewMonitor(
	reg *registry.Registry,
	candidates []backend.Address,
	prober Prober,
	opts Options,
	logger *slog.Logger,
) *Monitor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	return &Monitor{
		registry:   reg,
		candidates: candidates,
		prober:     prober,
		opts:       opts,
		logger:     logger,
	}
}

// Run scans immediately and then once per interval until ctx is cancelled.
// It returns nil on cancellation and a non-nil error only when a probe ran
// out of socket resources.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("Health monitor started",
		slog.Int("candidates", len(m.candidates)),
		slog.Duration("interval", m.opts.Interval))
	defer m.logger.Info("Health monitor stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		if _, err := m.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		timer.Reset(m.opts.Interval)
	}
}

// RunOnce probes every candidate and replaces the active set with the
// reachable ones. An unreachable candidate is not an error. If ctx is
// cancelled during the scan the registry is left untouched.
func (m *Monitor) RunOnce(ctx context.Context) (registry.Diff, error) {
	reachable := make([]bool, len(m.candidates))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.Concurrency)

	for i, addr := range m.candidates {
		g.Go(func() error {
			err := m.prober.Probe(gctx, addr)
			switch {
			case err == nil:
				reachable[i] = true
			case errors.Is(err, ErrProbeResources):
				return err
			default:
				m.logger.Debug("Probe failed",
					slog.String("server", addr.String()),
					slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		m.logger.Error("Health scan aborted", slog.String("error", err.Error()))
		return registry.Diff{}, err
	}
	if err := ctx.Err(); err != nil {
		return registry.Diff{}, err
	}

	active := make([]backend.Address, 0, len(m.candidates))
	for i, addr := range m.candidates {
		if reachable[i] {
			active = append(active, addr)
		}
	}

	diff := m.registry.ReplaceActive(active)

	for _, addr := range diff.Added {
		m.opts.Collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventHealthChanged,
			Backend: addr.String(),
			Healthy: true,
		})
	}
	for _, addr := range diff.Removed {
		m.opts.Collector.Emit(metrics.MetricEvent{
			Type:    metrics.EventHealthChanged,
			Backend: addr.String(),
			Healthy: false,
		})
	}

	if m.opts.PruneStale {
		m.registry.PruneOlderThan(m.opts.Interval)
	}

	return diff, nil
}

// Candidates returns the addresses probed on every scan.
func (m *Monitor) Candidates() []backend.Address {
	return m.candidates
}
