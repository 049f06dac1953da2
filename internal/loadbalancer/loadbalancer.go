package loadbalancer

import (
	"errors"

	"github.com/angeloszaimis/tcp-router/internal/backend"
	"github.com/angeloszaimis/tcp-router/internal/registry"
	"github.com/angeloszaimis/tcp-router/internal/strategy"
)

// ErrNoBackendAvailable is returned when the active set is empty at
// scheduling time.
var ErrNoBackendAvailable = errors.New("no backend available")

// LoadBalancer combines the registry with a selection strategy.
type LoadBalancer struct {
	registry *registry.Registry
	strategy strategy.Strategy
}

func NewLoadBalancer(reg *registry.Registry, strategy strategy.Strategy) *LoadBalancer {
	return &LoadBalancer{
		registry: reg,
		strategy: strategy,
	}
}

// Acquire snapshots the registry, runs the strategy and reserves a slot on
// the chosen backend. Two concurrent callers may both pick the same backend
// before either reservation lands; selection is best effort, the counters
// stay exact.
func (lb *LoadBalancer) Acquire() (backend.Address, error) {
	snapshot := lb.registry.Snapshot()

	chosen, ok := lb.strategy.SelectBackend(snapshot)
	if !ok {
		return backend.Address{}, ErrNoBackendAvailable
	}

	lb.registry.Reserve(chosen)
	return chosen, nil
}

// Release gives back a slot obtained from Acquire.
func (lb *LoadBalancer) Release(addr backend.Address) {
	lb.registry.Release(addr)
}

func (lb *LoadBalancer) Registry() *registry.Registry {
	return lb.registry
}
