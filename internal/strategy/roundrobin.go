package strategy

import (
	"sync/atomic"

	"github.com/angeloszaimis/tcp-router/internal/backend"
	"github.com/angeloszaimis/tcp-router/internal/registry"
)

type roundRobinStrategy struct {
	current atomic.Uint64
}

func (rb *roundRobinStrategy) SelectBackend(snapshot registry.Snapshot) (backend.Address, bool) {
	if len(snapshot.Active) == 0 {
		return backend.Address{}, false
	}

	n := rb.current.Add(1)

	index := (n - 1) % uint64(len(snapshot.Active))

	return snapshot.Active[index], true
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{}
}
