package strategy

import (
	"math"

	"github.com/angeloszaimis/tcp-router/internal/backend"
	"github.com/angeloszaimis/tcp-router/internal/registry"
)

type leastConnStrategy struct {
}

func (l *leastConnStrategy) SelectBackend(snapshot registry.Snapshot) (backend.Address, bool) {
	if len(snapshot.Active) == 0 {
		return backend.Address{}, false
	}

	var best backend.Address
	bestConns := math.MaxInt

	for _, addr := range snapshot.Active {
		if conns := snapshot.Count(addr); conns < bestConns {
			bestConns = conns
			best = addr
		}
	}

	return best, true
}

func NewLeastConnStrategy() Strategy {
	return &leastConnStrategy{}
}
