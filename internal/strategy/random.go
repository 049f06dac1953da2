package strategy

import (
	"math/rand/v2"

	"github.com/angeloszaimis/tcp-router/internal/backend"
	"github.com/angeloszaimis/tcp-router/internal/registry"
)

type randomStrategy struct{}

func (r *randomStrategy) SelectBackend(snapshot registry.Snapshot) (backend.Address, bool) {
	if len(snapshot.Active) == 0 {
		return backend.Address{}, false
	}

	index := rand.IntN(len(snapshot.Active))
	return snapshot.Active[index], true
}

func NewRandomStrategy() Strategy {
	return &randomStrategy{}
}
