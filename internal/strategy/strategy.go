package strategy

import (
	"github.com/angeloszaimis/tcp-router/internal/backend"
	"github.com/angeloszaimis/tcp-router/internal/registry"
)

// Strategy picks a backend from a registry snapshot. It returns false when
// the snapshot has no active backend. Implementations do no I/O and take no
// locks on the registry; the snapshot is already a private copy.
type Strategy interface {
	SelectBackend(snapshot registry.Snapshot) (backend.Address, bool)
}
