package registry

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/angeloszaimis/tcp-router/internal/backend"
)

// Snapshot is an immutable copy of the registry taken for a single
// scheduling decision. Active is sorted by host and port.
type Snapshot struct {
	Active      []backend.Address
	Connections map[backend.Address]int
}

// Count returns the in-flight count recorded for addr, or 0 if none.
func (s Snapshot) Count(addr backend.Address) int {
	return s.Connections[addr]
}

// IsActive reports whether addr was in the active set when the snapshot was taken.
func (s Snapshot) IsActive(addr backend.Address) bool {
	for _, a := range s.Active {
		if a == addr {
			return true
		}
	}
	return false
}

// Diff lists the addresses that entered and left the active set during a
// ReplaceActive call. Both slices are sorted.
type Diff struct {
	Added   []backend.Address
	Removed []backend.Address
}

// Empty reports whether the active set was unchanged.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Registry is the synchronized store of active backends and their in-flight
// counts. The zero value is not usable; create one with New.
type Registry struct {
	mutex         sync.Mutex
	logger        *slog.Logger
	active        map[backend.Address]struct{}
	connections   map[backend.Address]int
	inactiveSince map[backend.Address]time.Time
	now           func() time.Time
}

// New creates an empty registry.
func New(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}

	return &Registry{
		logger:        logger,
		active:        make(map[backend.Address]struct{}),
		connections:   make(map[backend.Address]int),
		inactiveSince: make(map[backend.Address]time.Time),
		now:           time.Now,
	}
}

// Snapshot returns a copy of the active set and the connection counters.
func (r *Registry) Snapshot() Snapshot {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	active := make([]backend.Address, 0, len(r.active))
	for addr := range r.active {
		active = append(active, addr)
	}
	backend.SortAddresses(active)

	return Snapshot{
		Active:      active,
		Connections: maps.Clone(r.connections),
	}
}

// ReplaceActive atomically sets the active set to newSet. Newly seen
// addresses get a zero counter; counters of removed addresses are kept.
// Additions and removals are logged and returned.
func (r *Registry) ReplaceActive(newSet []backend.Address) Diff {
	next := make(map[backend.Address]struct{}, len(newSet))
	for _, addr := range newSet {
		next[addr] = struct{}{}
	}

	var diff Diff

	r.mutex.Lock()
	now := r.now()
	for addr := range next {
		if _, ok := r.active[addr]; !ok {
			diff.Added = append(diff.Added, addr)
		}
		if _, ok := r.connections[addr]; !ok {
			r.connections[addr] = 0
		}
		delete(r.inactiveSince, addr)
	}
	for addr := range r.active {
		if _, ok := next[addr]; !ok {
			diff.Removed = append(diff.Removed, addr)
			r.inactiveSince[addr] = now
		}
	}
	r.active = next
	r.mutex.Unlock()

	backend.SortAddresses(diff.Added)
	backend.SortAddresses(diff.Removed)

	for _, addr := range diff.Added {
		r.logger.Info("Server is back up", slog.String("server", addr.String()))
	}
	for _, addr := range diff.Removed {
		r.logger.Warn("Server is down", slog.String("server", addr.String()))
	}

	return diff
}

// Reserve increments the in-flight count for addr. The address may already
// have left the active set; the reservation is still recorded so that the
// matching Release balances it.
func (r *Registry) Reserve(addr backend.Address) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, ok := r.connections[addr]; !ok {
		if _, active := r.active[addr]; !active {
			r.inactiveSince[addr] = r.now()
		}
	}
	r.connections[addr]++
}

// Release decrements the in-flight count for addr, never below zero.
// Releasing an unknown address is a no-op.
func (r *Registry) Release(addr backend.Address) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.connections[addr] > 0 {
		r.connections[addr]--
	}
}

// Connections returns the current in-flight count for addr.
func (r *Registry) Connections(addr backend.Address) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.connections[addr]
}

// Prune deletes counters that are zero, belong to an address outside the
// active set, and have been inactive since before cutoff. It returns the
// number of entries removed.
func (r *Registry) Prune(cutoff time.Time) int {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	removed := 0
	for addr, since := range r.inactiveSince {
		if _, active := r.active[addr]; active {
			delete(r.inactiveSince, addr)
			continue
		}
		if r.connections[addr] != 0 || !since.Before(cutoff) {
			continue
		}

		delete(r.connections, addr)
		delete(r.inactiveSince, addr)
		removed++
	}

	if removed > 0 {
		r.logger.Debug("Pruned stale connection counters", slog.Int("count", removed))
	}
	return removed
}

// PruneOlderThan prunes counters that have been inactive for longer than age,
// measured on the same clock that stamps removals.
func (r *Registry) PruneOlderThan(age time.Duration) int {
	return r.Prune(r.now().Add(-age))
}
