package registry

import "time"

// SetClock replaces the clock used to stamp removals.
func (r *Registry) SetClock(now func() time.Time) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.now = now
}
