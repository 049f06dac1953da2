// Package registry owns the router's only shared mutable state: the set of
// backends currently believed healthy (the active set) and a per-backend
// in-flight connection counter.
//
// The health monitor replaces the active set wholesale after every scan;
// connection handlers reserve and release counter slots around each
// exchange; schedulers read immutable snapshots. Every operation runs under
// a single mutex and none of them performs I/O.
//
// Counter entries outlive the active set membership of their address, so a
// handler that reserved a backend just before the monitor removed it can
// still release its slot. Zero-valued entries for addresses that stay gone
// can be garbage-collected with Prune.
package registry
