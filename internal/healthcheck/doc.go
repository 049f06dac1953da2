// Package healthcheck discovers reachable backends. A Monitor probes every
// candidate address with a bare TCP connect-and-close, then replaces the
// registry's active set with the addresses that answered.
package healthcheck
