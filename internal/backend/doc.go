// Package backend defines the identity of a backend server: a comparable
// (host, port) value used as a map key throughout the router, plus helpers
// to build probe candidate lists from a port range or a static list.
package backend
