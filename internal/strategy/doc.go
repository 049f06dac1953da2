// Package strategy implements the backend selection policies the router can
// run against a registry snapshot:
//
//   - Least Connections: the active backend with the fewest in-flight
//     exchanges; ties go to the first backend in host/port order
//   - Round Robin: cycles through the active set
//   - Random: uniform choice over the active set
//
// Every strategy reports "unavailable" when the active set is empty.
package strategy
