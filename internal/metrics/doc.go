// Package metrics provides real-time metrics collection for the router.
//
// It uses a channel-based event pipeline to asynchronously collect:
//   - Accepted client connections and 503 answers
//   - Backend selection frequencies
//   - Exchange outcomes (ok, unreachable, io_error, empty_request)
//   - Response times with percentile calculations (P50, P95, P99)
//   - Health transitions reported by the monitor
//
// The collector runs in a dedicated goroutine. Producers call Emit, which
// never blocks the connection path: events are dropped when the buffer is full.
//
// Example usage:
//
//	collector := metrics.NewCollector(1000, logger)
//	collector.Start(ctx)
//
//	collector.Emit(metrics.MetricEvent{
//		Type:     metrics.EventExchangeCompleted,
//		Backend:  "127.0.0.1:9001",
//		Duration: 3 * time.Millisecond,
//		Outcome:  metrics.OutcomeOK,
//	})
//
//	snapshot := collector.Snapshot("least-conn")
//
// Exporter adapts the same snapshot, together with the registry's in-flight
// counters, to a prometheus.Collector for the operator /metrics endpoint.
package metrics
