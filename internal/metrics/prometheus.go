package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/tcp-router/internal/registry"
)

const namespace = "router"

// RegistryView is the read side of the backend registry.
type RegistryView interface {
	Snapshot() registry.Snapshot
}

// Exporter exposes the collector's metrics and the registry's live counters
// as Prometheus metrics. Values are computed at scrape time.
type Exporter struct {
	collector *Collector
	registry  RegistryView
	algorithm string

	connectionsTotal *prometheus.Desc
	unavailableTotal *prometheus.Desc
	inFlight         *prometheus.Desc
	active           *prometheus.Desc
	selectionsTotal  *prometheus.Desc
	exchangesTotal   *prometheus.Desc
	responseTime     *prometheus.Desc
}

var _ prometheus.Collector = (*Exporter)(nil)

func NewExporter(collector *Collector, reg RegistryView, algorithm string) *Exporter {
	return &Exporter{
		collector: collector,
		registry:  reg,
		algorithm: algorithm,
		connectionsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "connections_total"),
			"Total number of accepted client connections.",
			nil, nil,
		),
		unavailableTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "unavailable_total"),
			"Total number of connections answered with 503 because no backend was active.",
			nil, nil,
		),
		inFlight: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "in_flight"),
			"Exchanges currently assigned to the backend.",
			[]string{"backend"}, nil,
		),
		active: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "active"),
			"Whether the backend is in the active set (1) or not (0).",
			[]string{"backend"}, nil,
		),
		selectionsTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "selections_total"),
			"Total number of times the backend was selected.",
			[]string{"backend", "strategy"}, nil,
		),
		exchangesTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "exchanges_total"),
			"Total number of finished exchanges by outcome.",
			[]string{"backend", "outcome"}, nil,
		),
		responseTime: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "backend", "response_time_seconds"),
			"Response time of successful exchanges. Quantiles cover the most recent samples.",
			[]string{"backend"}, nil,
		),
	}
}

func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	ch <- e.connectionsTotal
	ch <- e.unavailableTotal
	ch <- e.inFlight
	ch <- e.active
	ch <- e.selectionsTotal
	ch <- e.exchangesTotal
	ch <- e.responseTime
}

func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	snap := e.collector.Snapshot(e.algorithm)

	ch <- prometheus.MustNewConstMetric(e.connectionsTotal, prometheus.CounterValue, float64(snap.TotalConnections))
	ch <- prometheus.MustNewConstMetric(e.unavailableTotal, prometheus.CounterValue, float64(snap.Unavailable))

	for name, bm := range snap.Backends {
		ch <- prometheus.MustNewConstMetric(e.selectionsTotal, prometheus.CounterValue, float64(bm.Selections), name, e.algorithm)

		for outcome, n := range bm.Outcomes {
			ch <- prometheus.MustNewConstMetric(e.exchangesTotal, prometheus.CounterValue, float64(n), name, string(outcome))
		}

		if ok := bm.Outcomes[OutcomeOK]; ok > 0 {
			ch <- prometheus.MustNewConstSummary(e.responseTime, uint64(ok), bm.TotalResponse.Seconds(),
				map[float64]float64{
					0.5:  bm.P50Response.Seconds(),
					0.95: bm.P95Response.Seconds(),
					0.99: bm.P99Response.Seconds(),
				}, name)
		}
	}

	if e.registry == nil {
		return
	}

	regSnap := e.registry.Snapshot()
	for addr, n := range regSnap.Connections {
		name := addr.String()
		ch <- prometheus.MustNewConstMetric(e.inFlight, prometheus.GaugeValue, float64(n), name)

		activeValue := 0.0
		if regSnap.IsActive(addr) {
			activeValue = 1
		}
		ch <- prometheus.MustNewConstMetric(e.active, prometheus.GaugeValue, activeValue, name)
	}
}
