package metrics

import (
	"context"
	"log/slog"
	"time"
)

type EventType string

const (
	EventConnectionAccepted EventType = "connection_accepted"
	EventBackendSelected    EventType = "backend_selected"
	EventExchangeCompleted  EventType = "exchange_completed"
	EventUnavailable        EventType = "unavailable"
	EventHealthChanged      EventType = "health_changed"
)

// Outcome classifies how an exchange with a backend ended.
type Outcome string

const (
	OutcomeOK           Outcome = "ok"
	OutcomeUnreachable  Outcome = "unreachable"
	OutcomeIOError      Outcome = "io_error"
	OutcomeEmptyRequest Outcome = "empty_request"
)

type MetricEvent struct {
	Type      EventType
	Timestamp time.Time
	Backend   string
	Duration  time.Duration
	Outcome   Outcome
	Healthy   bool
}

type Collector struct {
	eventCh chan MetricEvent
	metrics *Metrics
	logger  *slog.Logger
}

func NewCollector(bufferSize int, logger *slog.Logger) *Collector {
	return &Collector{
		eventCh: make(chan MetricEvent, bufferSize),
		metrics: NewMetrics(),
		logger:  logger,
	}
}

// Emit queues an event without blocking. Events are dropped when the buffer
// is full. A nil Collector ignores every event.
func (c *Collector) Emit(event MetricEvent) {
	if c == nil {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case c.eventCh <- event:
	default:
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			// Drain remaining events before shutdown
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(event MetricEvent) {
	switch event.Type {
	case EventConnectionAccepted:
		c.metrics.IncrementConnections()

	case EventBackendSelected:
		c.metrics.RecordBackendSelection(event.Backend)

	case EventExchangeCompleted:
		c.metrics.RecordExchange(event.Backend, event.Duration, event.Outcome)

	case EventUnavailable:
		c.metrics.IncrementUnavailable()

	case EventHealthChanged:
		c.metrics.UpdateHealthStatus(event.Backend, event.Healthy)
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}

func (c *Collector) Snapshot(algorithm string) Snapshot {
	return c.metrics.Snapshot(algorithm)
}

func (c *Collector) Metrics() *Metrics {
	return c.metrics
}
