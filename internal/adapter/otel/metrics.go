// Package otel wires OpenTelemetry metrics and tracing for the delivery
// subsystem.
package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/clipforge/streamhub/internal/stream"
)

const meterName = "streamhub"

// healthStatusCode maps the classified status onto a gauge value so
// dashboards can alert on it numerically.
var healthStatusCode = map[stream.HealthStatus]int64{
	stream.StatusHealthy:  0,
	stream.StatusWarning:  1,
	stream.StatusCritical: 2,
}

// Metrics holds all streamhub metric instruments. It implements
// stream.Metrics.
type Metrics struct {
	activeConnections  metric.Int64UpDownCounter
	admissionsRejected metric.Int64Counter
	eventsDelivered    metric.Int64Counter
	eventsDropped      metric.Int64Counter
	compressionRatio   metric.Float64Histogram
	healthStatus       metric.Int64Gauge
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.activeConnections, err = meter.Int64UpDownCounter("streamhub.connections.active",
		metric.WithDescription("Currently pooled streaming connections"))
	if err != nil {
		return nil, err
	}

	m.admissionsRejected, err = meter.Int64Counter("streamhub.admissions.rejected",
		metric.WithDescription("Connections rejected by capacity limits"))
	if err != nil {
		return nil, err
	}

	m.eventsDelivered, err = meter.Int64Counter("streamhub.events.delivered",
		metric.WithDescription("Events enqueued for delivery"))
	if err != nil {
		return nil, err
	}

	m.eventsDropped, err = meter.Int64Counter("streamhub.events.dropped",
		metric.WithDescription("Events dropped by full queues or dead connections"))
	if err != nil {
		return nil, err
	}

	m.compressionRatio, err = meter.Float64Histogram("streamhub.compression.ratio",
		metric.WithDescription("Original/compressed size ratio of compressed payloads"))
	if err != nil {
		return nil, err
	}

	m.healthStatus, err = meter.Int64Gauge("streamhub.health.status",
		metric.WithDescription("Classified health status (0 healthy, 1 warning, 2 critical)"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) ConnectionOpened(ctx context.Context) {
	m.activeConnections.Add(ctx, 1)
}

func (m *Metrics) ConnectionClosed(ctx context.Context) {
	m.activeConnections.Add(ctx, -1)
}

func (m *Metrics) AdmissionRejected(ctx context.Context) {
	m.admissionsRejected.Add(ctx, 1)
}

func (m *Metrics) EventDelivered(ctx context.Context) {
	m.eventsDelivered.Add(ctx, 1)
}

func (m *Metrics) EventDropped(ctx context.Context) {
	m.eventsDropped.Add(ctx, 1)
}

func (m *Metrics) CompressionRatio(ctx context.Context, ratio float64) {
	m.compressionRatio.Record(ctx, ratio)
}

func (m *Metrics) HealthStatus(ctx context.Context, status stream.HealthStatus) {
	m.healthStatus.Record(ctx, healthStatusCode[status],
		metric.WithAttributes(attribute.String("status", string(status))))
}
