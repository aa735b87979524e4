package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "webmvc"

// Metrics holds the dispatch metric instruments.
type Metrics struct {
	Requests        metric.Int64Counter
	Unresolved      metric.Int64Counter
	AsyncStarted    metric.Int64Counter
	AsyncTimeouts   metric.Int64Counter
	FlashDelivered  metric.Int64Counter
	RequestDuration metric.Float64Histogram
}

// NewMetrics creates all metric instruments on the global meter provider.
// When droppedLogs is non-nil its value is reported as an observable
// counter.
func NewMetrics(droppedLogs func() int64) (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Requests, err = meter.Int64Counter("webmvc.dispatch.requests",
		metric.WithDescription("Number of completed dispatches"))
	if err != nil {
		return nil, err
	}

	m.Unresolved, err = meter.Int64Counter("webmvc.dispatch.unresolved",
		metric.WithDescription("Number of failures no exception resolver handled"))
	if err != nil {
		return nil, err
	}

	m.AsyncStarted, err = meter.Int64Counter("webmvc.async.started",
		metric.WithDescription("Number of dispatches that started async processing"))
	if err != nil {
		return nil, err
	}

	m.AsyncTimeouts, err = meter.Int64Counter("webmvc.async.timeouts",
		metric.WithDescription("Number of async dispatches that timed out"))
	if err != nil {
		return nil, err
	}

	m.FlashDelivered, err = meter.Int64Counter("webmvc.flash.delivered",
		metric.WithDescription("Number of flash maps delivered to a request"))
	if err != nil {
		return nil, err
	}

	m.RequestDuration, err = meter.Float64Histogram("webmvc.dispatch.duration_seconds",
		metric.WithDescription("Dispatch duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}

	if droppedLogs != nil {
		_, err = meter.Int64ObservableCounter("webmvc.log.dropped",
			metric.WithDescription("Log records dropped by the async handler"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(droppedLogs())
				return nil
			}))
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RecordDispatch records one completed dispatch.
func (m *Metrics) RecordDispatch(ctx context.Context, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("http.method", method),
		attribute.Int("http.status_code", status),
	)
	m.Requests.Add(ctx, 1, attrs)
	m.RequestDuration.Record(ctx, d.Seconds(), attrs)
}

// AsyncStartedInc counts a dispatch that started async processing.
func (m *Metrics) AsyncStartedInc(ctx context.Context) {
	if m != nil {
		m.AsyncStarted.Add(ctx, 1)
	}
}

// AsyncTimeoutInc counts an async timeout.
func (m *Metrics) AsyncTimeoutInc(ctx context.Context) {
	if m != nil {
		m.AsyncTimeouts.Add(ctx, 1)
	}
}

// FlashDeliveredInc counts a delivered flash map.
func (m *Metrics) FlashDeliveredInc(ctx context.Context) {
	if m != nil {
		m.FlashDelivered.Add(ctx, 1)
	}
}

// UnresolvedInc counts a failure that escaped exception resolution.
func (m *Metrics) UnresolvedInc(ctx context.Context) {
	if m != nil {
		m.Unresolved.Add(ctx, 1)
	}
}
