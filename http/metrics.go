package http

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const instrumentationName = "github.com/freekieb7/harbor/http"

// Stats is a point in time view of the server counters.
type Stats struct {
	Accepted    int64 `json:"accepted"`
	Open        int64 `json:"open"`
	ParseErrors int64 `json:"parse_errors"`
	Dispatched  int64 `json:"dispatched"`
	Rejected    int64 `json:"rejected"`
	Queued      int64 `json:"queued"`
	InFlight    int64 `json:"in_flight"`
	Completed   int64 `json:"completed"`
	Failed      int64 `json:"failed"`
	Workers     int64 `json:"workers"`
}

type counters struct {
	accepted    atomic.Int64
	open        atomic.Int64
	parseErrors atomic.Int64
	dispatched  atomic.Int64
	rejected    atomic.Int64
	inFlight    atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
}

type instruments struct {
	counters counters

	accepted    metric.Int64Counter
	parseErrors metric.Int64Counter
	dispatched  metric.Int64Counter
	rejected    metric.Int64Counter
	responses   metric.Int64Counter
	inFlight    metric.Int64UpDownCounter
	duration    metric.Float64Histogram
}

func newInstruments() *instruments {
	meter := otel.Meter(instrumentationName)
	m := &instruments{}

	// Instrument creation only fails on invalid names; fall back to noop so the
	// server keeps running regardless.
	var err error
	if m.accepted, err = meter.Int64Counter("harbor.connections.accepted",
		metric.WithDescription("Connections accepted by the reactor"),
		metric.WithUnit("{connection}")); err != nil {
		otel.Handle(err)
		m.accepted = noop.Int64Counter{}
	}
	if m.parseErrors, err = meter.Int64Counter("harbor.requests.parse_errors",
		metric.WithDescription("Requests answered with a synchronous 500 because they could not be parsed"),
		metric.WithUnit("{request}")); err != nil {
		otel.Handle(err)
		m.parseErrors = noop.Int64Counter{}
	}
	if m.dispatched, err = meter.Int64Counter("harbor.requests.dispatched",
		metric.WithDescription("Completed requests handed to the worker pool"),
		metric.WithUnit("{request}")); err != nil {
		otel.Handle(err)
		m.dispatched = noop.Int64Counter{}
	}
	if m.rejected, err = meter.Int64Counter("harbor.requests.rejected",
		metric.WithDescription("Requests that could not be dispatched"),
		metric.WithUnit("{request}")); err != nil {
		otel.Handle(err)
		m.rejected = noop.Int64Counter{}
	}
	if m.responses, err = meter.Int64Counter("harbor.responses",
		metric.WithDescription("Responses rendered by workers"),
		metric.WithUnit("{response}")); err != nil {
		otel.Handle(err)
		m.responses = noop.Int64Counter{}
	}
	if m.inFlight, err = meter.Int64UpDownCounter("harbor.requests.in_flight",
		metric.WithDescription("Requests currently owned by a worker"),
		metric.WithUnit("{request}")); err != nil {
		otel.Handle(err)
		m.inFlight = noop.Int64UpDownCounter{}
	}
	if m.duration, err = meter.Float64Histogram("harbor.request.duration",
		metric.WithDescription("Time from dispatch pickup to connection close"),
		metric.WithUnit("s")); err != nil {
		otel.Handle(err)
		m.duration = noop.Float64Histogram{}
	}
	return m
}

func (m *instruments) connectionAccepted() {
	m.counters.accepted.Add(1)
	m.counters.open.Add(1)
	m.accepted.Add(context.Background(), 1)
}

func (m *instruments) connectionReleased() {
	m.counters.open.Add(-1)
}

func (m *instruments) parseError() {
	m.counters.parseErrors.Add(1)
	m.parseErrors.Add(context.Background(), 1)
}

func (m *instruments) requestDispatched() {
	m.counters.dispatched.Add(1)
	m.dispatched.Add(context.Background(), 1)
}

func (m *instruments) requestRejected(reason string) {
	m.counters.rejected.Add(1)
	m.rejected.Add(context.Background(), 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (m *instruments) requestStarted(ctx context.Context) {
	m.counters.inFlight.Add(1)
	m.inFlight.Add(ctx, 1)
}

func (m *instruments) requestFinished(ctx context.Context, started time.Time, failed bool) {
	m.counters.inFlight.Add(-1)
	m.inFlight.Add(ctx, -1)

	outcome := "ok"
	if failed {
		outcome = "error"
		m.counters.failed.Add(1)
	} else {
		m.counters.completed.Add(1)
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.responses.Add(ctx, 1, attrs)
	m.duration.Record(ctx, time.Since(started).Seconds(), attrs)
}

func (m *instruments) snapshot() Stats {
	return Stats{
		Accepted:    m.counters.accepted.Load(),
		Open:        m.counters.open.Load(),
		ParseErrors: m.counters.parseErrors.Load(),
		Dispatched:  m.counters.dispatched.Load(),
		Rejected:    m.counters.rejected.Load(),
		InFlight:    m.counters.inFlight.Load(),
		Completed:   m.counters.completed.Load(),
		Failed:      m.counters.failed.Load(),
	}
}
