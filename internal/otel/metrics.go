package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "replmux"

// Dispatch outcomes recorded on the dispatches counter.
const (
	OutcomeOK      = "ok"      // command sent or scheduled
	OutcomeAborted = "aborted" // required context missing, user notified
	OutcomeError   = "error"   // spawn, save or send failed
)

// Metrics holds all OTEL metric instruments for replmux.
// All counters are cumulative (monotonic) and safe for concurrent use.
type Metrics struct {
	// Dispatches partitioned by action and outcome.
	Dispatches metric.Int64Counter
	// SessionsCreated partitioned by kind (output, repl).
	SessionsCreated metric.Int64Counter
	// DeferredSends counts commands held back for a freshly started REPL.
	DeferredSends metric.Int64Counter
	// Notices partitioned by level (info, error).
	Notices metric.Int64Counter
}

// NewMetrics creates all metric instruments. Returns no-op instruments
// when no MeterProvider is registered (safe to call unconditionally).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Dispatches, err = meter.Int64Counter("dispatches.total",
		metric.WithDescription("Dispatch requests partitioned by action and outcome"))
	if err != nil {
		return nil, err
	}

	m.SessionsCreated, err = meter.Int64Counter("sessions.created",
		metric.WithDescription("Terminals and REPL sessions spawned, partitioned by kind"))
	if err != nil {
		return nil, err
	}

	m.DeferredSends, err = meter.Int64Counter("deferred_sends.total",
		metric.WithDescription("Commands delayed until a new REPL had time to start"))
	if err != nil {
		return nil, err
	}

	m.Notices, err = meter.Int64Counter("notices.total",
		metric.WithDescription("User-facing notices partitioned by level"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordDispatch records one dispatch with its outcome.
func (m *Metrics) RecordDispatch(ctx context.Context, action, outcome string) {
	if m == nil {
		return
	}
	m.Dispatches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("dispatch.action", action),
		attribute.String("dispatch.outcome", outcome),
	))
}

// RecordSessionCreated records a newly spawned terminal or REPL.
func (m *Metrics) RecordSessionCreated(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.SessionsCreated.Add(ctx, 1, metric.WithAttributes(
		attribute.String("session.kind", kind),
	))
}

// RecordDeferredSend records a command scheduled behind the start delay.
func (m *Metrics) RecordDeferredSend(ctx context.Context) {
	if m == nil {
		return
	}
	m.DeferredSends.Add(ctx, 1)
}

// RecordNotice records a user-facing notice.
func (m *Metrics) RecordNotice(ctx context.Context, level string) {
	if m == nil {
		return
	}
	m.Notices.Add(ctx, 1, metric.WithAttributes(
		attribute.String("notice.level", level),
	))
}
