// Package observe provides application-wide observability primitives for
// pitchcoach: OpenTelemetry metrics, distributed tracing, structured logging
// helpers, and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is installed by [InitProvider] so metrics can be scraped
// from /metrics. A package-level default [Metrics] instance
// ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with a custom [metric.MeterProvider] to avoid cross-test
// pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/MrWong99/pitchcoach"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// OracleDuration tracks language model call latency. Attribute:
	//   attribute.String("purpose", ...)
	OracleDuration metric.Float64Histogram

	// OracleRequests counts language model calls. Attributes:
	//   attribute.String("purpose", ...), attribute.String("status", ...)
	OracleRequests metric.Int64Counter

	// ArbiterDecisions counts speak/silent decisions. Attributes:
	//   attribute.String("action", ...), attribute.String("reason", ...)
	ArbiterDecisions metric.Int64Counter

	// Analyses counts presentation analyses. Attribute:
	//   attribute.String("status", ...)
	Analyses metric.Int64Counter

	// ActiveSessions tracks the number of live presentation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// conversational replies up to long report generations.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60, 120,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.OracleDuration, err = m.Float64Histogram("pitchcoach.oracle.duration",
		metric.WithDescription("Latency of language model calls by purpose."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.OracleRequests, err = m.Int64Counter("pitchcoach.oracle.requests",
		metric.WithDescription("Total language model calls by purpose and status."),
	); err != nil {
		return nil, err
	}
	if met.ArbiterDecisions, err = m.Int64Counter("pitchcoach.arbiter.decisions",
		metric.WithDescription("Customer avatar speak/silent decisions by action and reason."),
	); err != nil {
		return nil, err
	}
	if met.Analyses, err = m.Int64Counter("pitchcoach.analyses",
		metric.WithDescription("Presentation analyses by status."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("pitchcoach.active_sessions",
		metric.WithDescription("Number of live presentation sessions."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("pitchcoach.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordOracleCall records one language model call with its latency.
func (m *Metrics) RecordOracleCall(ctx context.Context, purpose, status string, seconds float64) {
	m.OracleDuration.Record(ctx, seconds,
		metric.WithAttributes(attribute.String("purpose", purpose)),
	)
	m.OracleRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("purpose", purpose),
			attribute.String("status", status),
		),
	)
}

// RecordDecision records one arbiter decision.
func (m *Metrics) RecordDecision(ctx context.Context, action, reason string) {
	m.ArbiterDecisions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("reason", reason),
		),
	)
}

// RecordAnalysis records one presentation analysis outcome.
func (m *Metrics) RecordAnalysis(ctx context.Context, status string) {
	m.Analyses.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}
