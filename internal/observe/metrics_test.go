package observe

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// newTestMetrics returns a Metrics instance backed by a ManualReader for
// programmatic metric inspection.
func newTestMetrics(t *testing.T) (*Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	m, err := NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	return rm
}

func findMetric(rm metricdata.ResourceMetrics, name string) *metricdata.Metrics {
	for _, sm := range rm.ScopeMetrics {
		for i := range sm.Metrics {
			if sm.Metrics[i].Name == name {
				return &sm.Metrics[i]
			}
		}
	}
	return nil
}

// sumFor returns the counter value for the data point carrying attr.
func sumFor(t *testing.T, met *metricdata.Metrics, attr attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %q is not an int64 sum", met.Name)
	}
	var total int64
	for _, dp := range sum.DataPoints {
		if v, ok := dp.Attributes.Value(attr.Key); ok && v == attr.Value {
			total += dp.Value
		}
	}
	return total
}

func TestRecordOracleCall(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordOracleCall(ctx, "reply", "ok", 0.4)
	m.RecordOracleCall(ctx, "reply", "error", 1.2)
	m.RecordOracleCall(ctx, "analysis", "ok", 12)

	rm := collect(t, reader)

	hist := findMetric(rm, "pitchcoach.oracle.duration")
	if hist == nil {
		t.Fatal("oracle duration metric not found")
	}
	h, ok := hist.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatal("oracle duration is not a histogram")
	}
	var count uint64
	for _, dp := range h.DataPoints {
		count += dp.Count
	}
	if count != 3 {
		t.Errorf("histogram samples = %d, want 3", count)
	}

	req := findMetric(rm, "pitchcoach.oracle.requests")
	if req == nil {
		t.Fatal("oracle requests metric not found")
	}
	if got := sumFor(t, req, attribute.String("status", "error")); got != 1 {
		t.Errorf("error requests = %d, want 1", got)
	}
	if got := sumFor(t, req, attribute.String("purpose", "reply")); got != 2 {
		t.Errorf("reply requests = %d, want 2", got)
	}
}

func TestRecordDecision(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordDecision(ctx, "speak", "question")
	m.RecordDecision(ctx, "silent", "oracle_silent")
	m.RecordDecision(ctx, "silent", "oracle_error")

	met := findMetric(collect(t, reader), "pitchcoach.arbiter.decisions")
	if met == nil {
		t.Fatal("decisions metric not found")
	}
	if got := sumFor(t, met, attribute.String("action", "silent")); got != 2 {
		t.Errorf("silent decisions = %d, want 2", got)
	}
	if got := sumFor(t, met, attribute.String("reason", "question")); got != 1 {
		t.Errorf("question decisions = %d, want 1", got)
	}
}

func TestRecordAnalysis(t *testing.T) {
	m, reader := newTestMetrics(t)
	m.RecordAnalysis(context.Background(), "ok")
	m.RecordAnalysis(context.Background(), "failed")

	met := findMetric(collect(t, reader), "pitchcoach.analyses")
	if met == nil {
		t.Fatal("analyses metric not found")
	}
	if got := sumFor(t, met, attribute.String("status", "failed")); got != 1 {
		t.Errorf("failed analyses = %d, want 1", got)
	}
}

func TestActiveSessionsGauge(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, 1)
	m.ActiveSessions.Add(ctx, -1)

	met := findMetric(collect(t, reader), "pitchcoach.active_sessions")
	if met == nil {
		t.Fatal("active sessions metric not found")
	}
	sum, ok := met.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatal("active sessions is not an int64 sum")
	}
	if sum.IsMonotonic {
		t.Error("active sessions should be an up/down counter")
	}
	if got := sum.DataPoints[0].Value; got != 1 {
		t.Errorf("active sessions = %d, want 1", got)
	}
}

func TestDefaultMetrics_Singleton(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a == nil || a != b {
		t.Fatal("DefaultMetrics should return the same non-nil instance")
	}
}

func TestAttr(t *testing.T) {
	kv := Attr("purpose", "analysis")
	if kv.Key != "purpose" || kv.Value.AsString() != "analysis" {
		t.Errorf("Attr = %v", kv)
	}
}
