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

func TestNewMetrics_CreatesWithoutError(t *testing.T) {
	m, _ := newTestMetrics(t)
	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}
}

func TestRecordStage(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordStage(ctx, "facts", 1.5)
	m.RecordStage(ctx, "facts", 2.5)
	m.RecordStage(ctx, "report", 0.01)

	rm := collect(t, reader)
	got := findMetric(rm, "vetsono.stage.duration")
	if got == nil {
		t.Fatal("vetsono.stage.duration not found")
	}
	hist, ok := got.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("data type = %T, want Histogram[float64]", got.Data)
	}
	if len(hist.DataPoints) != 2 {
		t.Fatalf("data points = %d, want 2 (one per stage attribute)", len(hist.DataPoints))
	}
	for _, dp := range hist.DataPoints {
		stage, _ := dp.Attributes.Value(attribute.Key("stage"))
		switch stage.AsString() {
		case "facts":
			if dp.Count != 2 || dp.Sum != 4.0 {
				t.Errorf("facts: count = %d sum = %v", dp.Count, dp.Sum)
			}
		case "report":
			if dp.Count != 1 {
				t.Errorf("report: count = %d", dp.Count)
			}
		default:
			t.Errorf("unexpected stage attribute %q", stage.AsString())
		}
	}
}

func TestProviderCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderRequest(ctx, "openai", "llm", "ok")
	m.RecordProviderError(ctx, "whispercli", "stt")

	rm := collect(t, reader)

	reqs := findMetric(rm, "vetsono.provider.requests")
	if reqs == nil {
		t.Fatal("vetsono.provider.requests not found")
	}
	sum, ok := reqs.Data.(metricdata.Sum[int64])
	if !ok || len(sum.DataPoints) != 1 || sum.DataPoints[0].Value != 2 {
		t.Errorf("provider.requests = %+v", reqs.Data)
	}

	errs := findMetric(rm, "vetsono.provider.errors")
	if errs == nil {
		t.Fatal("vetsono.provider.errors not found")
	}
	esum, ok := errs.Data.(metricdata.Sum[int64])
	if !ok || len(esum.DataPoints) != 1 || esum.DataPoints[0].Value != 1 {
		t.Errorf("provider.errors = %+v", errs.Data)
	}
}

func TestRetryAndFallbackCounters(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.RecordParseRetry(ctx, "facts")
	m.RecordFallback(ctx, "analysis")
	m.RecordFallback(ctx, "analysis")

	rm := collect(t, reader)

	retries := findMetric(rm, "vetsono.parse.retries")
	if retries == nil {
		t.Fatal("vetsono.parse.retries not found")
	}
	fallbacks := findMetric(rm, "vetsono.fallbacks")
	if fallbacks == nil {
		t.Fatal("vetsono.fallbacks not found")
	}
	fsum := fallbacks.Data.(metricdata.Sum[int64])
	if len(fsum.DataPoints) != 1 || fsum.DataPoints[0].Value != 2 {
		t.Errorf("fallbacks = %+v", fsum.DataPoints)
	}
}

func TestDefaultMetrics_SameInstance(t *testing.T) {
	a := DefaultMetrics()
	b := DefaultMetrics()
	if a != b {
		t.Error("DefaultMetrics returned different instances")
	}
}
