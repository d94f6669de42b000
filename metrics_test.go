package respool

import (
	"context"
	"errors"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func newMeteredPool(t *testing.T, config Config[*fakeConn]) (*Pool[*fakeConn], *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	config.MeterProvider = sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	factory, _ := newCountingFactory()
	if config.Factory == nil {
		config.Factory = factory
	}
	p, err := New(config)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p, reader
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

func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	m := findMetric(rm, name)
	if m == nil {
		t.Fatalf("metric %s not found", name)
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s: expected Sum[int64], got %T", name, m.Data)
	}
	if len(sum.DataPoints) == 0 {
		t.Fatalf("metric %s: no data points", name)
	}
	return sum.DataPoints[0].Value
}

func TestMetrics_CheckoutAndCreation(t *testing.T) {
	p, reader := newMeteredPool(t, Config[*fakeConn]{Capacity: 1})
	ctx := context.Background()

	cctx, _, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if err := p.Checkin(cctx, nil); err != nil {
		t.Fatalf("Checkin() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	if got := sumValue(t, rm, "respool.checkout.total"); got != 1 {
		t.Errorf("respool.checkout.total = %d, want 1", got)
	}
	if got := sumValue(t, rm, "respool.resources.created"); got != 1 {
		t.Errorf("respool.resources.created = %d, want 1", got)
	}

	wait := findMetric(rm, "respool.checkout.wait_ms")
	if wait == nil {
		t.Fatal("respool.checkout.wait_ms metric not found")
	}
	hist, ok := wait.Data.(metricdata.Histogram[float64])
	if !ok {
		t.Fatalf("expected Histogram[float64], got %T", wait.Data)
	}
	if len(hist.DataPoints) == 0 || hist.DataPoints[0].Count != 1 {
		t.Error("expected one wait_ms observation")
	}
}

func TestMetrics_Timeouts(t *testing.T) {
	p, reader := newMeteredPool(t, Config[*fakeConn]{
		Capacity:       1,
		DefaultTimeout: 10 * time.Millisecond,
	})
	ctx := context.Background()

	if _, _, err := p.Checkout(ctx); err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if _, _, err := p.Checkout(ctx); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Checkout() error = %v, want ErrTimeout", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	if got := sumValue(t, rm, "respool.checkout.total"); got != 2 {
		t.Errorf("respool.checkout.total = %d, want 2", got)
	}
	if got := sumValue(t, rm, "respool.checkout.timeouts"); got != 1 {
		t.Errorf("respool.checkout.timeouts = %d, want 1", got)
	}
}

func TestMetrics_Withdrawn(t *testing.T) {
	p, reader := newMeteredPool(t, Config[*fakeConn]{Capacity: 1})
	ctx := context.Background()
	p.Withdraw(func(*fakeConn, error) {})

	cctx, _, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if err := p.Checkin(cctx, errors.New("broken")); err != nil {
		t.Fatalf("Checkin() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	if got := sumValue(t, rm, "respool.resources.withdrawn"); got != 1 {
		t.Errorf("respool.resources.withdrawn = %d, want 1", got)
	}
}

func TestMetrics_ReentrantCheckoutNotCounted(t *testing.T) {
	p, reader := newMeteredPool(t, Config[*fakeConn]{Capacity: 1})
	ctx := context.Background()

	cctx, _, err := p.Checkout(ctx)
	if err != nil {
		t.Fatalf("Checkout() error = %v", err)
	}
	if _, _, err := p.Checkout(cctx); err != nil {
		t.Fatalf("nested Checkout() error = %v", err)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("failed to collect metrics: %v", err)
	}

	// Only the real acquisition reaches the stack.
	if got := sumValue(t, rm, "respool.checkout.total"); got != 1 {
		t.Errorf("respool.checkout.total = %d, want 1", got)
	}
}
