package respool

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// poolMetrics records pool activity. Implementations must be safe for
// concurrent use and must not panic.
type poolMetrics interface {
	// recordCheckout records one checkout attempt with its wait duration
	// and outcome.
	recordCheckout(ctx context.Context, wait time.Duration, err error)

	// recordCreated records one successful resource creation.
	recordCreated(ctx context.Context)

	// recordWithdrawn records one resource withdrawn after an error.
	recordWithdrawn(ctx context.Context)
}

// otelMetrics is the OpenTelemetry-backed implementation of poolMetrics.
type otelMetrics struct {
	checkouts metric.Int64Counter
	timeouts  metric.Int64Counter
	waitHist  metric.Float64Histogram
	created   metric.Int64Counter
	withdrawn metric.Int64Counter
	attrs     metric.MeasurementOption
}

// newOtelMetrics creates the pool instruments on the given meter.
func newOtelMetrics(meter metric.Meter, poolName string) (*otelMetrics, error) {
	checkouts, err := meter.Int64Counter(
		"respool.checkout.total",
		metric.WithDescription("Total number of checkout attempts"),
		metric.WithUnit("{checkout}"),
	)
	if err != nil {
		return nil, err
	}

	timeouts, err := meter.Int64Counter(
		"respool.checkout.timeouts",
		metric.WithDescription("Checkout attempts that timed out waiting for a resource"),
		metric.WithUnit("{timeout}"),
	)
	if err != nil {
		return nil, err
	}

	waitHist, err := meter.Float64Histogram(
		"respool.checkout.wait_ms",
		metric.WithDescription("Time spent waiting for a resource in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	created, err := meter.Int64Counter(
		"respool.resources.created",
		metric.WithDescription("Total number of resources created by the factory"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	withdrawn, err := meter.Int64Counter(
		"respool.resources.withdrawn",
		metric.WithDescription("Total number of resources withdrawn after an error"),
		metric.WithUnit("{resource}"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		checkouts: checkouts,
		timeouts:  timeouts,
		waitHist:  waitHist,
		created:   created,
		withdrawn: withdrawn,
		attrs:     metric.WithAttributes(attribute.String("pool.name", poolName)),
	}, nil
}

func (m *otelMetrics) recordCheckout(ctx context.Context, wait time.Duration, err error) {
	m.checkouts.Add(ctx, 1, m.attrs)
	if errors.Is(err, ErrTimeout) {
		m.timeouts.Add(ctx, 1, m.attrs)
	}
	m.waitHist.Record(ctx, float64(wait.Microseconds())/1000.0, m.attrs)
}

func (m *otelMetrics) recordCreated(ctx context.Context) {
	m.created.Add(ctx, 1, m.attrs)
}

func (m *otelMetrics) recordWithdrawn(ctx context.Context) {
	m.withdrawn.Add(ctx, 1, m.attrs)
}

// noopMetrics is a poolMetrics implementation that does nothing.
type noopMetrics struct{}

func (noopMetrics) recordCheckout(ctx context.Context, wait time.Duration, err error) {}

func (noopMetrics) recordCreated(ctx context.Context) {}

func (noopMetrics) recordWithdrawn(ctx context.Context) {}
