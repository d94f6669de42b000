package respool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/jonwraymond/respool"

// Config configures a Pool.
type Config[T any] struct {
	// Name identifies the pool in telemetry attributes.
	// Default: "respool"
	Name string

	// Capacity is the maximum number of live resources.
	// Default: 5
	Capacity int

	// DefaultTimeout is the maximum wait for a checkout when no explicit
	// timeout is given.
	// Default: 5 seconds
	DefaultTimeout time.Duration

	// Factory creates a resource. Invoked lazily, at most Capacity live
	// instances at a time. Required.
	Factory func(context.Context) (T, error)

	// Close releases a resource during shutdown, reload, or
	// release-while-draining. Errors and panics are discarded. Optional.
	Close func(T) error

	// MeterProvider enables checkout metrics when set. Nil disables them.
	MeterProvider metric.MeterProvider

	// TracerProvider enables a span around With when set. Nil disables it.
	TracerProvider trace.TracerProvider
}

// Pool is a reentrant checkout/checkin protocol over a bounded lazy
// Stack. Checkout hands out a resource and a derived context; presenting
// that context to Checkout again returns the same resource with an
// incremented depth, and a matching number of Checkin calls returns the
// resource to the stack.
type Pool[T any] struct {
	config Config[T]
	stack  *Stack[T]
	key    *contextKey

	mu       sync.Mutex
	active   map[*checkout[T]]struct{}
	withdraw func(T, error)

	withdrawn atomic.Int64
	timeouts  atomic.Int64

	metrics poolMetrics
	tracer  trace.Tracer
}

// New creates a Pool from the given configuration. It fails with
// ErrNilFactory when Factory is missing and ErrInvalidCapacity when
// Capacity is negative.
func New[T any](config Config[T]) (*Pool[T], error) {
	// Apply defaults
	if config.Name == "" {
		config.Name = "respool"
	}
	if config.Capacity == 0 {
		config.Capacity = 5
	}
	if config.DefaultTimeout <= 0 {
		config.DefaultTimeout = 5 * time.Second
	}

	if config.Factory == nil {
		return nil, ErrNilFactory
	}
	if config.Capacity < 0 {
		return nil, ErrInvalidCapacity
	}

	p := &Pool[T]{
		config: config,
		key:    &contextKey{name: config.Name},
		active: make(map[*checkout[T]]struct{}),
	}

	if config.MeterProvider != nil {
		m, err := newOtelMetrics(config.MeterProvider.Meter(instrumentationName), config.Name)
		if err != nil {
			return nil, err
		}
		p.metrics = m
	} else {
		p.metrics = noopMetrics{}
	}

	if config.TracerProvider != nil {
		p.tracer = config.TracerProvider.Tracer(instrumentationName)
	} else {
		p.tracer = tracenoop.NewTracerProvider().Tracer(instrumentationName)
	}

	// Count creations at the factory boundary so the stack stays free of
	// telemetry concerns.
	factory := config.Factory
	stack, err := NewStack(config.Capacity, func(ctx context.Context) (T, error) {
		res, err := factory(ctx)
		if err == nil {
			p.metrics.recordCreated(ctx)
		}
		return res, err
	})
	if err != nil {
		return nil, err
	}
	p.stack = stack

	return p, nil
}

// Checkout obtains a resource, blocking up to DefaultTimeout when the
// pool is exhausted. If ctx already carries a live checkout from this
// pool, the same resource is returned with its depth incremented and no
// new acquisition happens.
//
// The returned context carries the checkout and must be the one passed to
// Checkin. On failure no checkout state is created and the input context
// is returned unchanged.
func (p *Pool[T]) Checkout(ctx context.Context) (context.Context, T, error) {
	return p.checkout(ctx, p.config.DefaultTimeout)
}

// CheckoutTimeout is Checkout with an explicit wait bound. A timeout <= 0
// attempts the immediate non-blocking path once before failing with
// ErrTimeout.
func (p *Pool[T]) CheckoutTimeout(ctx context.Context, timeout time.Duration) (context.Context, T, error) {
	return p.checkout(ctx, timeout)
}

func (p *Pool[T]) checkout(ctx context.Context, timeout time.Duration) (context.Context, T, error) {
	if co := checkoutFrom[T](ctx, p.key); co != nil {
		p.mu.Lock()
		if _, ok := p.active[co]; ok {
			co.depth++
			p.mu.Unlock()
			return ctx, co.res, nil
		}
		p.mu.Unlock()
	}

	start := time.Now()
	res, err := p.stack.Acquire(ctx, timeout)
	p.metrics.recordCheckout(ctx, time.Since(start), err)
	if err != nil {
		if errors.Is(err, ErrTimeout) {
			p.timeouts.Add(1)
		}
		var zero T
		return ctx, zero, err
	}

	co := &checkout[T]{res: res, depth: 1}
	p.mu.Lock()
	p.active[co] = struct{}{}
	p.mu.Unlock()

	return withCheckout(ctx, p.key, co), res, nil
}

// Checkin returns the checkout carried by ctx. With a nested checkout it
// only decrements the depth. On the final checkin the resource goes back
// to the stack, unless cause is non-nil and a withdraw callback is
// registered, in which case the callback receives the resource and the
// cause and the resource is permanently discarded, freeing capacity for a
// fresh creation.
//
// Checkin never re-raises cause; propagating it remains the caller's
// responsibility. It fails with ErrNotCheckedOut when ctx holds no live
// checkout from this pool.
func (p *Pool[T]) Checkin(ctx context.Context, cause error) error {
	co := checkoutFrom[T](ctx, p.key)
	if co == nil {
		return ErrNotCheckedOut
	}

	p.mu.Lock()
	if _, ok := p.active[co]; !ok {
		p.mu.Unlock()
		return ErrNotCheckedOut
	}
	co.depth--
	if co.depth > 0 {
		p.mu.Unlock()
		return nil
	}
	delete(p.active, co)
	withdraw := p.withdraw
	p.mu.Unlock()

	if cause != nil && withdraw != nil {
		invokeWithdraw(withdraw, co.res, cause)
		p.withdrawn.Add(1)
		p.metrics.recordWithdrawn(ctx)
		p.stack.Discard(co.res)
		return nil
	}

	p.stack.Release(co.res)
	return nil
}

// With checks out a resource, runs body, and checks the resource back in
// on every exit path. A body error is passed to Checkin (triggering the
// withdraw path when a callback is registered) and then returned to the
// caller. A body panic is converted to a checkin cause and re-raised
// after the checkin completes, so the resource is never lost.
func (p *Pool[T]) With(ctx context.Context, body func(context.Context, T) error) error {
	return p.with(ctx, p.config.DefaultTimeout, body)
}

// WithTimeout is With with an explicit checkout wait bound.
func (p *Pool[T]) WithTimeout(ctx context.Context, timeout time.Duration, body func(context.Context, T) error) error {
	return p.with(ctx, timeout, body)
}

func (p *Pool[T]) with(ctx context.Context, timeout time.Duration, body func(context.Context, T) error) (err error) {
	ctx, span := p.tracer.Start(ctx, "respool.with",
		trace.WithAttributes(attribute.String("pool.name", p.config.Name)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	cctx, res, err := p.checkout(ctx, timeout)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			_ = p.Checkin(cctx, fmt.Errorf("respool: body panic: %v", r))
			panic(r)
		}
		_ = p.Checkin(cctx, err)
	}()

	err = body(cctx, res)
	return err
}

// Withdraw registers the callback invoked on the final checkin that
// carries a non-nil cause. The callback receives the resource and the
// cause; any error or panic it produces is swallowed and the resource is
// discarded regardless.
//
// Registration shares the pool lock with Checkin, so it is safe at any
// time, but it should normally happen before the pool sees concurrent use
// so every withdrawal is observed.
func (p *Pool[T]) Withdraw(fn func(T, error)) {
	p.mu.Lock()
	p.withdraw = fn
	p.mu.Unlock()
}

// Shutdown drains the pool and blocks until every live resource has been
// checked in and closed via the configured Close. Afterward all checkouts
// fail with ErrShuttingDown.
func (p *Pool[T]) Shutdown() {
	p.stack.Shutdown(p.config.Close)
}

// Reload drains exactly like Shutdown, then re-enables the pool so
// subsequent checkouts lazily create fresh resources.
func (p *Pool[T]) Reload() {
	p.stack.Reload(p.config.Close)
}

// Size returns the pool capacity.
func (p *Pool[T]) Size() int {
	return p.stack.Size()
}

// Available returns the number of idle resources at the instant of the
// call.
func (p *Pool[T]) Available() int {
	return p.stack.Available()
}

// Stats is a point-in-time snapshot of pool activity.
type Stats struct {
	Capacity     int
	Available    int
	InUse        int
	CreatedTotal int64
	Withdrawn    int64
	Timeouts     int64
}

// Stats returns current pool statistics.
func (p *Pool[T]) Stats() Stats {
	created, idle, createdTotal := p.stack.snapshot()
	return Stats{
		Capacity:     p.stack.Size(),
		Available:    idle,
		InUse:        created - idle,
		CreatedTotal: createdTotal,
		Withdrawn:    p.withdrawn.Load(),
		Timeouts:     p.timeouts.Load(),
	}
}

// invokeWithdraw runs the withdraw callback best-effort; a panic in the
// callback must not break checkin bookkeeping.
func invokeWithdraw[T any](fn func(T, error), res T, cause error) {
	defer func() {
		_ = recover()
	}()
	fn(res, cause)
}
