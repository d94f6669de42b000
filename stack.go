package respool

import (
	"context"
	"sync"
	"time"
)

// Stack is a thread-safe bounded container holding between 0 and capacity
// resources. Resources are created on demand by the factory, handed out
// most-recently-released first, and taken back on Release. At most
// capacity resources exist at any instant; Acquire blocks when the pool is
// exhausted.
//
// LIFO handout keeps the working set of distinct resources small under
// light concurrency: a bursty caller keeps getting the same warm resource
// back instead of cycling through cold ones.
type Stack[T any] struct {
	capacity int
	factory  func(context.Context) (T, error)

	// slots holds one token per acquirable resource: its length is always
	// len(idle) plus the remaining uncreated capacity. Acquire consumes a
	// token; Release, Discard, and failed creation return one.
	slots chan struct{}

	mu           sync.Mutex
	idle         []T
	created      int
	createdTotal int64
	shutting     bool
	drainClose   func(T) error
	stop         chan struct{} // closed while draining; remade by Reload
	drained      chan struct{} // non-nil while a drain waits for created to hit 0
}

// NewStack creates a bounded lazy stack with the given capacity and
// factory. The factory is invoked lazily from Acquire, never at
// construction.
func NewStack[T any](capacity int, factory func(context.Context) (T, error)) (*Stack[T], error) {
	if factory == nil {
		return nil, ErrNilFactory
	}
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}

	slots := make(chan struct{}, capacity)
	for i := 0; i < capacity; i++ {
		slots <- struct{}{}
	}

	return &Stack[T]{
		capacity: capacity,
		factory:  factory,
		slots:    slots,
		stop:     make(chan struct{}),
	}, nil
}

// Acquire returns a resource, preferring the most recently released idle
// one, then lazy creation, then blocking until another goroutine releases
// or discards a resource. A timeout <= 0 still attempts the immediate
// non-blocking path once before failing with ErrTimeout.
//
// Acquire fails with ErrShuttingDown without blocking while the stack is
// draining, and with ctx.Err() if the context is cancelled during the
// wait. A successful acquire is atomic with respect to cancellation: the
// caller either holds the resource or holds nothing.
func (s *Stack[T]) Acquire(ctx context.Context, timeout time.Duration) (T, error) {
	var zero T

	s.mu.Lock()
	if s.shutting {
		s.mu.Unlock()
		return zero, ErrShuttingDown
	}
	stop := s.stop
	s.mu.Unlock()

	select {
	case <-s.slots:
	default:
		if timeout <= 0 {
			return zero, ErrTimeout
		}

		timer := time.NewTimer(timeout)
		defer timer.Stop()

		select {
		case <-s.slots:
		case <-stop:
			return zero, ErrShuttingDown
		case <-timer.C:
			return zero, ErrTimeout
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}

	// Token held: either an idle resource or spare capacity is reserved
	// for this caller.
	s.mu.Lock()
	if s.shutting {
		s.mu.Unlock()
		s.slots <- struct{}{}
		return zero, ErrShuttingDown
	}
	if n := len(s.idle); n > 0 {
		res := s.idle[n-1]
		s.idle = s.idle[:n-1]
		s.mu.Unlock()
		return res, nil
	}
	s.created++
	s.mu.Unlock()

	// The factory runs outside the lock so slow creation does not stall
	// unrelated Release and Discard calls. Capacity is reserved up front
	// and rolled back if creation fails.
	res, err := s.factory(ctx)
	if err != nil {
		s.mu.Lock()
		drained := s.freeCapacityLocked()
		s.mu.Unlock()
		if drained != nil {
			close(drained)
		}
		s.slots <- struct{}{}
		return zero, err
	}

	s.mu.Lock()
	s.createdTotal++
	s.mu.Unlock()
	return res, nil
}

// Release returns a resource to the stack and wakes one blocked waiter.
// While the stack is draining, the resource is closed via the drain close
// function instead of going back to idle. Release never blocks.
func (s *Stack[T]) Release(res T) {
	s.mu.Lock()
	if s.shutting {
		closeFn := s.drainClose
		drained := s.freeCapacityLocked()
		s.mu.Unlock()
		closeResource(closeFn, res)
		if drained != nil {
			close(drained)
		}
		s.slots <- struct{}{}
		return
	}
	s.idle = append(s.idle, res)
	s.mu.Unlock()
	s.slots <- struct{}{}
}

// Discard removes a resource permanently without returning it to idle,
// freeing capacity for a future lazy creation. The caller is responsible
// for any cleanup of the resource itself; Discard never closes it.
func (s *Stack[T]) Discard(res T) {
	s.mu.Lock()
	drained := s.freeCapacityLocked()
	s.mu.Unlock()
	if drained != nil {
		close(drained)
	}
	s.slots <- struct{}{}
}

// freeCapacityLocked decrements created and, when a drain is waiting and
// the last live resource is gone, returns the channel to close to wake
// the drainer. Caller must hold s.mu.
func (s *Stack[T]) freeCapacityLocked() chan struct{} {
	s.created--
	if s.shutting && s.created == 0 && s.drained != nil {
		drained := s.drained
		s.drained = nil
		return drained
	}
	return nil
}

// Shutdown drains the stack: blocked waiters fail fast with
// ErrShuttingDown, idle resources are closed via closeFn, and the call
// blocks until every checked-out resource has been released (and closed)
// or discarded. All subsequent Acquire calls fail with ErrShuttingDown.
func (s *Stack[T]) Shutdown(closeFn func(T) error) {
	s.drain(closeFn, false)
}

// Reload drains exactly like Shutdown, then re-enables the stack so
// subsequent Acquire calls may lazily create resources again.
func (s *Stack[T]) Reload(closeFn func(T) error) {
	s.drain(closeFn, true)
}

func (s *Stack[T]) drain(closeFn func(T) error, restart bool) {
	s.mu.Lock()
	if !s.shutting {
		s.shutting = true
		close(s.stop)
	}
	s.drainClose = closeFn
	idle := s.idle
	s.idle = nil
	s.created -= len(idle)

	var drained chan struct{}
	if s.created > 0 {
		if s.drained == nil {
			s.drained = make(chan struct{})
		}
		drained = s.drained
	}
	s.mu.Unlock()

	// Idle tokens stay in the slots channel; waiters that pick one up see
	// the shutting flag and fail without touching idle state.
	for i := len(idle) - 1; i >= 0; i-- {
		closeResource(closeFn, idle[i])
	}

	if drained != nil {
		<-drained
	}

	if restart {
		s.mu.Lock()
		s.shutting = false
		s.drainClose = nil
		s.stop = make(chan struct{})
		s.mu.Unlock()
	}
}

// Size returns the fixed capacity of the stack.
func (s *Stack[T]) Size() int {
	return s.capacity
}

// Available returns the number of idle resources at the instant of the
// call. The value is a snapshot and may be stale by the time it is read.
func (s *Stack[T]) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.idle)
}

// snapshot returns the live and idle resource counts plus the lifetime
// creation total.
func (s *Stack[T]) snapshot() (created, idle int, createdTotal int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.created, len(s.idle), s.createdTotal
}

// closeResource applies closeFn best-effort: errors are discarded and
// panics are recovered so a misbehaving close can never stall a drain or
// corrupt bookkeeping.
func closeResource[T any](closeFn func(T) error, res T) {
	if closeFn == nil {
		return
	}
	defer func() {
		_ = recover()
	}()
	_ = closeFn(res)
}
