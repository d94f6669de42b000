// Package respool provides a bounded, lazily-populated resource pool for
// sharing a limited number of expensive objects (connections, handles)
// among concurrent goroutines.
//
// The pool guarantees at-most-N live resources, blocking checkout with a
// timeout, reentrant checkout per context, graceful draining on shutdown
// and reload, and an optional withdraw path that discards a resource
// implicated in an error instead of returning it to the pool.
//
// # Components
//
// The package has two strictly layered pieces:
//
//   - Stack: a thread-safe bounded LIFO container that creates resources
//     on demand up to a fixed capacity and hands them out and takes them
//     back. Acquire is the only blocking operation.
//
//   - Pool: the checkout/checkin protocol on top of the Stack, with
//     per-context reentrancy, a scoped-acquisition helper, withdraw
//     callback registration, and lifecycle controls.
//
// # Usage
//
// Create a pool with a factory, then use With for scoped access:
//
//	p, err := respool.New(respool.Config[*sql.Conn]{
//	    Capacity:       10,
//	    DefaultTimeout: 3 * time.Second,
//	    Factory:        dialConn,
//	    Close:          func(c *sql.Conn) error { return c.Close() },
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = p.With(ctx, func(ctx context.Context, c *sql.Conn) error {
//	    return useConn(ctx, c)
//	})
//
// With checks out a resource, runs the body, and checks the resource back
// in on every exit path, including a panic in the body. If a withdraw
// callback is registered and the body returns an error, the resource is
// handed to the callback and permanently discarded instead of being
// reused.
//
// Checkout returns a derived context carrying the checkout; a nested
// Checkout with that context returns the same resource and increments a
// depth counter, so a matching number of Checkin calls is required before
// the resource returns to the pool.
//
// # Lifecycle
//
// Shutdown drains the pool: idle resources are closed immediately, and
// the call blocks until every checked-out resource has been checked back
// in and closed. After Shutdown, checkouts fail with ErrShuttingDown.
// Reload performs the same drain but re-enables the pool afterward, so
// subsequent checkouts lazily create fresh resources.
package respool
