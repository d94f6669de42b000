package respool

import "context"

// contextKey identifies one pool's checkout in a context. Each Pool owns
// a distinct key value, so contexts carrying checkouts from different
// pools compose without shadowing each other.
type contextKey struct {
	name string
}

// checkout is the per-context checkout entry: the resource plus the
// reentrancy depth. The pool's active set is the source of truth for
// whether an entry is live; a context can outlive its checkout.
type checkout[T any] struct {
	res   T
	depth int
}

// withCheckout returns a context carrying the checkout entry under the
// pool's key.
func withCheckout[T any](ctx context.Context, key *contextKey, co *checkout[T]) context.Context {
	return context.WithValue(ctx, key, co)
}

// checkoutFrom retrieves the checkout entry for the pool's key. Returns
// nil if the context carries none. Liveness is not checked here; callers
// consult the pool's active set under its lock.
func checkoutFrom[T any](ctx context.Context, key *contextKey) *checkout[T] {
	co, _ := ctx.Value(key).(*checkout[T])
	return co
}
