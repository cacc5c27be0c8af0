package lending

import "sync/atomic"

// reentrancyGuard is the strict mutual-exclusion latch protecting the
// mutating entry points. It is not a queue: enter fails fast instead of
// blocking, because a second entry while the first is in flight means the
// call re-entered through an external collaborator.
type reentrancyGuard struct {
	held atomic.Bool
}

// enter acquires the latch or reports reentrancy. The compare-and-swap
// keeps the latch correct even if the host layer ever races two calls.
func (g *reentrancyGuard) enter() error {
	if !g.held.CompareAndSwap(false, true) {
		return ErrReentrancyDetected
	}
	return nil
}

// exit releases the latch unconditionally. Callers defer it immediately
// after a successful enter so every exit path releases exactly once.
func (g *reentrancyGuard) exit() {
	g.held.Store(false)
}
