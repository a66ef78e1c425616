package state

import (
	"errors"
	"sync/atomic"
)

// ErrHeld reports work that was skipped because its guard was already taken
var ErrHeld = errors.New("run guard held")

// RunGuard is a non-reentrant, non-blocking lock that allows at most one
// holder at a time. A caller that fails to acquire it should skip its work
// rather than wait.
type RunGuard struct {
	held atomic.Bool
}

// TryAcquire takes the guard and reports whether it succeeded
func (g *RunGuard) TryAcquire() bool {
	return g.held.CompareAndSwap(false, true)
}

// Release frees the guard. Releasing a free guard is a no-op.
func (g *RunGuard) Release() {
	g.held.Store(false)
}

// Held reports whether the guard is currently taken
func (g *RunGuard) Held() bool {
	return g.held.Load()
}
