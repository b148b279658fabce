package render

import (
	"sync/atomic"

	"rbx-avatar-renderer/internal/apperr"
)

// ErrBusy is returned when a guarded operation is already in flight.
var ErrBusy = apperr.New(apperr.Busy, "another operation is already in progress")

// Guard admits one operation of its class at a time.
type Guard struct {
	busy atomic.Bool
}

// TryAcquire claims the guard. The returned release is idempotent.
func (g *Guard) TryAcquire() (release func(), ok bool) {
	if !g.busy.CompareAndSwap(false, true) {
		return nil, false
	}
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			g.busy.Store(false)
		}
	}, true
}

// Busy reports whether an operation holds the guard.
func (g *Guard) Busy() bool { return g.busy.Load() }

// Do runs fn while holding the guard, or returns ErrBusy. The guard is
// released on every exit path, including a panic in fn.
func (g *Guard) Do(fn func() error) error {
	release, ok := g.TryAcquire()
	if !ok {
		return ErrBusy
	}
	defer release()
	return fn()
}
