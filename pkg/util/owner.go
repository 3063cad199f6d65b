package util

import (
	"sync/atomic"

	"github.com/petermattis/goid"
)

// OwnerGuard records the goroutine that owns a single-writer structure.
// The first goroutine to Acquire an unowned guard becomes the owner.
type OwnerGuard struct {
	owner atomic.Int64
}

// Acquire reports whether the calling goroutine owns the guard.
func (g *OwnerGuard) Acquire() bool {
	rid := goid.Get()
	if g.owner.CompareAndSwap(0, rid) {
		return true
	}
	return g.owner.Load() == rid
}

// Release gives up ownership. Only the owner (or anyone, when the guard
// is unowned) can release it.
func (g *OwnerGuard) Release() bool {
	rid := goid.Get()
	if g.owner.CompareAndSwap(rid, 0) {
		return true
	}
	return g.owner.Load() == 0
}

func (g *OwnerGuard) Owner() int64 {
	return g.owner.Load()
}
