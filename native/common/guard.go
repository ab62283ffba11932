package common

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrModulePaused is returned when a mutating operation hits a paused module.
	ErrModulePaused = errors.New("module paused")
	// ErrReentrantCall is returned when an operation re-enters a guarded section.
	ErrReentrantCall = errors.New("reentrant call")
)

// PauseView reports whether a module's mutating operations are suspended.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the module is paused.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// CallGuard is a non-reentrant section shared by operations that perform
// outbound transfers or capability calls. Enter returns a release closure so
// the guard is dropped on every exit path via defer.
type CallGuard struct {
	busy atomic.Bool
}

// Enter acquires the guard. The returned release closure must be deferred
// immediately; a second Enter before release fails with ErrReentrantCall.
func (g *CallGuard) Enter(op string) (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	if !g.busy.CompareAndSwap(false, true) {
		return nil, fmt.Errorf("%w: %s", ErrReentrantCall, op)
	}
	return func() { g.busy.Store(false) }, nil
}
