// Package lock implements component C2, the arbiter that mediates mutual
// exclusion between the interrupt-driven slot engine and foreground code
// that mutates schedule, queue, and neighbor state. It is a bespoke
// three-flag handshake rather than a mutex because the engine side must
// never block waiting for the lock (spec.md invariant 1: in_slot_operation
// implies locked is false) — it only refuses to *start* a new slot while a
// request is pending or the lock is held.
package lock

import (
	"sync/atomic"
	"time"
)

// Arbiter is the singleton lock described in spec.md section 4.2.
type Arbiter struct {
	locked          atomic.Bool
	lockRequested   atomic.Bool
	inSlotOperation atomic.Bool
}

// New returns an unlocked Arbiter.
func New() *Arbiter {
	return &Arbiter{}
}

// BeginSlotOperation is called by the slot engine at the top of a slot. It
// reports false (and does nothing) if a foreground lock request is
// pending or the foreground holds the lock, in which case the engine must
// log "!skipped" and fall through to scheduling the next slot without
// touching shared state.
func (a *Arbiter) BeginSlotOperation() bool {
	if a.lockRequested.Load() || a.locked.Load() {
		return false
	}
	a.inSlotOperation.Store(true)
	return true
}

// EndSlotOperation clears in_slot_operation, satisfying invariant 1 for the
// rest of the period between slots.
func (a *Arbiter) EndSlotOperation() {
	a.inSlotOperation.Store(false)
}

// Acquire implements the foreground's request-then-wait protocol: set
// lock_requested, spin until in_slot_operation clears, then attempt to
// take the lock. It returns false in the rare race where another
// foreground acquirer won first. pollInterval bounds how often the spin
// rechecks in_slot_operation; callers typically use a small value (e.g.
// 100us) since slots are brief.
func (a *Arbiter) Acquire(pollInterval time.Duration) bool {
	a.lockRequested.Store(true)
	for a.inSlotOperation.Load() {
		time.Sleep(pollInterval)
	}
	ok := a.locked.CompareAndSwap(false, true)
	a.lockRequested.Store(false)
	return ok
}

// Release clears the lock, permitting new slots to start.
func (a *Arbiter) Release() {
	a.locked.Store(false)
}

// Locked reports whether the foreground currently holds the lock. The slot
// engine does not call this; BeginSlotOperation reads the same flag. It is
// exposed for tests and diagnostics.
func (a *Arbiter) Locked() bool {
	return a.locked.Load()
}

// LockRequested reports whether a foreground acquire is in progress.
func (a *Arbiter) LockRequested() bool {
	return a.lockRequested.Load()
}
