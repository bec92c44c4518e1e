// Package rtimer implements component C1, the timer scheduler: arming an
// absolute wake-up and detecting a missed deadline across a timer's
// wraparound, the way spec.md section 4.1 describes.
package rtimer

import "time"

// Ticks is an absolute point in rtimer-tick space. The tick rate is
// whatever Clock.TicksPerSecond reports; real deployments would use a
// high-resolution hardware counter, tests use a fake at an arbitrary rate.
type Ticks int64

// Duration is a relative number of ticks.
type Duration int64

// Guard is the minimum lead time subtracted from every scheduled deadline
// so the engine wakes slightly early and busy-waits the remainder, per
// spec.md section 4.1. Expressed in ticks of whatever clock is in use;
// callers derive it from Clock.TicksPerSecond.
func Guard(ticksPerSecond int64) Duration {
	g := ticksPerSecond / 100000 // one 100,000th of a second
	if g < 2 {
		g = 2
	}
	return Duration(g)
}

// Clock is the timing collaborator the slot engine depends on. Production
// code uses realClock (golang.org/x/sys/unix.ClockGettime on
// CLOCK_MONOTONIC); tests use a FakeClock that advances under explicit
// control so slot timing is deterministic.
type Clock interface {
	// Now returns the current absolute tick.
	Now() Ticks
	// TicksPerSecond is the clock's resolution.
	TicksPerSecond() int64
	// SleepUntil blocks the calling goroutine until target is reached (or
	// immediately if it has already passed). It is the cooperative
	// "yield" point: in the real engine this parks the single slot-engine
	// goroutine; every YieldUntil call in slotop is expressed in terms of
	// this method.
	SleepUntil(target Ticks)
}

// Scheduler implements component C1 against a given Clock.
type Scheduler struct {
	Clock Clock
}

// New returns a Scheduler driven by clk.
func New(clk Clock) *Scheduler {
	return &Scheduler{Clock: clk}
}

// Schedule computes target = refTime + offset, subtracts a guard interval,
// and reports whether that deadline is still reachable. It tolerates
// exactly one overflow of a 32-bit tick counter between refTime and now,
// using the rule from spec.md section 4.1: if now and target have the same
// overflow parity relative to refTime, compare directly; otherwise the
// overflowed side has already passed.
//
// Schedule does not itself arm hardware; it is a pure decision function so
// it can be tested without a real timer. Callers combine it with
// Clock.SleepUntil to actually wait.
func (s *Scheduler) Schedule(refTime Ticks, offset Duration) (target Ticks, ok bool) {
	target = refTime + Ticks(offset)
	guard := Ticks(Guard(s.Clock.TicksPerSecond()))
	deadline := target - guard

	now := s.Clock.Now()
	if missed(now, deadline, refTime) {
		return target, false
	}
	return target, true
}

// missed implements the single-overflow-tolerant "has this deadline
// passed" rule of spec.md section 4.1. It treats the tick space as
// unbounded (Ticks is a signed 64-bit quantity) but the comparison is
// written so it still behaves correctly if a caller's Clock wraps a
// narrower hardware counter into Ticks: a wrap shows up as now or
// deadline jumping to the "other side" of refTime, and the same-parity
// rule resolves which one is actually later in wall-clock terms.
func missed(now, deadline, refTime Ticks) bool {
	nowOverflowed := now < refTime
	deadlineOverflowed := deadline < refTime
	if nowOverflowed == deadlineOverflowed {
		return now >= deadline
	}
	// Different parity: whichever side overflowed relative to refTime is
	// the one that has actually moved further forward in time.
	return nowOverflowed
}

// YieldUntil is the YIELD_UNTIL macro of spec.md section 4.1: schedule a
// wake relative to ref at ref+offset-guard, cooperatively yield (here:
// block on the clock), then busy-wait to hit the exact target tick. It
// returns false without waiting if the deadline has already been missed,
// so the caller can take its catch-up branch.
func (s *Scheduler) YieldUntil(ref Ticks, offset Duration) bool {
	target, ok := s.Schedule(ref, offset)
	if !ok {
		return false
	}
	s.Clock.SleepUntil(target)
	return true
}

// WallClock adapts a time.Duration into ticks at the given resolution,
// for configuration values expressed in human units (milliseconds,
// microseconds) that need converting to a Clock's native tick rate.
func WallClock(d time.Duration, ticksPerSecond int64) Duration {
	return Duration(d.Nanoseconds() * ticksPerSecond / int64(time.Second))
}

// ToDuration is the inverse of WallClock, used for logging tick quantities
// in human units.
func ToDuration(t Duration, ticksPerSecond int64) time.Duration {
	if ticksPerSecond == 0 {
		return 0
	}
	return time.Duration(int64(t) * int64(time.Second) / ticksPerSecond)
}
