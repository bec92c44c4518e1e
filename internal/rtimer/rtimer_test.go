package rtimer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doismellburning/samoyed/internal/rtimer"
)

func TestScheduleSuccess(t *testing.T) {
	clk := rtimer.NewFakeClock(100, 1000)
	s := rtimer.New(clk)
	target, ok := s.Schedule(100, 50)
	require.True(t, ok)
	assert.Equal(t, rtimer.Ticks(150), target)
}

func TestScheduleMissSameParity(t *testing.T) {
	clk := rtimer.NewFakeClock(1000, 1000)
	s := rtimer.New(clk)
	_, ok := s.Schedule(100, 50) // target=150, already long past, no wrap involved
	assert.False(t, ok)
}

// TestScheduleToleratesWrapDeadlineSide exercises the branch of the
// single-overflow-tolerant rule (spec.md section 4.1) where the deadline
// has wrapped relative to refTime but now has not: the deadline is still
// ahead in real time, so it must not be reported as missed even though a
// naive numeric comparison (deadline < refTime) would suggest otherwise.
func TestScheduleToleratesWrapDeadlineSide(t *testing.T) {
	const refTime = rtimer.Ticks(65000)
	clk := rtimer.NewFakeClock(refTime+100, 1_000_000) // now has not wrapped
	s := rtimer.New(clk)
	// A deadline numerically below refTime (as if the counter wrapped)
	// represents a still-future instant.
	_, ok := s.Schedule(refTime, rtimer.Duration(-200))
	assert.True(t, ok)
}

// TestScheduleWrapNowSide exercises the opposite branch: now has wrapped
// past refTime while the deadline has not, meaning real time has already
// moved beyond the deadline.
func TestScheduleWrapNowSide(t *testing.T) {
	const refTime = rtimer.Ticks(65000)
	clk := rtimer.NewFakeClock(refTime-500, 1_000_000) // now numerically below refTime: wrapped
	s := rtimer.New(clk)
	_, ok := s.Schedule(refTime+1000, rtimer.Duration(100)) // deadline not wrapped
	assert.False(t, ok)
}

func TestYieldUntilBlocksUntilAdvance(t *testing.T) {
	clk := rtimer.NewFakeClock(0, 1000)
	s := rtimer.New(clk)

	done := make(chan bool, 1)
	go func() {
		done <- s.YieldUntil(0, 500)
	}()

	select {
	case <-done:
		t.Fatal("YieldUntil returned before the clock advanced")
	default:
	}

	clk.Advance(1000)
	if ok := <-done; !ok {
		t.Fatal("expected YieldUntil to succeed")
	}
}

func TestWallClockConversionRoundTrip(t *testing.T) {
	const ticksPerSecond = 32768
	wd := rtimer.WallClock(250*time.Millisecond, ticksPerSecond)
	back := rtimer.ToDuration(wd, ticksPerSecond)
	assert.InDelta(t, 250_000_000, back.Nanoseconds(), float64(time.Second.Nanoseconds())/ticksPerSecond+1)
}
