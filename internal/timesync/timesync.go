// Package timesync implements the adaptive time-sync filter contract of
// spec.md section 6: adaptive_compensate/timesync_update/
// schedule_keepalive. The filter's internal model is explicitly out of
// scope ("consulted only via timesync_update/adaptive_compensate"); this
// package fixes that contract and ships one concrete EWMA-based
// compensator, grounded on the teacher's beacon.go send-interval pacing
// (an exponential smoothing of observed timing used to decide the next
// beacon deadline) generalized from beacon cadence to clock-drift
// compensation.
package timesync

import (
	"github.com/doismellburning/samoyed/internal/asn"
	"github.com/doismellburning/samoyed/internal/rtimer"
)

// Filter is the pluggable adaptive time-sync collaborator.
type Filter interface {
	// Compensate returns a small additional correction to apply on top
	// of dtTicks, the nominal inter-slot gap about to be scheduled,
	// compensating for systematic local clock drift learned from past
	// corrections.
	Compensate(dtTicks rtimer.Duration) rtimer.Duration
	// Update records a new observed correction for neighbor, sinceLast
	// slots after the previous sync exchange with that neighbor.
	Update(neighborAddr string, sinceLast uint64, correctionTicks rtimer.Duration)
	// NextKeepalive reports the ASN at which a keepalive transmission
	// should next be scheduled to this time source, given the ASN the
	// correction above was observed at.
	NextKeepalive(observedAt asn.ASN) asn.ASN
}

// KeepaliveInterval is the number of slots between scheduled keepalives
// to a time-source neighbor, absent any more specific per-link policy.
const KeepaliveInterval = 100

// EWMA is a minimal exponentially-weighted moving average drift
// compensator: it tracks a running estimate of per-slot clock drift
// (ticks of correction needed per slot since the last sync) and offers
// that estimate, unscaled, as the compensation for each scheduled gap.
type EWMA struct {
	// Alpha is the smoothing factor in (0, 1]; higher weighs recent
	// observations more heavily. Zero uses the package default.
	Alpha float64

	driftPerSlot float64 // running estimate, ticks/slot
	haveSample   bool
}

const defaultAlpha = 0.25

func (e *EWMA) alpha() float64 {
	if e.Alpha <= 0 || e.Alpha > 1 {
		return defaultAlpha
	}
	return e.Alpha
}

// Compensate returns the running per-slot drift estimate truncated to
// whole ticks (0 before the first Update). dtTicks is not used, so the
// result does not scale with the length of the gap.
func (e *EWMA) Compensate(dtTicks rtimer.Duration) rtimer.Duration {
	if !e.haveSample {
		return 0
	}
	return rtimer.Duration(e.driftPerSlot)
}

// Update folds a new correction observation into the running estimate.
// sinceLast is the number of slots the correction accumulated over;
// zero is treated as one to avoid dividing by zero.
func (e *EWMA) Update(_ string, sinceLast uint64, correctionTicks rtimer.Duration) {
	if sinceLast == 0 {
		sinceLast = 1
	}
	sample := float64(correctionTicks) / float64(sinceLast)
	if !e.haveSample {
		e.driftPerSlot = sample
		e.haveSample = true
		return
	}
	a := e.alpha()
	e.driftPerSlot = a*sample + (1-a)*e.driftPerSlot
}

// NextKeepalive schedules the next keepalive KeepaliveInterval slots out
// from observedAt.
func (e *EWMA) NextKeepalive(observedAt asn.ASN) asn.ASN {
	return observedAt.Add(KeepaliveInterval)
}

// ClampToSyncBound clamps a raw correction (in ticks) to
// +/-syncBound, the invariant spec.md section 8 requires for every
// ACK-extracted time correction.
func ClampToSyncBound(correction, syncBound rtimer.Duration) rtimer.Duration {
	if correction > syncBound {
		return syncBound
	}
	if correction < -syncBound {
		return -syncBound
	}
	return correction
}

// RemoveJitter implements the TIMESYNC_REMOVE_JITTER dead-band: an
// estimated drift whose magnitude is within measurementError of zero is
// reported as exactly zero, since it is indistinguishable from
// measurement noise.
func RemoveJitter(estimatedDrift, measurementError rtimer.Duration) rtimer.Duration {
	if estimatedDrift > -measurementError && estimatedDrift < measurementError {
		return 0
	}
	return estimatedDrift
}
