package slotop

import (
	"time"

	"github.com/doismellburning/samoyed/internal/frame"
	"github.com/doismellburning/samoyed/internal/radio"
	"github.com/doismellburning/samoyed/internal/rtimer"
	"github.com/doismellburning/samoyed/internal/schedule"
)

// RXResult records the outcome of one C7 invocation.
type RXResult struct {
	HeardFrame     bool
	Published      bool
	Dropped        bool
	EstimatedDrift rtimer.Duration
	SentACK        bool
}

// rxSlot implements component C7, spec.md section 4.7.
func (e *Engine) rxSlot(link schedule.Link) *RXResult {
	res := &RXResult{}

	slot, reserved := e.InputRing.PeekPut()
	if !reserved {
		res.Dropped = true
		// still execute the listen window so a ring-full condition never
		// silently desyncs the node; just nothing gets published.
	}

	expectedRxTime := e.CurrentSlotStart + rtimer.Ticks(e.Config.TsTxOffset)

	e.yieldUntil(e.CurrentSlotStart, e.Config.TsRxOffset-e.Config.RadioDelayBeforeRX)
	e.Radio.On()

	listenDeadline := e.CurrentSlotStart + rtimer.Ticks(e.Config.TsRxOffset+e.Config.TsRxWait+e.Config.RadioDelayBeforeDetect)
	if !e.busyWaitUntil(listenDeadline, e.Radio.ReceivingPacket) {
		e.Gate.Off(radio.Force)
		return res
	}

	rxStartTime := e.Clock.Now() - rtimer.Ticks(e.Config.RadioDelayBeforeDetect)
	res.HeardFrame = true

	endDeadline := e.CurrentSlotStart + rtimer.Ticks(e.Config.TsRxOffset+e.Config.TsRxWait+e.Config.TsMaxTx)
	e.busyWaitUntil(endDeadline, func() bool { return !e.Radio.ReceivingPacket() })
	e.Gate.Off(radio.WithinSlot)

	if !e.Radio.PendingPacket() {
		e.Gate.Off(radio.EndOfSlot)
		return res
	}

	buf := make([]byte, 256)
	n := e.Radio.Read(buf)
	buf = buf[:n]

	hdrLen := frame.HeaderLen
	payloadLen := n - hdrLen
	if e.Config.LLSECEnabled && e.Security != nil {
		payloadLen -= e.Security.MICLen(hdrLen)
	}
	if payloadLen < 0 {
		res.Dropped = true
		e.Gate.Off(radio.EndOfSlot)
		return res
	}

	f, _, err := frame.Parse(buf)
	if err != nil {
		res.Dropped = true
		e.Gate.Off(radio.EndOfSlot)
		return res
	}

	if e.Config.LLSECEnabled && e.Security != nil {
		if !e.Security.ParseFrame(buf, hdrLen, payloadLen, f.Source, e.CurrentASN) {
			res.Dropped = true
			e.Gate.Off(radio.EndOfSlot)
			return res
		}
	}

	if e.SrcPANFilter != nil && !e.SrcPANFilter(f.Destination) {
		e.Gate.Off(radio.EndOfSlot)
		return res
	}

	estimatedDrift := rtimer.Duration(expectedRxTime - rxStartTime)
	if e.Config.TimesyncRemoveJitter {
		estimatedDrift = rtimerAbsZero(estimatedDrift, e.Config.MeasurementError)
	}
	if f.Type == frame.TypeBeacon {
		// The Sync-IE immediately follows the fixed header, mirroring
		// where transmitGuardedBeacon writes it via frame.UpdateEB. Any
		// receiver shifts estimated_drift by the tag's guard offset
		// before use, regardless of its own GuardBeacon setting, since
		// the tag alone carries enough information to correct.
		if _, tag, ok := frame.ParseSyncIE(buf, hdrLen); ok {
			estimatedDrift += guardBeaconShift(tag, e.Config.GuardBeaconTime)
		}
	}
	res.EstimatedDrift = estimatedDrift

	if f.Flags&frame.FlagAckRequested != 0 {
		e.sendEACK(link, f, rxStartTime, n, estimatedDrift, res)
	}

	srcNeighbor := e.Neighbors.Get(e.neighborAddressFor(f.Source))
	if srcNeighbor != nil {
		srcNeighbor.WireAddress = f.Source
	}
	if f.Type == frame.TypeBeacon && srcNeighbor != nil && srcNeighbor.IsTimeSource {
		sinceLast := e.CurrentASN.Diff(srcNeighbor.LastSyncASN)
		e.DriftCorrection = -estimatedDrift
		srcNeighbor.LastSyncASN = e.CurrentASN
		e.LastSyncASN = e.CurrentASN
		e.LastTimesourceNeighbor = srcNeighbor
		e.IsDriftCorrectionUsed = true
		if e.Timesync != nil {
			e.Timesync.Update(srcNeighbor.Address, uint64(max(sinceLast, 1)), -estimatedDrift)
			e.Timesync.NextKeepalive(e.CurrentASN)
		}
	}

	if reserved {
		rssi, _ := e.Radio.GetValue(radio.ParamRSSI)
		channel, _ := e.Radio.GetValue(radio.ParamChannel)
		*slot = RxEntry{Buffer: buf, RSSI: rssi, RxASN: e.CurrentASN, Channel: channel}
		e.InputRing.Put()
		res.Published = true
	}

	e.Gate.Off(radio.EndOfSlot)
	return res
}

// sendEACK implements spec.md section 4.7 step 8's ACK branch: build and
// transmit an enhanced ACK carrying the negated estimated drift.
func (e *Engine) sendEACK(link schedule.Link, f frame.Frame, rxStartTime rtimer.Ticks, rxLen int, estimatedDrift rtimer.Duration, res *RXResult) {
	nack := false
	if e.DoNack != nil {
		nack = e.DoNack(link, f.Source, f.Destination)
	}

	correction := -estimatedDrift
	clamped := clampDuration(correction, e.Config.SyncBound())
	correctionUS := rtimer.ToDuration(clamped, e.Clock.TicksPerSecond()) / time.Microsecond

	buf := make([]byte, frame.HeaderLen+16)
	n := frame.CreateEACK(buf, e.LocalAddress, f.SeqNo, int16(correctionUS), nack)
	if n < 0 {
		return
	}
	ackBuf := buf[:n]

	if e.Config.LLSECEnabled && e.Security != nil {
		payloadLen := n - frame.HeaderLen
		sealed := make([]byte, n+e.Security.MICLen(frame.HeaderLen))
		copy(sealed, ackBuf)
		if _, err := e.Security.SecureFrame(sealed, frame.HeaderLen, payloadLen, e.LocalAddress, e.CurrentASN); err == nil {
			ackBuf = sealed
		}
	}

	if err := e.Radio.Prepare(ackBuf); err != nil {
		return
	}

	txRef := rxStartTime + rtimer.Ticks(e.Config.PacketDuration(rxLen)+e.Config.TsTxAckDelay)
	e.yieldUntil(rxStartTime, e.Config.PacketDuration(rxLen)+e.Config.TsTxAckDelay-e.Config.RadioDelayBeforeTX)
	_ = txRef
	if err := e.Radio.Transmit(); err == nil {
		res.SentACK = true
	}
	e.Gate.Off(radio.WithinSlot)
}

// guardBeaconShift maps a Sync-IE guard-beacon tag (0 if guard-beacon mode
// is off, 1..3 identifying which of the triple transmission was heard) to
// the TX-side timing offset it was sent at, so the receiver can undo it
// before estimated_drift is used for anything.
func guardBeaconShift(tag byte, guardTime rtimer.Duration) rtimer.Duration {
	switch tag {
	case 1:
		return -guardTime
	case 3:
		return guardTime
	default:
		return 0
	}
}

// rtimerAbsZero implements the TIMESYNC_REMOVE_JITTER dead-band inline
// for estimated drift measured directly as a tick difference (rather
// than going through the timesync package's Duration-typed helper),
// since expectedRxTime/rxStartTime arithmetic already yields a
// rtimer.Duration-shaped value here.
func rtimerAbsZero(v, band rtimer.Duration) rtimer.Duration {
	if v > -band && v < band {
		return 0
	}
	return v
}

