package slotop

import (
	"encoding/binary"
	"time"

	"github.com/doismellburning/samoyed/internal/frame"
	"github.com/doismellburning/samoyed/internal/neighbor"
	"github.com/doismellburning/samoyed/internal/radio"
	"github.com/doismellburning/samoyed/internal/rtimer"
	"github.com/doismellburning/samoyed/internal/schedule"
	"github.com/doismellburning/samoyed/internal/selector"
	"github.com/doismellburning/samoyed/internal/timesync"
)

// TXResult records the outcome of one C6 invocation, for tests and
// diagnostics.
type TXResult struct {
	Status         neighbor.Status
	Broadcast      bool
	TimeCorrection rtimer.Duration
	Dequeued       bool
}

// txSlot implements component C6, spec.md section 4.6.
func (e *Engine) txSlot(link schedule.Link, sel selector.Selection) *TXResult {
	res := &TXResult{Broadcast: sel.Neighbor.IsBroadcast}

	slot, reserved := e.DequeuedRing.PeekPut()
	if !reserved {
		res.Status = neighbor.StatusErrFatal
		e.Gate.Off(radio.EndOfSlot)
		return res
	}

	pkt := sel.Packet
	if pkt == nil || len(pkt.Buffer) == 0 {
		res.Status = neighbor.StatusErrFatal
		e.Gate.Off(radio.EndOfSlot)
		return res
	}

	txBuf := pkt.Buffer
	if !sel.Neighbor.IsBroadcast && len(txBuf) >= frame.HeaderLen {
		sel.Neighbor.WireAddress = binary.BigEndian.Uint32(txBuf[7:11])
	}
	isEB := sel.Neighbor.Address == neighbor.EBSourceAddress

	complete := func(success bool) *TXResult {
		e.Gate.Off(radio.EndOfSlot)
		if e.finishTX(link, sel, pkt, res, success) {
			*slot = pkt
			e.DequeuedRing.Put()
			res.Dequeued = true
		}
		return res
	}

	// An enhanced beacon never solicits an ACK, so its transmission (whether
	// single or the guard-beacon triple below) is handled entirely by
	// transmitGuardedBeacon and skips the unicast ACK-wait path below.
	if isEB && pkt.SyncIEOffset >= 0 {
		res.Status = neighbor.StatusErr
		if e.transmitGuardedBeacon(pkt, txBuf) {
			res.Status = neighbor.StatusOK
		}
		return complete(res.Status == neighbor.StatusOK)
	}

	payloadLen := len(txBuf) - pkt.HeaderLen
	if e.Config.LLSECEnabled && e.Security != nil && payloadLen >= 0 {
		sealed := make([]byte, len(txBuf)+e.Security.MICLen(pkt.HeaderLen))
		copy(sealed, txBuf)
		if _, err := e.Security.SecureFrame(sealed, pkt.HeaderLen, payloadLen, e.LocalAddress, e.CurrentASN); err == nil {
			txBuf = sealed
		}
	}

	if err := e.Radio.Prepare(txBuf); err != nil {
		res.Status = neighbor.StatusErr
		return complete(false)
	}

	if e.Config.CCAEnabled {
		e.yieldUntil(e.CurrentSlotStart, e.Config.CCAOffset)
		e.Radio.On()
		clearDeadline := e.CurrentSlotStart + rtimer.Ticks(e.Config.CCAOffset+e.Config.CCADuration)
		if !e.busyWaitUntil(clearDeadline, e.Radio.ChannelClear) {
			res.Status = neighbor.StatusCollision
			return complete(false)
		}
	}

	e.yieldUntil(e.CurrentSlotStart, e.Config.TsTxOffset-e.Config.RadioDelayBeforeTX)
	transmitErr := e.Radio.Transmit()

	txDuration := e.Config.PacketDuration(len(txBuf))
	if txDuration > e.Config.TsMaxTx {
		txDuration = e.Config.TsMaxTx
	}
	e.Gate.Off(radio.WithinSlot)

	if transmitErr != nil {
		res.Status = neighbor.StatusErr
		return complete(false)
	}

	if res.Broadcast {
		res.Status = neighbor.StatusOK
		return complete(true)
	}

	seqno := byte(0)
	if pkt.HeaderLen > 2 && len(pkt.Buffer) > 2 {
		seqno = pkt.Buffer[2]
	}
	if e.awaitEACK(seqno, sel.Neighbor, txDuration, res) {
		res.Status = neighbor.StatusOK
	} else {
		res.Status = neighbor.StatusNoACK
	}

	return complete(res.Status == neighbor.StatusOK)
}

// transmitGuardedBeacon implements SPEC_FULL.md supplemented feature 1:
// when GuardBeacon is enabled on the coordinator, the outgoing enhanced
// beacon is sent three times, at {-GuardBeaconTime, 0, +GuardBeaconTime}
// around the slot's nominal TX instant, each carrying a 1..3 tag in its
// Sync-IE; otherwise it is sent once, untagged (tag 0). CCA, when
// enabled, is assessed once before the whole burst. Returns whether
// every transmission in the burst succeeded.
func (e *Engine) transmitGuardedBeacon(pkt *neighbor.Packet, baseBuf []byte) bool {
	offsets := []rtimer.Duration{0}
	tags := []byte{0}
	if e.Config.GuardBeacon && e.Config.IsCoordinator {
		offsets = []rtimer.Duration{-e.Config.GuardBeaconTime, 0, e.Config.GuardBeaconTime}
		tags = []byte{1, 2, 3}
	}

	if e.Config.CCAEnabled {
		e.yieldUntil(e.CurrentSlotStart, e.Config.CCAOffset)
		e.Radio.On()
		clearDeadline := e.CurrentSlotStart + rtimer.Ticks(e.Config.CCAOffset+e.Config.CCADuration)
		if !e.busyWaitUntil(clearDeadline, e.Radio.ChannelClear) {
			e.Gate.Off(radio.WithinSlot)
			return false
		}
	}

	ok := true
	for i, offset := range offsets {
		buf := make([]byte, len(baseBuf))
		copy(buf, baseBuf)
		frame.UpdateEB(buf, pkt.SyncIEOffset, e.CurrentASN, tags[i])

		payloadLen := len(buf) - pkt.HeaderLen
		if e.Config.LLSECEnabled && e.Security != nil && payloadLen >= 0 {
			sealed := make([]byte, len(buf)+e.Security.MICLen(pkt.HeaderLen))
			copy(sealed, buf)
			if _, err := e.Security.SecureFrame(sealed, pkt.HeaderLen, payloadLen, e.LocalAddress, e.CurrentASN); err == nil {
				buf = sealed
			}
		}

		if err := e.Radio.Prepare(buf); err != nil {
			ok = false
			continue
		}

		e.yieldUntil(e.CurrentSlotStart, e.Config.TsTxOffset+offset-e.Config.RadioDelayBeforeTX)
		if err := e.Radio.Transmit(); err != nil {
			ok = false
		}
	}
	e.Gate.Off(radio.WithinSlot)
	return ok
}

// awaitEACK implements spec.md section 4.6 step 7: wait for, capture and
// validate an enhanced ACK, extracting and applying a time correction
// when the peer is the time source.
func (e *Engine) awaitEACK(seqno byte, nb *neighbor.Neighbor, txDuration rtimer.Duration, res *TXResult) bool {
	ackWaitRef := e.CurrentSlotStart + rtimer.Ticks(e.Config.TsTxOffset+txDuration+e.Config.TsRxAckDelay)
	e.yieldUntil(e.CurrentSlotStart, e.Config.TsTxOffset+txDuration+e.Config.TsRxAckDelay-e.Config.RadioDelayBeforeRX)
	e.Radio.On()

	waitDeadline := ackWaitRef + rtimer.Ticks(e.Config.TsAckWait)
	if !e.busyWaitUntil(waitDeadline, e.Radio.ReceivingPacket) {
		return false
	}

	ackStart := e.Clock.Now() - rtimer.Ticks(e.Config.RadioDelayBeforeDetect)
	endDeadline := ackStart + rtimer.Ticks(e.Config.TsMaxAck)
	e.busyWaitUntil(endDeadline, func() bool { return !e.Radio.ReceivingPacket() })

	buf := make([]byte, 256)
	n := e.Radio.Read(buf)
	if n == 0 {
		return false
	}
	buf = buf[:n]

	ack, _, err := frame.ParseEACK(buf, seqno)
	if err != nil {
		return false
	}

	correction := rtimer.WallClock(time.Duration(ack.TimeCorrectionUS)*time.Microsecond, e.Clock.TicksPerSecond())
	if e.Config.TimesyncRemoveJitter {
		correction = timesync.RemoveJitter(correction, e.Config.MeasurementError)
	}
	clamped := clampDuration(correction, e.Config.SyncBound())
	res.TimeCorrection = clamped

	if nb.IsTimeSource && e.Config.DriftFromACKEnabled {
		sinceLast := e.CurrentASN.Diff(nb.LastSyncASN)
		if e.Timesync != nil {
			e.Timesync.Update(nb.Address, uint64(max(sinceLast, 1)), clamped)
		}
		e.DriftCorrection = clamped
		e.IsDriftCorrectionUsed = true
		nb.LastSyncASN = e.CurrentASN
		e.LastSyncASN = e.CurrentASN
		e.LastTimesourceNeighbor = nb
		if e.Timesync != nil {
			e.Timesync.NextKeepalive(e.CurrentASN)
		}
	}

	return true
}

func clampDuration(v, bound rtimer.Duration) rtimer.Duration {
	if v > bound {
		return bound
	}
	if v < -bound {
		return -bound
	}
	return v
}

// finishTX implements update_neighbor_state (spec.md section 4.6):
// records the attempt, removes the packet on success or final failure,
// and adjusts shared-link backoff. It returns whether the packet was
// removed from the queue (and so belongs in the dequeued ring).
func (e *Engine) finishTX(link schedule.Link, sel selector.Selection, pkt *neighbor.Packet, res *TXResult, success bool) bool {
	pkt.Transmissions++
	pkt.LastStatus = res.Status

	if success {
		sel.Neighbor.RemovePacketFromQueue(pkt)
		if !res.Broadcast && (link.Options.Has(schedule.OptionShared) || sel.Neighbor.IsEmpty()) {
			sel.Neighbor.BackoffReset()
		}
		return true
	}

	if pkt.Transmissions >= e.Config.MaxFrameRetries+1 {
		sel.Neighbor.RemovePacketFromQueue(pkt)
		return true
	}

	if !res.Broadcast && link.Options.Has(schedule.OptionShared) {
		sel.Neighbor.BackoffInc()
	}
	return false
}
