// Package slotop implements the core slot-operation engine: component
// C6 (TX slot engine), C7 (RX slot engine) and C8 (the top-level
// cooperative slot-operation loop), per spec.md sections 4.6-4.8. It is
// the largest package in this module and wires together every other
// internal/* collaborator.
//
// The original design is a single-threaded state machine re-entered from
// a hardware-timer interrupt, with each suspension point ("YIELD_UNTIL")
// returning all the way out of the ISR and resuming later from
// persistent state (spec.md section 9). This is a from-scratch Go
// reimplementation, not a literal port, so that shape is expressed
// instead as one long-lived goroutine per channel that blocks on
// rtimer.Clock.SleepUntil at each wait point — the goroutine plays the
// role of "the ISR" the way the teacher's one-goroutine-per-channel
// xmit_thread (xmit.go) plays the role of a channel's transmit worker,
// and internal/lock mediates with foreground goroutines exactly as
// spec.md sections 4.2/5 describe.
package slotop

import (
	"encoding/binary"
	"strconv"

	charmlog "github.com/charmbracelet/log"

	"github.com/doismellburning/samoyed/internal/asn"
	"github.com/doismellburning/samoyed/internal/frame"
	"github.com/doismellburning/samoyed/internal/hopping"
	"github.com/doismellburning/samoyed/internal/lock"
	"github.com/doismellburning/samoyed/internal/neighbor"
	"github.com/doismellburning/samoyed/internal/radio"
	"github.com/doismellburning/samoyed/internal/ringbuf"
	"github.com/doismellburning/samoyed/internal/rtimer"
	"github.com/doismellburning/samoyed/internal/schedule"
	"github.com/doismellburning/samoyed/internal/security"
	"github.com/doismellburning/samoyed/internal/selector"
	"github.com/doismellburning/samoyed/internal/timesync"
)

// Config collects the compile-time knobs spec.md section 6 enumerates,
// all expressed in rtimer ticks (see rtimer.WallClock for converting
// from human units) except the boolean/count knobs.
type Config struct {
	TimeslotLength rtimer.Duration

	TsTxOffset    rtimer.Duration
	TsRxOffset    rtimer.Duration
	TsRxWait      rtimer.Duration
	TsTxAckDelay  rtimer.Duration
	TsRxAckDelay  rtimer.Duration
	TsAckWait     rtimer.Duration
	TsMaxAck      rtimer.Duration
	TsMaxTx       rtimer.Duration
	CCAOffset     rtimer.Duration
	CCADuration   rtimer.Duration
	BitDuration   rtimer.Duration // used by PacketDuration

	RadioDelayBeforeTX     rtimer.Duration
	RadioDelayBeforeRX     rtimer.Duration
	RadioDelayBeforeDetect rtimer.Duration

	MaxFrameRetries   int
	DesyncThreshold   uint64 // slots; spec.md section 4.8's 100*CLOCK_TO_SLOTS(...) already folded in
	MeasurementError  rtimer.Duration

	// KeepaliveFraction gates the periodic keepalive packet this engine
	// queues to the time source once LastSyncASN is stale: a keepalive is
	// due once the gap reaches DesyncThreshold/KeepaliveFraction. 0 is
	// treated as 1 (keepalive due once the gap reaches DesyncThreshold).
	KeepaliveFraction int

	RadioOnDuringTimeslot  bool
	CCAEnabled             bool
	LLSECEnabled           bool
	TimesyncRemoveJitter   bool
	DriftFromACKEnabled    bool // Open Question decision, see DESIGN.md
	GuardBeacon            bool // Open Question decision, see DESIGN.md
	GuardBeaconTime        rtimer.Duration
	IsCoordinator          bool

	PollInterval rtimer.Duration // busy-wait granularity
}

// SyncBound implements spec.md section 6's SYNC_BOUND = ts_rx_wait/4.
func (c Config) SyncBound() rtimer.Duration { return c.TsRxWait / 4 }

// PacketDuration estimates on-air time for an n-byte frame at the
// configured bit rate, standing in for the radio driver's own
// packet_duration(len) (spec.md section 4.6 step 6). It is not capped
// here; txSlot caps the data-frame value at TsMaxTx, and the E-ACK path
// uses it uncapped.
func (c Config) PacketDuration(n int) rtimer.Duration {
	return rtimer.Duration(n*8) * c.BitDuration
}

// DoNackFunc lets the host decide whether to suppress an ACK that would
// otherwise be sent (spec.md section 4.7 step 8's optional DO_NACK
// callback). A nil func never suppresses.
type DoNackFunc func(link schedule.Link, src, dst uint32) bool

// Engine is the slot-operation state machine: C6+C7+C8 together, plus
// everything they read or mutate (spec.md section 3's "Slot state
// singleton").
type Engine struct {
	Config Config

	Clock     rtimer.Clock
	Scheduler *rtimer.Scheduler
	Lock      *lock.Arbiter
	Hopping   hopping.Sequence
	Store     schedule.Store
	Neighbors *neighbor.Table
	Radio     radio.Driver
	Gate      *radio.Gate
	Security  security.Codec // nil disables LLSEC regardless of Config.LLSECEnabled
	Timesync  timesync.Filter

	InputRing    *ringbuf.Ring[RxEntry]
	DequeuedRing *ringbuf.Ring[*neighbor.Packet]

	LocalAddress uint32
	SrcPANFilter func(dst uint32) bool // reports whether dst addresses this node (unicast or broadcast)

	// WireAddressToNeighbor maps a frame's wire-format source address to
	// the schedule.Address key the neighbor table was populated with.
	// Defaults to a decimal string of the wire address when unset.
	WireAddressToNeighbor func(wireAddr uint32) schedule.Address

	DoNack       DoNackFunc
	Disassociate func()
	Log          *charmlog.Logger

	// Slot state singleton, spec.md section 3.
	CurrentASN             asn.ASN
	CurrentSlotStart       rtimer.Ticks
	LastSyncASN            asn.ASN
	LastTimesourceNeighbor *neighbor.Neighbor
	DriftCorrection        rtimer.Duration
	IsDriftCorrectionUsed  bool

	// current_link/backup_link as set by the previous call's scheduling
	// step (spec.md section 4.8 step 4); consulted at the top of the next
	// Step call (step 1).
	currentLink schedule.Link
	backupLink  *schedule.Link
	hasLink     bool
	primed      bool

	seqno byte
}

// RxEntry is an entry published to InputRing by the RX engine: a
// captured frame plus its reception metadata.
type RxEntry struct {
	Buffer  []byte
	RSSI    int
	RxASN   asn.ASN
	Channel int
}

// NewEngine constructs an Engine. Callers set LocalAddress before calling
// Step; DoNack, Disassociate and SrcPANFilter are optional (a nil
// SrcPANFilter accepts every destination, a nil Disassociate is skipped).
func NewEngine(cfg Config, clk rtimer.Clock, lockArbiter *lock.Arbiter, store schedule.Store, neighbors *neighbor.Table, drv radio.Driver, hop hopping.Sequence) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = rtimer.Duration(clk.TicksPerSecond() / 10000)
		if cfg.PollInterval < 1 {
			cfg.PollInterval = 1
		}
	}
	return &Engine{
		Config:       cfg,
		Clock:        clk,
		Scheduler:    rtimer.New(clk),
		Lock:         lockArbiter,
		Hopping:      hop,
		Store:        store,
		Neighbors:    neighbors,
		Radio:        drv,
		Gate:         radio.NewGate(drv, radio.Policy{OnDuringTimeslot: cfg.RadioOnDuringTimeslot}),
		InputRing:    ringbuf.New[RxEntry](16),
		DequeuedRing: ringbuf.New[*neighbor.Packet](16),
		Log:          charmlog.Default(),
	}
}

// yieldUntil waits until ref+offset, returning false if the deadline has
// already been missed (spec.md section 4.1's YIELD_UNTIL).
func (e *Engine) yieldUntil(ref rtimer.Ticks, offset rtimer.Duration) bool {
	return e.Scheduler.YieldUntil(ref, offset)
}

// busyWaitUntil polls cond at Config.PollInterval granularity until it
// returns true or the absolute deadline passes, implementing the
// repeated "busy-wait for radio state X up to deadline Y" idiom spec.md
// sections 4.6/4.7 use throughout.
func (e *Engine) busyWaitUntil(deadline rtimer.Ticks, cond func() bool) bool {
	for {
		if cond() {
			return true
		}
		now := e.Clock.Now()
		if now >= deadline {
			return false
		}
		next := now + rtimer.Ticks(e.Config.PollInterval)
		if next > deadline {
			next = deadline
		}
		e.Clock.SleepUntil(next)
	}
}

// neighborAddressFor maps a frame's wire-format source address to the
// schedule.Address key the neighbor table was populated with.
func (e *Engine) neighborAddressFor(wireAddr uint32) schedule.Address {
	if e.WireAddressToNeighbor != nil {
		return e.WireAddressToNeighbor(wireAddr)
	}
	return schedule.Address(strconv.FormatUint(uint64(wireAddr), 10))
}

// primeLink populates currentLink/backupLink/hasLink for the very first
// Step call, since spec.md section 4.8 step 1 assumes current_link was
// already set by a prior iteration's scheduling step. Subsequent Steps
// never call this; scheduleNext maintains the fields from then on.
func (e *Engine) primeLink() {
	link, backup, _, ok := e.Store.NextActiveLink(e.CurrentASN)
	e.currentLink = link
	e.backupLink = backup
	e.hasLink = ok
	e.primed = true
}

// Step implements one full iteration of C8, the slot-operation loop
// (spec.md section 4.8): select the active link for CurrentASN, dispatch
// TX or RX, run the desync check, then schedule the next slot.
func (e *Engine) Step() StepResult {
	var result StepResult

	if !e.primed {
		e.primeLink()
	}

	if e.Lock.LockRequested() || !e.hasLink {
		e.Log.Info("!skipped", "asn", uint64(e.CurrentASN))
		return e.scheduleNext(result, false)
	}

	if !e.Lock.BeginSlotOperation() {
		e.Log.Info("!skipped", "asn", uint64(e.CurrentASN))
		return e.scheduleNext(result, false)
	}
	e.DriftCorrection = 0
	e.IsDriftCorrectionUsed = false

	activeLink, sel := selector.ApplyBackupLinkFallback(e.currentLink, e.backupLink, e.Neighbors)
	result.Link = activeLink

	active := sel.Packet != nil || activeLink.Options.Has(schedule.OptionRX)
	if active {
		channel := e.Hopping.Channel(e.CurrentASN, activeLink.ChannelOffset)
		result.Channel = channel
		_ = e.Radio.SetValue(radio.ParamChannel, channel)
		e.Gate.On(radio.StartOfSlot)

		if sel.Packet != nil {
			result.Kind = StepKindTX
			result.TX = e.txSlot(activeLink, sel)
		} else {
			result.Kind = StepKindRX
			result.RX = e.rxSlot(activeLink)
		}
	} else {
		result.Kind = StepKindIdle
	}

	sharedTX := activeLink.Options.Has(schedule.OptionTX) && activeLink.Options.Has(schedule.OptionShared)

	e.Lock.EndSlotOperation()

	if !e.Config.IsCoordinator {
		e.maybeQueueKeepalive()
	}

	if !e.Config.IsCoordinator && e.desynced() {
		if e.Disassociate != nil {
			e.Disassociate()
		}
		e.LastTimesourceNeighbor = nil
		result.Disassociated = true
		return e.scheduleNext(result, sharedTX)
	}

	return e.scheduleNext(result, sharedTX)
}

func (e *Engine) desynced() bool {
	return e.CurrentASN.Diff(e.LastSyncASN) > int64(e.Config.DesyncThreshold)
}

// maybeQueueKeepalive implements periodic keepalive packet construction:
// once LastSyncASN is older than DesyncThreshold/KeepaliveFraction, and
// no frame is already queued to the time source, build and enqueue a
// zero-length acknowledged unicast frame to it, mirroring Contiki-NG's
// tsch_schedule_keepalive so the desync check has something driving it
// on an otherwise quiet network.
func (e *Engine) maybeQueueKeepalive() {
	nb := e.LastTimesourceNeighbor
	if nb == nil || nb.WireAddress == 0 {
		return
	}

	fraction := e.Config.KeepaliveFraction
	if fraction <= 0 {
		fraction = 1
	}
	threshold := int64(e.Config.DesyncThreshold) / int64(fraction)
	if e.CurrentASN.Diff(e.LastSyncASN) < threshold {
		return
	}
	if !nb.IsEmpty() {
		return
	}

	e.seqno++
	buf := make([]byte, frame.HeaderLen)
	buf[0] = byte(frame.TypeData)
	buf[1] = byte(frame.FlagAckRequested)
	buf[2] = e.seqno
	binary.BigEndian.PutUint32(buf[3:7], e.LocalAddress)
	binary.BigEndian.PutUint32(buf[7:11], nb.WireAddress)

	nb.Enqueue(&neighbor.Packet{Buffer: buf, HeaderLen: frame.HeaderLen, SyncIEOffset: -1})
	e.Log.Debug("keepalive queued", "asn", uint64(e.CurrentASN), "neighbor", string(nb.Address))
}

// StepKind classifies what a Step did.
type StepKind int

const (
	StepKindSkipped StepKind = iota
	StepKindIdle
	StepKindTX
	StepKindRX
)

// StepResult reports what happened during one Step call.
type StepResult struct {
	Kind          StepKind
	Link          schedule.Link
	Channel       int
	TX            *TXResult
	RX            *RXResult
	Disassociated bool
	MissedCount   int
}

// scheduleNext implements spec.md section 4.8 step 4: decrement shared
// link backoff windows, query the next active link, advance ASN, and
// repeatedly attempt Schedule until it succeeds (the catch-up loop on
// deadline miss).
func (e *Engine) scheduleNext(result StepResult, decrementSharedBackoff bool) StepResult {
	if decrementSharedBackoff && result.Link.NeighborAddress != "" {
		e.Neighbors.UpdateAllBackoffWindows(result.Link.NeighborAddress)
	}

	for {
		link, backup, timeslotDiff, ok := e.Store.NextActiveLink(e.CurrentASN)
		if !ok {
			timeslotDiff = 1
		}
		e.currentLink = link
		e.backupLink = backup
		e.hasLink = ok
		e.CurrentASN = e.CurrentASN.Add(timeslotDiff)

		timeToNext := rtimer.Duration(timeslotDiff)*e.Config.TimeslotLength + e.DriftCorrection
		e.DriftCorrection = 0
		compensation := rtimer.Duration(0)
		if e.Timesync != nil {
			compensation = e.Timesync.Compensate(timeToNext)
		}

		prev := e.CurrentSlotStart
		candidate := prev + rtimer.Ticks(timeToNext) + rtimer.Ticks(compensation)

		_, ok = e.Scheduler.Schedule(prev, rtimer.Duration(candidate-prev))
		if ok {
			e.CurrentSlotStart = candidate
			return result
		}
		result.MissedCount++
		e.CurrentSlotStart = candidate
	}
}

// Run drives Step in a loop, blocking until CurrentSlotStart via the
// clock between iterations, until stop is closed or the engine
// disassociates. It is the production entry point; tests typically call
// Step directly against a pre-wound clock instead.
func (e *Engine) Run(stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		default:
		}
		e.Clock.SleepUntil(e.CurrentSlotStart)
		r := e.Step()
		if r.Disassociated {
			return
		}
	}
}
