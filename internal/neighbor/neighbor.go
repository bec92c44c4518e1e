// Package neighbor implements the Neighbor record, its per-neighbor
// transmit queue, and CSMA backoff state (spec.md section 3), plus the
// queue interface collaborator of spec.md section 6. Mutation is the
// caller's responsibility to perform under internal/lock, per spec.md's
// "Backoff state... mutated by both the slot engine... and foreground...;
// both paths must operate under the lock" design note.
package neighbor

import (
	"math/rand"
	"sync"

	"github.com/doismellburning/samoyed/internal/asn"
	"github.com/doismellburning/samoyed/internal/schedule"
)

// Status is the outcome recorded against a TschPacket after a transmit
// attempt, spec.md section 7's mac_tx_status values.
type Status int

const (
	StatusPending Status = iota
	StatusOK
	StatusNoACK
	StatusCollision
	StatusErr
	StatusErrFatal
)

// Packet is a TschPacket: spec.md section 3.
type Packet struct {
	Buffer        []byte
	HeaderLen     int
	SyncIEOffset  int // -1 if this frame carries no Sync-IE
	Transmissions int
	LastStatus    Status
}

// DefaultMaxFrameRetries is a default bound on the number of transmissions
// attempted before a packet is dropped (spec.md section 6 configuration
// knobs). Nothing in this package reads it; the slot engine drops packets
// according to its own Config.MaxFrameRetries.
const DefaultMaxFrameRetries = 7

// MaxBackoffExponent bounds CSMA-style backoff exponent growth on shared
// links (standard 802.15.4 MAC constant, referenced by spec.md section 8's
// "bounded by MAX_BE").
const MaxBackoffExponent = 5

const MinBackoffExponent = 1

// Neighbor is spec.md section 3's Neighbor record.
type Neighbor struct {
	Address       schedule.Address
	IsBroadcast   bool
	IsTimeSource  bool
	LastSyncASN   asn.ASN
	WireAddress   uint32 // wire-format address last seen for this neighbor, for building outgoing unicast frames
	queueMu       sync.Mutex
	queue         []*Packet
	backoffWindow int
	backoffExp    int
}

// NewNeighbor constructs a Neighbor with backoff initialized to its
// minimum window, as a fresh 802.15.4 CSMA state would be.
func NewNeighbor(addr schedule.Address) *Neighbor {
	n := &Neighbor{Address: addr, backoffExp: MinBackoffExponent}
	n.backoffWindow = sampleWindow(n.backoffExp)
	return n
}

// BroadcastAddress and EBSourceAddress name the two sentinel addresses of
// spec.md section 3: N_broadcast (broadcast destination) and N_eb
// (source of enhanced beacons).
const (
	BroadcastAddress schedule.Address = "\x00broadcast"
	EBSourceAddress  schedule.Address = "\x00eb-source"
)

// NewBroadcast returns the N_broadcast sentinel neighbor.
func NewBroadcast() *Neighbor {
	n := NewNeighbor(BroadcastAddress)
	n.IsBroadcast = true
	return n
}

// NewEBSource returns the N_eb sentinel neighbor, the conceptual source of
// outgoing enhanced beacons.
func NewEBSource() *Neighbor {
	return NewNeighbor(EBSourceAddress)
}

// Enqueue appends a packet to this neighbor's queue. Caller must hold the
// lock per the package doc.
func (n *Neighbor) Enqueue(p *Packet) {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	n.queue = append(n.queue, p)
}

// Peek returns the head packet without removing it, or nil if empty.
func (n *Neighbor) Peek() *Packet {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	if len(n.queue) == 0 {
		return nil
	}
	return n.queue[0]
}

// IsEmpty implements queue_interface's is_empty(n).
func (n *Neighbor) IsEmpty() bool {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	return len(n.queue) == 0
}

// QueueLen is a read-only diagnostic snapshot (SPEC_FULL.md supplemented
// feature 4), mirroring the teacher's mheard.go "station heard" idiom of
// exposing live internal state for display without allowing mutation.
func (n *Neighbor) QueueLen() int {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	return len(n.queue)
}

// RemovePacketFromQueue implements remove_packet_from_queue(n): removes p
// from the queue if present (by pointer identity), used on both success
// and final-retry drop.
func (n *Neighbor) RemovePacketFromQueue(p *Packet) {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	for i, q := range n.queue {
		if q == p {
			n.queue = append(n.queue[:i], n.queue[i+1:]...)
			return
		}
	}
}

// BackoffReset implements backoff_reset(n): used on TX success for
// unicast traffic on shared links, or whenever the queue drains, per
// spec.md section 4.6 update_neighbor_state.
func (n *Neighbor) BackoffReset() {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	n.backoffExp = MinBackoffExponent
	n.backoffWindow = sampleWindow(n.backoffExp)
}

// BackoffInc implements backoff_inc(n): on shared-link TX failure,
// increases the exponent (bounded by MaxBackoffExponent) and samples a
// fresh window uniformly in [0, 2^exp - 1].
func (n *Neighbor) BackoffInc() {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	if n.backoffExp < MaxBackoffExponent {
		n.backoffExp++
	}
	n.backoffWindow = sampleWindow(n.backoffExp)
}

// BackoffExponent reports the current exponent, for tests and diagnostics.
func (n *Neighbor) BackoffExponent() int {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	return n.backoffExp
}

// BackoffWindow reports the current countdown, for tests and diagnostics.
func (n *Neighbor) BackoffWindow() int {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	return n.backoffWindow
}

// DecrementBackoffWindow is called once per shared-link TX slot for every
// neighbor sharing that link's address, per spec.md section 4.8 step 4:
// "If current link was TX+SHARED, decrement backoff windows for every
// neighbor on that address." It reports whether the window has reached
// zero, at which point this neighbor is eligible to contend for the link
// again.
func (n *Neighbor) DecrementBackoffWindow() (readyToTransmit bool) {
	n.queueMu.Lock()
	defer n.queueMu.Unlock()
	if n.backoffWindow > 0 {
		n.backoffWindow--
	}
	return n.backoffWindow == 0
}

func sampleWindow(exp int) int {
	max := (1 << uint(exp)) - 1
	if max <= 0 {
		return 0
	}
	return rand.Intn(max + 1)
}

// Table is the neighbor table: address -> *Neighbor, plus the two
// sentinels, implementing the get_nbr/get_packet_for_nbr/
// get_unicast_packet_for_any/update_all_backoff_windows surface of spec.md
// section 6.
type Table struct {
	mu        sync.Mutex
	neighbors map[schedule.Address]*Neighbor
	Broadcast *Neighbor
	EB        *Neighbor
}

// NewTable returns an empty table pre-populated with the two sentinels.
func NewTable() *Table {
	return &Table{
		neighbors: make(map[schedule.Address]*Neighbor),
		Broadcast: NewBroadcast(),
		EB:        NewEBSource(),
	}
}

// GetOrCreate implements get_nbr(&addr), creating the neighbor on first
// reference the way a real neighbor table admits a peer the first time it
// is addressed.
func (t *Table) GetOrCreate(addr schedule.Address) *Neighbor {
	switch addr {
	case BroadcastAddress:
		return t.Broadcast
	case EBSourceAddress:
		return t.EB
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.neighbors[addr]; ok {
		return n
	}
	n := NewNeighbor(addr)
	t.neighbors[addr] = n
	return n
}

// Get implements a non-creating lookup, returning nil if unknown.
func (t *Table) Get(addr schedule.Address) *Neighbor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.neighbors[addr]
}

// All returns every non-sentinel neighbor, for iteration (e.g.
// get_unicast_packet_for_any and update_all_backoff_windows).
func (t *Table) All() []*Neighbor {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Neighbor, 0, len(t.neighbors))
	for _, n := range t.neighbors {
		out = append(out, n)
	}
	return out
}

// GetUnicastPacketForAny implements get_unicast_packet_for_any(&out_n,
// link): used by the link/packet selector's broadcast-link fallback
// (spec.md section 4.4) to find any unicast packet destined to a neighbor
// that shares the given link's address.
func (t *Table) GetUnicastPacketForAny(linkAddress schedule.Address) (*Packet, *Neighbor) {
	t.mu.Lock()
	neighbors := make([]*Neighbor, 0, len(t.neighbors))
	for _, n := range t.neighbors {
		if n.Address == linkAddress {
			neighbors = append(neighbors, n)
		}
	}
	t.mu.Unlock()

	for _, n := range neighbors {
		if p := n.Peek(); p != nil {
			return p, n
		}
	}
	return nil, nil
}

// UpdateAllBackoffWindows implements update_all_backoff_windows(&addr):
// decrements the backoff window of every neighbor addressed by addr
// (normally just one, but a shared link's address may be matched by more
// than one logical neighbor record in degenerate configurations).
func (t *Table) UpdateAllBackoffWindows(addr schedule.Address) {
	t.mu.Lock()
	var matched []*Neighbor
	for _, n := range t.neighbors {
		if n.Address == addr {
			matched = append(matched, n)
		}
	}
	t.mu.Unlock()
	for _, n := range matched {
		n.DecrementBackoffWindow()
	}
}
