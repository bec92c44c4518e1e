// Package schedule defines the link/slotframe data model and the
// next_active_link collaborator interface. Per spec.md section 1 the
// schedule store itself ("the schedule layout algorithm") is explicitly
// out of scope: only the interface is specified here, plus a trivial
// in-memory fixture good enough to drive the slot engine in tests and the
// simulation CLI.
package schedule

import "github.com/doismellburning/samoyed/internal/asn"

// LinkOption is a bit in Link.Options.
type LinkOption uint8

const (
	OptionTX LinkOption = 1 << iota
	OptionRX
	OptionShared
	OptionTimeKeeping
)

// Has reports whether o contains every bit in opts.
func (o LinkOption) Has(opts LinkOption) bool {
	return o&opts == opts
}

// LinkType distinguishes normal data links from advertising (beacon)
// links, per spec.md section 3.
type LinkType uint8

const (
	LinkNormal LinkType = iota
	LinkAdvertising
	LinkAdvertisingOnly
)

// Address identifies a neighbor; left abstract here (see
// internal/neighbor) so schedule has no dependency on the neighbor table.
type Address = string

// Link is one cell of the schedule: spec.md section 3.
type Link struct {
	Options         LinkOption
	Type            LinkType
	NeighborAddress Address
	ChannelOffset   int
}

// Store is the external collaborator of spec.md section 6: "Schedule
// interface: next_active_link(&asn, &out_diff, &out_backup) ->
// link|empty". Implementations decide, given the current ASN, the next
// active link, how many slots until it (timeslot_diff), and an optional
// backup link that covers the case where the primary lacks RX and its
// selection yields nothing.
type Store interface {
	// NextActiveLink returns the next active link strictly after current,
	// the number of timeslots until it, and an optional backup link. ok
	// is false if the store has nothing scheduled at all, in which case
	// the slot engine defaults timeslot_diff to 1 (spec.md section 4.8).
	NextActiveLink(current asn.ASN) (link Link, backup *Link, timeslotDiff uint64, ok bool)
}

// Cell pairs a Link with the ASN period it recurs on, for the in-memory
// fixture below.
type Cell struct {
	Link       Link
	Backup     *Link
	SlotOffset uint64 // position within the slotframe
}

// FixedSlotframe is a minimal Store: a fixed-length cyclic sequence of
// cells, one per slot offset; slots not listed are skipped over, so
// timeslot_diff counts up to the next listed offset. It exists purely as a test/sim fixture,
// not a scheduling algorithm: spec.md's Non-goals exclude "the schedule
// layout algorithm" and this makes no attempt to be one.
type FixedSlotframe struct {
	Length uint64
	Cells  map[uint64]Cell
}

// NewFixedSlotframe returns an empty slotframe of the given length.
func NewFixedSlotframe(length uint64) *FixedSlotframe {
	return &FixedSlotframe{Length: length, Cells: make(map[uint64]Cell)}
}

// Set installs a cell at the given slot offset (0 <= offset < Length).
func (f *FixedSlotframe) Set(offset uint64, link Link, backup *Link) {
	f.Cells[offset] = Cell{Link: link, Backup: backup, SlotOffset: offset}
}

// NextActiveLink scans forward from current+1 for the next occupied slot
// offset within one full period of the slotframe (current's own slot has
// already executed by the time C8 calls this, per spec.md section 4.8
// step 4). If none is occupied it reports ok=false and lets the caller
// default timeslot_diff to 1, matching spec.md section 4.8's "if none,
// timeslot_diff = 1".
func (f *FixedSlotframe) NextActiveLink(current asn.ASN) (Link, *Link, uint64, bool) {
	if f.Length == 0 || len(f.Cells) == 0 {
		return Link{}, nil, 0, false
	}
	start := current.Mod(f.Length)
	for step := uint64(1); step <= f.Length; step++ {
		offset := (start + step) % f.Length
		if cell, ok := f.Cells[offset]; ok {
			return cell.Link, cell.Backup, step, true
		}
	}
	return Link{}, nil, 0, false
}
