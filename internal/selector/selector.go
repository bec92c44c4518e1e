// Package selector implements component C4, the link/packet selector:
// given the chosen link for this slot, decide which packet (if any) and
// which neighbor it belongs to, per spec.md section 4.4. The non-
// destructive peek-before-remove discipline mirrors the teacher's
// tq_peek/tq_remove split in xmit.go's xmit_thread (peek to decide
// eligibility, remove only once the decision to send is final).
package selector

import (
	"github.com/doismellburning/samoyed/internal/neighbor"
	"github.com/doismellburning/samoyed/internal/schedule"
)

// Selection is the (packet, neighbor) pair C4 returns, or a nil Packet if
// nothing is eligible for this link.
type Selection struct {
	Packet   *neighbor.Packet
	Neighbor *neighbor.Neighbor
}

// Select implements spec.md section 4.4:
//
//  1. If link has TX and type is ADVERTISING or ADVERTISING_ONLY: try a
//     packet for N_eb.
//  2. If still none and type != ADVERTISING_ONLY: let n =
//     get_nbr(link.address), try its queue.
//  3. If still none and n == N_broadcast: try GetUnicastPacketForAny with
//     the link's address. That lookup matches only neighbors whose
//     address equals the link's address, and the table holds no ordinary
//     neighbor under BroadcastAddress, so this step does not find packets
//     queued to other neighbors.
//  4. Otherwise return none.
func Select(link schedule.Link, table *neighbor.Table) Selection {
	if link.Options.Has(schedule.OptionTX) &&
		(link.Type == schedule.LinkAdvertising || link.Type == schedule.LinkAdvertisingOnly) {
		if p := table.EB.Peek(); p != nil {
			return Selection{Packet: p, Neighbor: table.EB}
		}
	}

	if link.Type == schedule.LinkAdvertisingOnly {
		return Selection{}
	}

	n := table.GetOrCreate(link.NeighborAddress)
	if p := n.Peek(); p != nil {
		return Selection{Packet: p, Neighbor: n}
	}

	if n == table.Broadcast || n.IsBroadcast {
		if p, owner := table.GetUnicastPacketForAny(link.NeighborAddress); p != nil {
			return Selection{Packet: p, Neighbor: owner}
		}
	}

	return Selection{}
}

// ApplyBackupLinkFallback implements the backup-link rule of spec.md
// section 4.4: "if selection yielded no packet and the chosen link lacks
// RX, and a backup_link with RX exists, rebind current_link = backup_link
// and re-select." It returns the link to actually use and the selection
// obtained from it.
func ApplyBackupLinkFallback(link schedule.Link, backup *schedule.Link, table *neighbor.Table) (schedule.Link, Selection) {
	sel := Select(link, table)
	if sel.Packet == nil && !link.Options.Has(schedule.OptionRX) && backup != nil && backup.Options.Has(schedule.OptionRX) {
		link = *backup
		sel = Select(link, table)
	}
	return link, sel
}
