// Package hopping implements component C3, the pure ASN-to-channel map
// used to compute which physical channel a node should use for a given
// slot.
package hopping

import "github.com/doismellburning/samoyed/internal/asn"

// Sequence is an ordered list of physical channel numbers a node hops
// across. Its length L governs the hop period.
type Sequence []int

// Channel implements channel(asn, offset) = hopping_sequence[(asn mod L +
// offset) mod L] from spec.md section 4.3. It is pure and side-effect
// free: the result depends only on a mod L and offset.
func (s Sequence) Channel(a asn.ASN, channelOffset int) int {
	l := len(s)
	if l == 0 {
		return 0
	}
	idx := (int(a.Mod(uint64(l))) + channelOffset) % l
	if idx < 0 {
		idx += l
	}
	return s[idx]
}
