// Package asn implements the Absolute Slot Number, the 5-byte monotonic
// slot counter shared by every node in a TSCH network.
package asn

// ASN is a 40-bit Absolute Slot Number. It is stored in a uint64 but only
// the low 40 bits are ever significant; arithmetic wraps at 2^40 which in
// practice never happens within the lifetime of a network.
type ASN uint64

// Mask covers the 40 significant bits of an ASN.
const Mask = (1 << 40) - 1

// Zero is the ASN value a node starts at before it associates.
const Zero ASN = 0

// Add returns asn advanced by diff slots, wrapping at 2^40.
func (a ASN) Add(diff uint64) ASN {
	return ASN((uint64(a) + diff) & Mask)
}

// Diff returns a-b as a signed number of slots, correctly handling the
// single wraparound that can occur across the 40-bit boundary. It assumes
// the two values are never more than 2^39 slots apart, which always holds
// for any pair of ASNs actually observed in the same running network.
func (a ASN) Diff(b ASN) int64 {
	d := (int64(a) - int64(b)) & Mask
	if d > (1 << 39) {
		d -= (1 << 40)
	}
	return d
}

// Mod returns asn mod m as a uint64, for use indexing hopping sequences and
// slotframes whose length m is small.
func (a ASN) Mod(m uint64) uint64 {
	if m == 0 {
		return 0
	}
	return uint64(a) % m
}

// Bytes encodes the ASN into its 5-byte wire representation, low byte
// first, matching the Sync-IE layout referenced in spec.md section 4.6.
func (a ASN) Bytes() [5]byte {
	var b [5]byte
	v := uint64(a) & Mask
	for i := range b {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// FromBytes decodes a 5-byte wire representation produced by Bytes.
func FromBytes(b [5]byte) ASN {
	var v uint64
	for i := 4; i >= 0; i-- {
		v = (v << 8) | uint64(b[i])
	}
	return ASN(v & Mask)
}
