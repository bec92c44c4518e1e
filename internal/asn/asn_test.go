package asn_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/doismellburning/samoyed/internal/asn"
)

func TestAddIsMonotonic(t *testing.T) {
	var a asn.ASN = 100
	require.Equal(t, asn.ASN(105), a.Add(5))
}

func TestBytesRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Uint64Range(0, asn.Mask).Draw(t, "v")
		a := asn.ASN(v)
		assert.Equal(t, a, asn.FromBytes(a.Bytes()))
	})
}

func TestDiffAcrossWrap(t *testing.T) {
	// Near the top of the 40-bit space, b is "behind" a by 3 slots even
	// though a wrapped around to a small value.
	a := asn.ASN(2)
	b := asn.ASN(asn.Mask - 0) // one slot before the wrap
	require.Equal(t, int64(3), a.Diff(b))
	require.Equal(t, int64(-3), b.Diff(a))
}

func TestDiffRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := rapid.Uint64Range(0, asn.Mask).Draw(t, "base")
		delta := rapid.Int64Range(-1000, 1000).Draw(t, "delta")
		a := asn.ASN(base)
		b := a.Add(uint64(int64(asn.Mask+1) + delta) % (asn.Mask + 1))
		assert.Equal(t, delta, b.Diff(a))
	})
}
