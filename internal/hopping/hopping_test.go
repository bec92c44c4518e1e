package hopping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/doismellburning/samoyed/internal/asn"
	"github.com/doismellburning/samoyed/internal/hopping"
)

func TestScenario1Channel(t *testing.T) {
	seq := hopping.Sequence{26, 25, 20, 15}
	// spec.md section 8 scenario 1: K mod 4 = 0 => channel 26.
	assert.Equal(t, 26, seq.Channel(asn.ASN(0), 0))
	assert.Equal(t, 26, seq.Channel(asn.ASN(4), 0))
	assert.Equal(t, 25, seq.Channel(asn.ASN(1), 0))
}

func TestChannelOffsetZeroIsPlainIndex(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seq := hopping.Sequence(rapid.SliceOfN(rapid.IntRange(11, 26), 1, 16).Draw(t, "seq"))
		a := asn.ASN(rapid.Uint64Range(0, 1<<20).Draw(t, "asn"))
		assert.Equal(t, seq[int(a.Mod(uint64(len(seq))))], seq.Channel(a, 0))
	})
}

func TestChannelDependsOnlyOnAsnModL(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		seq := hopping.Sequence(rapid.SliceOfN(rapid.IntRange(11, 26), 1, 16).Draw(t, "seq"))
		offset := rapid.IntRange(0, 10).Draw(t, "offset")
		a := asn.ASN(rapid.Uint64Range(0, 1<<10).Draw(t, "asn"))
		l := uint64(len(seq))
		b := a.Add(l) // one full period later, same a mod L
		assert.Equal(t, seq.Channel(a, offset), seq.Channel(b, offset))
	})
}
