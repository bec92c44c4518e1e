package neighbor_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doismellburning/samoyed/internal/neighbor"
)

func TestEnqueueRemovePacket(t *testing.T) {
	n := neighbor.NewNeighbor("station-1")
	p := &neighbor.Packet{Buffer: []byte{1, 2, 3}}
	n.Enqueue(p)
	require.False(t, n.IsEmpty())
	require.Equal(t, p, n.Peek())

	n.RemovePacketFromQueue(p)
	assert.True(t, n.IsEmpty())
}

func TestBackoffIncIsMonotonicAndBounded(t *testing.T) {
	n := neighbor.NewNeighbor("station-1")
	prev := n.BackoffExponent()
	for i := 0; i < neighbor.MaxBackoffExponent+5; i++ {
		n.BackoffInc()
		cur := n.BackoffExponent()
		assert.GreaterOrEqual(t, cur, prev)
		assert.LessOrEqual(t, cur, neighbor.MaxBackoffExponent)
		prev = cur
	}
}

func TestBackoffResetReturnsToMinimum(t *testing.T) {
	n := neighbor.NewNeighbor("station-1")
	n.BackoffInc()
	n.BackoffInc()
	require.Greater(t, n.BackoffExponent(), neighbor.MinBackoffExponent)
	n.BackoffReset()
	assert.Equal(t, neighbor.MinBackoffExponent, n.BackoffExponent())
}

func TestTableGetOrCreateIsStable(t *testing.T) {
	tbl := neighbor.NewTable()
	a := tbl.GetOrCreate("x")
	b := tbl.GetOrCreate("x")
	assert.Same(t, a, b)
}

func TestGetUnicastPacketForAnyFindsSharedLinkPeer(t *testing.T) {
	tbl := neighbor.NewTable()
	n1 := tbl.GetOrCreate("shared-link-addr")
	p := &neighbor.Packet{Buffer: []byte{9}}
	n1.Enqueue(p)

	found, foundN := tbl.GetUnicastPacketForAny("shared-link-addr")
	require.NotNil(t, found)
	assert.Equal(t, p, found)
	assert.Same(t, n1, foundN)

	_, noneN := tbl.GetUnicastPacketForAny("no-such-addr")
	assert.Nil(t, noneN)
}

func TestUpdateAllBackoffWindowsDecrements(t *testing.T) {
	tbl := neighbor.NewTable()
	n := tbl.GetOrCreate("x")
	// Force a large window so the decrement is observable.
	for n.BackoffWindow() == 0 {
		n.BackoffInc()
	}
	before := n.BackoffWindow()
	tbl.UpdateAllBackoffWindows("x")
	assert.Equal(t, before-1, n.BackoffWindow())
}
