package ringbuf_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/doismellburning/samoyed/internal/ringbuf"
)

func TestNewRoundsUpToPowerOfTwo(t *testing.T) {
	r := ringbuf.New[int](5)
	assert.Equal(t, 8, r.Cap())
}

func TestPeekPutThenPutPublishes(t *testing.T) {
	r := ringbuf.New[string](4)
	assert.True(t, r.Empty())

	slot, ok := r.PeekPut()
	require.True(t, ok)
	*slot = "hello"
	assert.True(t, r.Empty(), "reserved but unpublished slot must not be visible yet")

	r.Put()
	assert.False(t, r.Empty())
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get()
	require.True(t, ok)
	assert.Equal(t, "hello", got)
	assert.True(t, r.Empty())
}

func TestFullRingRefusesReservation(t *testing.T) {
	r := ringbuf.New[int](2)
	for i := 0; i < r.Cap(); i++ {
		slot, ok := r.PeekPut()
		require.True(t, ok)
		*slot = i
		r.Put()
	}
	assert.True(t, r.Full())
	_, ok := r.PeekPut()
	assert.False(t, ok, "producer must not be able to reserve past capacity")
}

func TestGetOnEmptyFails(t *testing.T) {
	r := ringbuf.New[int](4)
	_, ok := r.Get()
	assert.False(t, ok)
}

func TestFIFOOrderPreservedAcrossWrap(t *testing.T) {
	r := ringbuf.New[int](4)
	for round := 0; round < 3; round++ {
		for i := 0; i < 3; i++ {
			slot, ok := r.PeekPut()
			require.True(t, ok)
			*slot = round*10 + i
			r.Put()
		}
		for i := 0; i < 3; i++ {
			v, ok := r.Get()
			require.True(t, ok)
			assert.Equal(t, round*10+i, v)
		}
	}
}

// TestProducerConsumerLaw pins the round-trip law: every value put in
// FIFO order comes back out in the same order, regardless of how
// reservation and consumption happen to interleave.
func TestProducerConsumerLaw(t *testing.T) {
	rapid.Check(t, func(tt *rapid.T) {
		capacity := rapid.IntRange(1, 8).Draw(tt, "capacity")
		r := ringbuf.New[int](capacity)
		ops := rapid.SliceOfN(rapid.IntRange(0, 1), 1, 200).Draw(tt, "ops")

		var produced, consumed []int
		next := 0
		for _, op := range ops {
			if op == 0 {
				slot, ok := r.PeekPut()
				if !ok {
					continue
				}
				*slot = next
				r.Put()
				produced = append(produced, next)
				next++
			} else {
				v, ok := r.Get()
				if !ok {
					continue
				}
				consumed = append(consumed, v)
			}
		}
		assert.Equal(tt, produced[:len(consumed)], consumed)
	})
}
