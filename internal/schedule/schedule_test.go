package schedule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doismellburning/samoyed/internal/asn"
	"github.com/doismellburning/samoyed/internal/schedule"
)

func TestNextActiveLinkFindsNextOccupiedSlot(t *testing.T) {
	f := schedule.NewFixedSlotframe(4)
	f.Set(2, schedule.Link{Options: schedule.OptionTX, ChannelOffset: 0}, nil)

	link, backup, diff, ok := f.NextActiveLink(asn.ASN(0))
	require.True(t, ok)
	assert.Nil(t, backup)
	assert.Equal(t, uint64(2), diff)
	assert.Equal(t, schedule.OptionTX, link.Options)
}

func TestNextActiveLinkWrapsAroundPeriod(t *testing.T) {
	f := schedule.NewFixedSlotframe(4)
	f.Set(1, schedule.Link{Options: schedule.OptionRX}, nil)

	// current=2 must wrap to find offset 1 three slots later.
	_, _, diff, ok := f.NextActiveLink(asn.ASN(2))
	require.True(t, ok)
	assert.Equal(t, uint64(3), diff)
}

func TestNextActiveLinkEmptyReportsNotOK(t *testing.T) {
	f := schedule.NewFixedSlotframe(4)
	_, _, _, ok := f.NextActiveLink(asn.ASN(0))
	assert.False(t, ok)
}

func TestNextActiveLinkSameSlotNextPeriod(t *testing.T) {
	f := schedule.NewFixedSlotframe(4)
	f.Set(0, schedule.Link{Options: schedule.OptionTX}, nil)
	_, _, diff, ok := f.NextActiveLink(asn.ASN(0))
	require.True(t, ok)
	assert.Equal(t, uint64(4), diff)
}
