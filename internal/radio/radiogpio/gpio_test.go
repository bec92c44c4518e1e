package radiogpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLine struct {
	value  int
	closed bool
}

func (m *mockLine) SetValue(v int) error {
	m.value = v
	return nil
}

func (m *mockLine) Close() error {
	m.closed = true
	return nil
}

func TestPowerLineOnOff(t *testing.T) {
	m := &mockLine{}
	p := newWithLine(m, false)

	require.NoError(t, p.On())
	assert.Equal(t, 1, m.value)

	require.NoError(t, p.Off())
	assert.Equal(t, 0, m.value)
}

func TestPowerLineInverted(t *testing.T) {
	m := &mockLine{}
	p := newWithLine(m, true)

	require.NoError(t, p.On())
	assert.Equal(t, 0, m.value, "inverted line should be low when active")

	require.NoError(t, p.Off())
	assert.Equal(t, 1, m.value, "inverted line should be high when inactive")
}

func TestPowerLineClose(t *testing.T) {
	m := &mockLine{}
	p := newWithLine(m, false)
	require.NoError(t, p.Close())
	assert.True(t, m.closed)
}
