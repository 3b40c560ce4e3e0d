package timer

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func itoa(n int64) string { return strconv.FormatInt(n, 10) }

func TestMachine_Transitions(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, StatusIdle, m.Status())

	assert.ErrorIs(t, m.Pause(), ErrInvalidTransition)
	assert.ErrorIs(t, m.Resume(), ErrInvalidTransition)
	assert.ErrorIs(t, m.Complete(), ErrInvalidTransition)

	require.NoError(t, m.Start())
	assert.ErrorIs(t, m.Start(), ErrInvalidTransition)
	require.NoError(t, m.Pause())
	assert.ErrorIs(t, m.Complete(), ErrInvalidTransition, "only a running activity completes")
	require.NoError(t, m.Resume())
	require.NoError(t, m.Complete())
	assert.Equal(t, StatusCompleted, m.Status())
	assert.ErrorIs(t, m.Resume(), ErrInvalidTransition)

	m.Reset()
	assert.Equal(t, StatusIdle, m.Status())
}

func TestMachine_ZeroValueIsIdle(t *testing.T) {
	var m Machine
	assert.Equal(t, StatusIdle, m.Status())
	assert.NoError(t, m.Start())
}
