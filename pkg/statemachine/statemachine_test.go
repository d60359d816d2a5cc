package statemachine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type light string

const (
	red    light = "RED"
	green  light = "GREEN"
	yellow light = "YELLOW"
	off    light = "OFF"
)

func newLight() *StateMachine[light] {
	return NewStateMachine(red, Table[light]{
		red:    {green, off},
		green:  {yellow},
		yellow: {red},
	})
}

func TestTransitionFollowsTable(t *testing.T) {
	sm := newLight()
	assert.Equal(t, red, sm.Current())

	require.NoError(t, sm.Transition(green))
	require.NoError(t, sm.Transition(yellow))
	require.NoError(t, sm.Transition(red))
	assert.Equal(t, red, sm.Current())
}

func TestTransitionRejectsSkippedState(t *testing.T) {
	sm := newLight()

	err := sm.Transition(yellow)
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, red, sm.Current())
	assert.False(t, sm.Can(yellow))
	assert.True(t, sm.Can(green))
}

func TestTerminalState(t *testing.T) {
	sm := newLight()
	assert.False(t, sm.Terminal())

	require.NoError(t, sm.Transition(off))
	assert.True(t, sm.Terminal())
	assert.ErrorIs(t, sm.Transition(red), ErrInvalidTransition)
}

func TestOnTransitionObserver(t *testing.T) {
	sm := newLight()
	var seen [][2]light
	sm.OnTransition(func(from, to light) {
		seen = append(seen, [2]light{from, to})
	})

	require.NoError(t, sm.Transition(green))
	_ = sm.Transition(red)

	assert.Equal(t, [][2]light{{red, green}}, seen)
}

func TestTransitionFromIsExclusive(t *testing.T) {
	sm := newLight()

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if sm.TransitionFrom(red, green) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, wins.Load())
	assert.Equal(t, green, sm.Current())
}
