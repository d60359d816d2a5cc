package statemachine

import (
	"errors"
	"fmt"
	"sync"
)

// ErrInvalidTransition is returned when an edge is not in the table.
var ErrInvalidTransition = errors.New("invalid state transition")

// Table lists the allowed target states for each source state. A state with
// no entry, or an empty one, is terminal.
type Table[S comparable] map[S][]S

// StateMachine is a simple, thread-safe state machine driven by an explicit
// transition table. Callers move it with Transition; edges that are not in
// the table are rejected so no state can be skipped.
type StateMachine[S comparable] struct {
	mutex   sync.RWMutex
	current S
	edges   map[S]map[S]struct{}

	// onTransition is called after every successful transition, outside
	// the lock.
	onTransition func(from, to S)
}

// NewStateMachine creates a machine in state initial.
func NewStateMachine[S comparable](initial S, table Table[S]) *StateMachine[S] {
	edges := make(map[S]map[S]struct{}, len(table))
	for from, tos := range table {
		set := make(map[S]struct{}, len(tos))
		for _, to := range tos {
			set[to] = struct{}{}
		}
		edges[from] = set
	}
	return &StateMachine[S]{current: initial, edges: edges}
}

// OnTransition registers fn to observe transitions. It replaces any earlier
// observer.
func (sm *StateMachine[S]) OnTransition(fn func(from, to S)) {
	sm.mutex.Lock()
	sm.onTransition = fn
	sm.mutex.Unlock()
}

// Current returns the current state (thread-safe)
func (sm *StateMachine[S]) Current() S {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return sm.current
}

// Can reports whether moving to state to is allowed from the current state.
func (sm *StateMachine[S]) Can(to S) bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	_, ok := sm.edges[sm.current][to]
	return ok
}

// Terminal reports whether the current state has no outgoing edges.
func (sm *StateMachine[S]) Terminal() bool {
	sm.mutex.RLock()
	defer sm.mutex.RUnlock()
	return len(sm.edges[sm.current]) == 0
}

// Transition moves the machine to state to.
func (sm *StateMachine[S]) Transition(to S) error {
	sm.mutex.Lock()
	from := sm.current
	if _, ok := sm.edges[from][to]; !ok {
		sm.mutex.Unlock()
		return fmt.Errorf("%w: %v -> %v", ErrInvalidTransition, from, to)
	}
	sm.current = to
	fn := sm.onTransition
	sm.mutex.Unlock()

	if fn != nil {
		fn(from, to)
	}
	return nil
}

// TransitionFrom moves the machine to state to only if it is currently in
// state from. It reports whether the transition happened.
func (sm *StateMachine[S]) TransitionFrom(from, to S) bool {
	sm.mutex.Lock()
	if sm.current != from {
		sm.mutex.Unlock()
		return false
	}
	if _, ok := sm.edges[from][to]; !ok {
		sm.mutex.Unlock()
		return false
	}
	sm.current = to
	fn := sm.onTransition
	sm.mutex.Unlock()

	if fn != nil {
		fn(from, to)
	}
	return true
}
