// Package fsm guards the state transitions of coordinators and participants.
package fsm

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/threepc/core/dto"
)

// ErrInvalidTransition is returned for a transition the protocol does not allow.
var ErrInvalidTransition = errors.New("invalid state transition")

type transitions map[dto.State]map[dto.State]struct{}

var coordinatorTransitions = transitions{
	dto.StateInit: {
		dto.StateWait: struct{}{},
	},
	dto.StateWait: {
		dto.StatePrecommit: struct{}{},
		dto.StateAbort:     struct{}{},
	},
	dto.StatePrecommit: {
		dto.StateCommit: struct{}{},
	},
}

// READY -> COMMIT is only taken through the termination protocol.
var participantTransitions = transitions{
	dto.StateNew: {
		dto.StateInit: struct{}{},
	},
	dto.StateInit: {
		dto.StateReady: struct{}{},
		dto.StateAbort: struct{}{},
	},
	dto.StateReady: {
		dto.StatePrecommit: struct{}{},
		dto.StateAbort:     struct{}{},
		dto.StateCommit:    struct{}{},
	},
	dto.StatePrecommit: {
		dto.StateCommit: struct{}{},
		dto.StateAbort:  struct{}{},
	},
}

// StateMachine holds the current state of one role instance.
type StateMachine struct {
	mu           sync.RWMutex
	currentState dto.State
	transitions  transitions
}

// NewCoordinator creates a state machine starting in INIT.
func NewCoordinator() *StateMachine {
	return &StateMachine{currentState: dto.StateInit, transitions: coordinatorTransitions}
}

// NewCoordinatorFrom creates a coordinator state machine resuming from state. It is used
// by a coordinator elected in the termination protocol.
func NewCoordinatorFrom(state dto.State) *StateMachine {
	return &StateMachine{currentState: state, transitions: coordinatorTransitions}
}

// NewParticipant creates a state machine starting in NEW.
func NewParticipant() *StateMachine {
	return &StateMachine{currentState: dto.StateNew, transitions: participantTransitions}
}

// Transition moves the machine to nextState. It reports false without error when the
// machine already is in nextState, so final decisions can be adopted idempotently.
func (sm *StateMachine) Transition(nextState dto.State) (bool, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.currentState == nextState {
		return false, nil
	}

	if allowedStates, ok := sm.transitions[sm.currentState]; ok {
		if _, ok = allowedStates[nextState]; ok {
			sm.currentState = nextState
			return true, nil
		}
	}

	return false, errors.Wrapf(ErrInvalidTransition, "%s -> %s", sm.currentState, nextState)
}

func (sm *StateMachine) Current() dto.State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}
