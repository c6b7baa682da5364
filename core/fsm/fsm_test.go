package fsm

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/threepc/core/dto"
)

func TestCoordinator_HappyPath(t *testing.T) {
	sm := NewCoordinator()
	require.Equal(t, dto.StateInit, sm.Current())

	for _, next := range []dto.State{dto.StateWait, dto.StatePrecommit, dto.StateCommit} {
		changed, err := sm.Transition(next)
		require.NoError(t, err)
		require.True(t, changed)
		require.Equal(t, next, sm.Current())
	}
}

func TestCoordinator_AbortOnlyFromWait(t *testing.T) {
	sm := NewCoordinator()
	_, err := sm.Transition(dto.StateAbort)
	require.True(t, errors.Is(err, ErrInvalidTransition))

	_, err = sm.Transition(dto.StateWait)
	require.NoError(t, err)
	_, err = sm.Transition(dto.StatePrecommit)
	require.NoError(t, err)

	// once precommitted the coordinator can only commit
	_, err = sm.Transition(dto.StateAbort)
	require.Error(t, err)
	require.Contains(t, err.Error(), "PRECOMMIT -> ABORT")
	require.Equal(t, dto.StatePrecommit, sm.Current())
}

func TestParticipant_FinalStatesAreSticky(t *testing.T) {
	sm := NewParticipant()
	_, err := sm.Transition(dto.StateInit)
	require.NoError(t, err)
	_, err = sm.Transition(dto.StateAbort)
	require.NoError(t, err)

	// re-entering the same final state is a no-op
	changed, err := sm.Transition(dto.StateAbort)
	require.NoError(t, err)
	require.False(t, changed)

	_, err = sm.Transition(dto.StateCommit)
	require.True(t, errors.Is(err, ErrInvalidTransition))
	require.Equal(t, dto.StateAbort, sm.Current())
}

func TestParticipant_VotedAbortNeverCommits(t *testing.T) {
	sm := NewParticipant()
	for _, next := range []dto.State{dto.StateInit, dto.StateAbort} {
		_, err := sm.Transition(next)
		require.NoError(t, err)
	}

	for _, next := range []dto.State{dto.StateReady, dto.StatePrecommit, dto.StateCommit} {
		_, err := sm.Transition(next)
		require.Error(t, err)
	}
}

func TestParticipant_TerminationShortcut(t *testing.T) {
	sm := NewParticipant()
	for _, next := range []dto.State{dto.StateInit, dto.StateReady, dto.StateCommit} {
		_, err := sm.Transition(next)
		require.NoError(t, err)
	}
	require.True(t, sm.Current().Final())
}
