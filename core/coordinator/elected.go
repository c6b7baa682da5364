package coordinator

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/fsm"
	"github.com/vadiminshakov/threepc/core/group"
)

// NewElected creates the coordinator role of a participant elected by the termination
// protocol. state is the electing participant's belief about the crashed coordinator's
// phase, captured at election time; the new instance never observes later updates.
func NewElected(channel group.Channel, stableLog group.StableLog, self dto.ID, participants []dto.ID,
	state dto.State, opts ...Option) *Coordinator {
	c := New(channel, stableLog, opts...)
	c.id = self
	c.participants = group.Sorted(participants)
	c.state = fsm.NewCoordinatorFrom(state)
	c.initialized = true

	return c
}

// Resume announces the state recovery resumes from and broadcasts the decision it
// implies: WAIT resolves to GLOBAL_ABORT, PRECOMMIT to GLOBAL_COMMIT. A COMMIT or ABORT
// state is already decided and needs only the announcement.
func (c *Coordinator) Resume(ctx context.Context) (dto.Outcome, error) {
	state := c.state.Current()
	log.Infof("Participant %s: New coordinator in state %s", c.id, state)

	if err := c.broadcast(ctx, dto.Announce(state)); err != nil {
		return dto.Outcome{}, err
	}

	var decision dto.Message
	switch state {
	case dto.StateWait:
		if err := c.enterState(dto.StateAbort); err != nil {
			return dto.Outcome{}, err
		}
		decision = dto.NewMessage(dto.KindGlobalAbort)
	case dto.StatePrecommit:
		if err := c.enterState(dto.StateCommit); err != nil {
			return dto.Outcome{}, err
		}
		decision = dto.NewMessage(dto.KindGlobalCommit)
	case dto.StateCommit, dto.StateAbort:
		return c.outcome("termination protocol"), nil
	default:
		return dto.Outcome{}, dto.Violation("elected coordinator %s cannot resume from state %s", c.id, state)
	}

	if err := c.broadcast(ctx, decision); err != nil {
		return dto.Outcome{}, err
	}

	return c.outcome("termination protocol"), nil
}
