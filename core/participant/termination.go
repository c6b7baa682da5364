package participant

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/threepc/core/coordinator"
	"github.com/vadiminshakov/threepc/core/dto"
)

// ErrElectedCoordinatorSilent is returned when the coordinator chosen by the termination
// protocol does not speak within the timeout. The transaction stays unresolved for this
// participant; no further election is attempted.
var ErrElectedCoordinatorSilent = errors.New("elected coordinator is silent")

// ElectCoordinator deterministically picks the replacement coordinator: the lowest id.
func ElectCoordinator(participants []dto.ID) dto.ID {
	if len(participants) == 0 {
		return 0
	}

	elected := participants[0]
	for _, id := range participants[1:] {
		if id < elected {
			elected = id
		}
	}

	return elected
}

// terminate runs the termination protocol after the coordinator fell silent.
func (p *Participant) terminate(ctx context.Context) (dto.Outcome, error) {
	log.Infof("Participant %s: coordinator crash detected in state %s", p.id, p.state.Current())
	p.metrics.Timeout(dto.RoleParticipant, p.state.Current())

	p.chooseNewCoordinator(ctx)

	final, err := p.handleNewCoordinator(ctx)
	if err != nil {
		return dto.Outcome{}, err
	}

	return p.outcome(final.String()), nil
}

// chooseNewCoordinator elects the replacement and, when elected, starts the coordinator
// role from a snapshot of the current belief about the crashed coordinator's phase.
func (p *Participant) chooseNewCoordinator(ctx context.Context) {
	elected := ElectCoordinator(p.allParticipants)
	p.metrics.ElectionStarted()

	if elected == p.id {
		opts := append([]coordinator.Option{
			coordinator.WithTimeout(p.timeout),
			coordinator.WithMetrics(p.metrics),
		}, p.coordinatorOpts...)

		c := coordinator.NewElected(p.channel, p.stableLog, p.id, p.allParticipants, p.CoordinatorState(), opts...)
		p.spawned.Go(func() error {
			_, err := c.Resume(ctx)
			return err
		})
	}

	p.setCoordinators([]dto.ID{elected})
	log.Infof("Participant %s: new coordinator is %s", p.id, elected)
}

// handleNewCoordinator waits for the elected coordinator's state announcement. A final
// state is adopted directly, otherwise the decision that follows it is.
func (p *Participant) handleNewCoordinator(ctx context.Context) (dto.Message, error) {
	env, err := p.receiveFromElected(ctx)
	if err != nil {
		return dto.Message{}, err
	}
	if env.Kind != dto.KindStateAnnouncement {
		return dto.Message{}, dto.Violation("participant %s expected STATE_ANNOUNCEMENT, got %s", p.id, env)
	}

	p.setCoordinatorState(env.State)
	switch env.State {
	case dto.StateCommit, dto.StateAbort:
		if err = p.enterState(env.State, "new coordinator has communicated "+string(env.State)); err != nil {
			return dto.Message{}, err
		}
		return env, nil
	}

	decision, err := p.receiveFromElected(ctx)
	if err != nil {
		return dto.Message{}, err
	}

	switch decision.Kind {
	case dto.KindGlobalCommit:
		p.setCoordinatorState(dto.StateCommit)
		err = p.enterState(dto.StateCommit, "")
	case dto.KindGlobalAbort:
		p.setCoordinatorState(dto.StateAbort)
		err = p.enterState(dto.StateAbort, "")
	default:
		err = dto.Violation("participant %s expected a decision from the new coordinator, got %s", p.id, decision)
	}
	if err != nil {
		return dto.Message{}, err
	}

	return decision, nil
}

func (p *Participant) receiveFromElected(ctx context.Context) (dto.Message, error) {
	env, ok, err := p.receive(ctx)
	if err != nil {
		return dto.Message{}, err
	}
	if !ok {
		elected := p.coordinators()[0]
		log.Errorf("Participant %s: new coordinator %s did not respond in state %s", p.id, elected, p.state.Current())
		return dto.Message{}, errors.Wrapf(ErrElectedCoordinatorSilent, "participant %s waiting for %s", p.id, elected)
	}
	return env.Message, nil
}
