// Package participant implements the receiving side of three-phase commit together
// with the termination protocol run when the coordinator falls silent.
package participant

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/threepc/core/coordinator"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/fsm"
	"github.com/vadiminshakov/threepc/core/group"
	"github.com/vadiminshakov/threepc/core/hooks"
	"github.com/vadiminshakov/threepc/io/metrics"
	"golang.org/x/sync/errgroup"
)

// DefaultTimeout bounds every receive of a participant.
const DefaultTimeout = time.Second

type Option func(*Participant)

// WithTimeout sets the per-receive timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Participant) {
		p.timeout = timeout
	}
}

// WithHooks replaces the default local work hook.
func WithHooks(h ...hooks.Hook) Option {
	return func(p *Participant) {
		p.hooks = hooks.NewRegistry(h...)
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Participant) {
		p.metrics = m
	}
}

// WithCoordinatorOptions configures the coordinator spawned when this participant wins
// an election.
func WithCoordinatorOptions(opts ...coordinator.Option) Option {
	return func(p *Participant) {
		p.coordinatorOpts = append(p.coordinatorOpts, opts...)
	}
}

// Participant votes on the transaction and follows the coordinator to the decision.
type Participant struct {
	channel         group.Channel
	stableLog       group.StableLog
	id              dto.ID
	allParticipants []dto.ID
	state           *fsm.StateMachine
	hooks           *hooks.Registry
	timeout         time.Duration
	metrics         *metrics.Metrics
	coordinatorOpts []coordinator.Option
	spawned         errgroup.Group
	initialized     bool

	mu               sync.RWMutex
	coordinator      []dto.ID
	decision         dto.Decision
	coordinatorState dto.State // belief about the coordinator's phase, updated only by received messages
}

func New(channel group.Channel, stableLog group.StableLog, opts ...Option) *Participant {
	p := &Participant{
		channel:   channel,
		stableLog: stableLog,
		state:     fsm.NewParticipant(),
		hooks:     hooks.NewRegistry(hooks.NewDefaultHook()),
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Init joins the participant group and caches the coordinator and the participant group.
func (p *Participant) Init(ctx context.Context) error {
	if p.initialized {
		return nil
	}

	id, err := p.channel.Join(dto.RoleParticipant)
	if err != nil {
		return errors.Wrap(err, "failed to join participant group")
	}
	if err = p.channel.Bind(id); err != nil {
		return errors.Wrapf(err, "failed to bind participant %s", id)
	}
	p.id = id

	coordinators, err := p.channel.Subgroup(dto.RoleCoordinator)
	if err != nil {
		return errors.Wrap(err, "failed to discover coordinator")
	}
	p.setCoordinators(coordinators)
	participants, err := p.channel.Subgroup(dto.RoleParticipant)
	if err != nil {
		return errors.Wrap(err, "failed to discover participants")
	}
	p.allParticipants = group.Sorted(participants)

	if err = p.enterState(dto.StateInit, ""); err != nil {
		return err
	}
	p.setCoordinatorState(dto.StateInit)
	p.initialized = true

	return nil
}

// Run executes the participant side of the protocol. When this participant wins an
// election, Run also waits for the coordinator role it spawned.
func (p *Participant) Run(ctx context.Context) (outcome dto.Outcome, err error) {
	if !p.initialized {
		return dto.Outcome{}, errors.New("participant is not initialized")
	}

	defer func() {
		if werr := p.spawned.Wait(); werr != nil && err == nil {
			err = errors.Wrap(werr, "elected coordinator failed")
		}
		if err == nil {
			p.hooks.ExecuteOutcome(&outcome)
			p.metrics.Terminated(outcome)
		}
	}()

	// wait for start of joint commit
	env, ok, err := p.receive(ctx)
	if err != nil {
		return dto.Outcome{}, err
	}
	if !ok {
		// nobody can have committed without a vote request
		p.setDecision(dto.LocalAbort)
		if err = p.enterState(dto.StateAbort, "coordinator timeout in INIT"); err != nil {
			return dto.Outcome{}, err
		}
		return p.outcome("coordinator crash in INIT"), nil
	}
	if env.Message.Kind != dto.KindVoteRequest {
		return dto.Outcome{}, dto.Violation("participant %s expected VOTE_REQUEST, got %s", p.id, env.Message)
	}

	p.setCoordinatorState(dto.StateWait)
	if err = p.vote(ctx, env.From); err != nil {
		return dto.Outcome{}, err
	}

	env, ok, err = p.receive(ctx)
	if err != nil {
		return dto.Outcome{}, err
	}
	if !ok {
		return p.terminate(ctx)
	}

	switch env.Message.Kind {
	case dto.KindPrepareCommit:
		if p.Decision() == dto.LocalAbort {
			return dto.Outcome{}, dto.Violation("participant %s voted abort but received PREPARE_COMMIT", p.id)
		}
		if err = p.enterState(dto.StatePrecommit, ""); err != nil {
			return dto.Outcome{}, err
		}
		p.setCoordinatorState(dto.StatePrecommit)
		if err = p.send(ctx, dto.NewMessage(dto.KindReadyCommit)); err != nil {
			return dto.Outcome{}, err
		}
	case dto.KindGlobalAbort:
		p.setCoordinatorState(dto.StateAbort)
		if err = p.enterState(dto.StateAbort, ""); err != nil {
			return dto.Outcome{}, err
		}
		return p.outcome(env.Message.String()), nil
	default:
		return dto.Outcome{}, dto.Violation("participant %s expected PREPARE_COMMIT or GLOBAL_ABORT, got %s", p.id, env.Message)
	}

	env, ok, err = p.receive(ctx)
	if err != nil {
		return dto.Outcome{}, err
	}
	if !ok {
		return p.terminate(ctx)
	}

	// adopt the final decision; entering the current state again is a no-op
	switch env.Message.Kind {
	case dto.KindGlobalCommit:
		p.setCoordinatorState(dto.StateCommit)
		err = p.enterState(dto.StateCommit, "")
	case dto.KindGlobalAbort:
		p.setCoordinatorState(dto.StateAbort)
		err = p.enterState(dto.StateAbort, "")
	default:
		err = dto.Violation("participant %s expected a global decision, got %s", p.id, env.Message)
	}
	if err != nil {
		return dto.Outcome{}, err
	}

	return p.outcome(env.Message.String()), nil
}

// vote performs the local work and replies with the resulting vote.
func (p *Participant) vote(ctx context.Context, from dto.ID) error {
	decision := p.hooks.ExecuteVoteRequest(&dto.VoteRequest{Participant: p.id, Coordinator: from})
	p.setDecision(decision)

	if decision == dto.LocalAbort {
		if err := p.enterState(dto.StateAbort, "local work failed"); err != nil {
			return err
		}
		return p.send(ctx, dto.NewMessage(dto.KindVoteAbort))
	}

	if err := p.enterState(dto.StateReady, "local work was successful"); err != nil {
		return err
	}
	return p.send(ctx, dto.NewMessage(dto.KindVoteCommit))
}

func (p *Participant) receive(ctx context.Context) (group.Envelope, bool, error) {
	env, ok, err := p.channel.ReceiveFrom(ctx, p.coordinators(), p.timeout)
	if err != nil {
		return group.Envelope{}, false, errors.Wrapf(err, "participant %s failed to receive", p.id)
	}
	if ok {
		p.metrics.Received(dto.RoleParticipant, env.Message)
	}
	return env, ok, nil
}

func (p *Participant) send(ctx context.Context, msg dto.Message) error {
	recipients := p.coordinators()
	if err := p.channel.SendTo(ctx, recipients, msg); err != nil {
		return errors.Wrapf(err, "participant %s failed to send %s", p.id, msg)
	}
	p.metrics.Sent(dto.RoleParticipant, msg, len(recipients))
	return nil
}

func (p *Participant) enterState(state dto.State, reason string) error {
	changed, err := p.state.Transition(state)
	if err != nil {
		return dto.Violation("participant %s: %v", p.id, err)
	}
	if !changed {
		return nil
	}

	if err = p.stableLog.Append(dto.RoleParticipant, p.id, state); err != nil {
		log.Errorf("Participant %s failed to write state %s to stable log: %v", p.id, state, err)
	}
	p.metrics.StateEntered(dto.RoleParticipant, state)

	if reason != "" {
		log.Infof("Participant %s entered state %s. Reason: %s", p.id, state, reason)
	} else {
		log.Infof("Participant %s entered state %s.", p.id, state)
	}

	return nil
}

func (p *Participant) outcome(reason string) dto.Outcome {
	o := dto.Outcome{
		Role:     dto.RoleParticipant,
		ID:       p.id,
		State:    p.state.Current(),
		Decision: p.Decision(),
		Reason:   reason,
	}
	log.Info(o.String())
	return o
}

func (p *Participant) setDecision(d dto.Decision) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.decision = d
}

func (p *Participant) setCoordinatorState(s dto.State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coordinatorState = s
}

// coordinators returns the set the participant follows. The slice is replaced on
// election, never modified in place.
func (p *Participant) coordinators() []dto.ID {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.coordinator
}

func (p *Participant) setCoordinators(ids []dto.ID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.coordinator = ids
}

func (p *Participant) ID() dto.ID {
	return p.id
}

func (p *Participant) State() dto.State {
	return p.state.Current()
}

// Decision returns the local decision, empty until a vote was requested.
func (p *Participant) Decision() dto.Decision {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.decision
}

// CoordinatorState returns the participant's belief about the coordinator's phase.
func (p *Participant) CoordinatorState() dto.State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.coordinatorState
}

// Coordinator returns the identity the participant currently follows.
func (p *Participant) Coordinator() []dto.ID {
	return append([]dto.ID(nil), p.coordinators()...)
}
