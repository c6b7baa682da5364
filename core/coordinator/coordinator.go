package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/fault"
	"github.com/vadiminshakov/threepc/core/fsm"
	"github.com/vadiminshakov/threepc/core/group"
	"github.com/vadiminshakov/threepc/io/metrics"
)

// DefaultTimeout bounds every receive of a coordinator.
const DefaultTimeout = time.Second

type Option func(*Coordinator)

// WithTimeout sets the per-receive timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Coordinator) {
		c.timeout = timeout
	}
}

// WithFaultInjector sets the hook deciding where the coordinator crashes.
func WithFaultInjector(faults fault.Injector) Option {
	return func(c *Coordinator) {
		c.faults = faults
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// Coordinator drives the three phases of the protocol.
type Coordinator struct {
	channel      group.Channel
	stableLog    group.StableLog
	id           dto.ID
	participants []dto.ID
	state        *fsm.StateMachine
	timeout      time.Duration
	faults       fault.Injector
	metrics      *metrics.Metrics
	initialized  bool
}

func New(channel group.Channel, stableLog group.StableLog, opts ...Option) *Coordinator {
	c := &Coordinator{
		channel:   channel,
		stableLog: stableLog,
		state:     fsm.NewCoordinator(),
		timeout:   DefaultTimeout,
		faults:    fault.Never(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Init joins the coordinator group and discovers the participants.
func (c *Coordinator) Init(ctx context.Context) error {
	if c.initialized {
		return nil
	}

	id, err := c.channel.Join(dto.RoleCoordinator)
	if err != nil {
		return errors.Wrap(err, "failed to join coordinator group")
	}
	if err = c.channel.Bind(id); err != nil {
		return errors.Wrapf(err, "failed to bind coordinator %s", id)
	}
	c.id = id
	c.record(dto.StateInit)

	participants, err := c.channel.Subgroup(dto.RoleParticipant)
	if err != nil {
		return errors.Wrap(err, "failed to discover participants")
	}
	c.participants = group.Sorted(participants)
	c.initialized = true

	return nil
}

// Run executes the protocol to completion or to a simulated crash.
func (c *Coordinator) Run(ctx context.Context) (dto.Outcome, error) {
	if !c.initialized {
		return dto.Outcome{}, errors.New("coordinator is not initialized")
	}

	if c.crash(dto.StateInit) {
		return c.crashed(), nil
	}

	// request local votes from all participants
	if err := c.enterState(dto.StateWait); err != nil {
		return dto.Outcome{}, err
	}
	if err := c.broadcast(ctx, dto.NewMessage(dto.KindVoteRequest)); err != nil {
		return dto.Outcome{}, err
	}

	if c.crash(dto.StateWait) {
		return c.crashed(), nil
	}

	reason, err := c.collectVotes(ctx)
	if err != nil {
		return dto.Outcome{}, err
	}
	if reason != "" {
		if err = c.enterState(dto.StateAbort); err != nil {
			return dto.Outcome{}, err
		}
		if err = c.broadcast(ctx, dto.NewMessage(dto.KindGlobalAbort)); err != nil {
			return dto.Outcome{}, err
		}
		return c.outcome(reason), nil
	}

	// all participants have locally committed
	if err = c.enterState(dto.StatePrecommit); err != nil {
		return dto.Outcome{}, err
	}
	if err = c.broadcast(ctx, dto.NewMessage(dto.KindPrepareCommit)); err != nil {
		return dto.Outcome{}, err
	}

	if c.crash(dto.StatePrecommit) {
		return c.crashed(), nil
	}

	if err = c.collectAcks(ctx); err != nil {
		return dto.Outcome{}, err
	}

	if err = c.enterState(dto.StateCommit); err != nil {
		return dto.Outcome{}, err
	}
	if err = c.broadcast(ctx, dto.NewMessage(dto.KindGlobalCommit)); err != nil {
		return dto.Outcome{}, err
	}

	return c.outcome(""), nil
}

// collectVotes waits for one vote per participant. It returns a non-empty abort reason
// on the first VOTE_ABORT or receive timeout.
func (c *Coordinator) collectVotes(ctx context.Context) (string, error) {
	waitingFor := append([]dto.ID(nil), c.participants...)
	for len(waitingFor) > 0 {
		env, ok, err := c.channel.ReceiveFrom(ctx, waitingFor, c.timeout)
		if err != nil {
			return "", errors.Wrap(err, "failed to receive vote")
		}
		if !ok {
			c.metrics.Timeout(dto.RoleCoordinator, dto.StateWait)
			return "timeout", nil
		}
		c.metrics.Received(dto.RoleCoordinator, env.Message)

		switch env.Message.Kind {
		case dto.KindVoteAbort:
			return fmt.Sprintf("local_abort from %s", env.From), nil
		case dto.KindVoteCommit:
			waitingFor = remove(waitingFor, env.From)
		default:
			return "", dto.Violation("coordinator %s expected a vote from %s, got %s", c.id, env.From, env.Message)
		}
	}

	return "", nil
}

// collectAcks waits for READY_COMMIT from every participant. A missing or unexpected
// acknowledgement ends the wait but never revokes the decision to commit.
func (c *Coordinator) collectAcks(ctx context.Context) error {
	waitingFor := append([]dto.ID(nil), c.participants...)
	for len(waitingFor) > 0 {
		env, ok, err := c.channel.ReceiveFrom(ctx, waitingFor, c.timeout)
		if err != nil {
			return errors.Wrap(err, "failed to receive acknowledgement")
		}
		if !ok {
			c.metrics.Timeout(dto.RoleCoordinator, dto.StatePrecommit)
			log.Warnf("Coordinator %s: timeout from participants %v in state PRECOMMIT, committing anyway", c.id, waitingFor)
			return nil
		}
		c.metrics.Received(dto.RoleCoordinator, env.Message)

		if env.Message.Kind != dto.KindReadyCommit {
			log.Warnf("Coordinator %s: unexpected %s from %s in state PRECOMMIT, committing anyway", c.id, env.Message, env.From)
			return nil
		}
		waitingFor = remove(waitingFor, env.From)
	}

	return nil
}

func (c *Coordinator) broadcast(ctx context.Context, msg dto.Message) error {
	if err := c.channel.SendTo(ctx, c.participants, msg); err != nil {
		return errors.Wrapf(err, "coordinator %s failed to send %s", c.id, msg)
	}
	c.metrics.Sent(dto.RoleCoordinator, msg, len(c.participants))

	return nil
}

func (c *Coordinator) enterState(state dto.State) error {
	changed, err := c.state.Transition(state)
	if err != nil {
		return dto.Violation("coordinator %s: %v", c.id, err)
	}
	if changed {
		c.record(state)
	}

	return nil
}

// record writes the transition to the stable log. The log is fire-and-forget.
func (c *Coordinator) record(state dto.State) {
	if err := c.stableLog.Append(dto.RoleCoordinator, c.id, state); err != nil {
		log.Errorf("Coordinator %s failed to write state %s to stable log: %v", c.id, state, err)
	}
	c.metrics.StateEntered(dto.RoleCoordinator, state)
	log.Infof("Coordinator %s entered state %s.", c.id, state)
}

func (c *Coordinator) crash(checkpoint dto.State) bool {
	if !c.faults.Crash(checkpoint) {
		return false
	}

	c.metrics.Crashed(checkpoint)
	log.Warnf("Coordinator %s crashed in state %s.", c.id, checkpoint)
	return true
}

func (c *Coordinator) crashed() dto.Outcome {
	o := dto.Outcome{Role: dto.RoleCoordinator, ID: c.id, State: c.state.Current(), Crashed: true}
	c.metrics.Terminated(o)
	return o
}

func (c *Coordinator) outcome(reason string) dto.Outcome {
	o := dto.Outcome{Role: dto.RoleCoordinator, ID: c.id, State: c.state.Current(), Reason: reason}
	c.metrics.Terminated(o)
	log.Info(o.String())
	return o
}

func (c *Coordinator) ID() dto.ID {
	return c.id
}

func (c *Coordinator) State() dto.State {
	return c.state.Current()
}

// Participants returns the participant group discovered by Init.
func (c *Coordinator) Participants() []dto.ID {
	return append([]dto.ID(nil), c.participants...)
}

func remove(ids []dto.ID, id dto.ID) []dto.ID {
	for i := range ids {
		if ids[i] == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
