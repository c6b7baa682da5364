package main

import (
	"context"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/threepc/core/coordinator"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/fault"
	"github.com/vadiminshakov/threepc/core/hooks"
	"github.com/vadiminshakov/threepc/core/participant"
	"github.com/vadiminshakov/threepc/io/bus"
	"github.com/vadiminshakov/threepc/io/stablelog"
	"golang.org/x/sync/errgroup"
)

const (
	coordinatorID = dto.ID(1)
	timeout       = 100 * time.Millisecond
)

func TestMain(m *testing.M) {
	log.SetLevel(log.WarnLevel)
	os.Exit(m.Run())
}

type run struct {
	coordinator  dto.Outcome
	participants map[dto.ID]dto.Outcome
	messages     map[dto.ID][]dto.Kind // per participant, exchanged with the original coordinator
	log          *stablelog.Memory
}

// simulate runs one transaction on an in-memory bus. votes maps participant ids to
// their local work result.
func simulate(t *testing.T, faults fault.Injector, votes map[dto.ID]bool) run {
	b := bus.New()
	r := run{
		participants: make(map[dto.ID]dto.Outcome),
		messages:     make(map[dto.ID][]dto.Kind),
		log:          &stablelog.Memory{},
	}

	var mu sync.Mutex
	b.Observe(func(from, to dto.ID, msg dto.Message) {
		mu.Lock()
		defer mu.Unlock()
		switch {
		case from == coordinatorID:
			r.messages[to] = append(r.messages[to], msg.Kind)
		case to == coordinatorID:
			r.messages[from] = append(r.messages[from], msg.Kind)
		}
	})

	ctx := context.Background()
	_, err := b.Endpoint(coordinatorID).Join(dto.RoleCoordinator)
	require.NoError(t, err)
	for id := range votes {
		_, err = b.Endpoint(id).Join(dto.RoleParticipant)
		require.NoError(t, err)
	}

	ps := make(map[dto.ID]*participant.Participant, len(votes))
	for id, ok := range votes {
		p := participant.New(b.Endpoint(id), r.log,
			participant.WithTimeout(timeout),
			participant.WithHooks(hooks.StaticHook(ok)))
		require.NoError(t, p.Init(ctx))
		ps[id] = p
	}

	c := coordinator.New(b.Endpoint(coordinatorID), r.log,
		coordinator.WithTimeout(timeout),
		coordinator.WithFaultInjector(faults))
	require.NoError(t, c.Init(ctx))

	var g errgroup.Group
	for id, p := range ps {
		g.Go(func() error {
			o, err := p.Run(ctx)
			if err != nil {
				return errors.Wrapf(err, "participant %s", id)
			}
			mu.Lock()
			r.participants[id] = o
			mu.Unlock()
			return nil
		})
	}
	g.Go(func() error {
		o, err := c.Run(ctx)
		if o.Crashed {
			// a crashed process neither sends nor receives
			b.Stop(coordinatorID)
		}
		r.coordinator = o
		return err
	})
	require.NoError(t, g.Wait())

	return r
}

func allCommit(ids ...dto.ID) map[dto.ID]bool {
	votes := make(map[dto.ID]bool, len(ids))
	for _, id := range ids {
		votes[id] = true
	}
	return votes
}

func requireAgreement(t *testing.T, r run) dto.State {
	var final dto.State
	for id, o := range r.participants {
		require.True(t, o.State.Final(), "participant %s ended in %s", id, o.State)
		if final == "" {
			final = o.State
		}
		require.Equal(t, final, o.State, "participants disagree")
	}
	return final
}

func TestHappyPath(t *testing.T) {
	r := simulate(t, fault.Never(), allCommit(2, 3, 4))

	require.Equal(t, dto.StateCommit, r.coordinator.State)
	require.Equal(t, dto.StateCommit, requireAgreement(t, r))
	for id := range r.participants {
		require.Equal(t, []dto.Kind{
			dto.KindVoteRequest, dto.KindVoteCommit, dto.KindPrepareCommit, dto.KindReadyCommit, dto.KindGlobalCommit,
		}, r.messages[id])
	}
}

func TestSingleAbortVote(t *testing.T) {
	votes := allCommit(2, 4)
	votes[3] = false
	r := simulate(t, fault.Never(), votes)

	require.Equal(t, dto.StateAbort, r.coordinator.State)
	require.Equal(t, dto.StateAbort, requireAgreement(t, r))
	require.Equal(t, dto.LocalAbort, r.participants[3].Decision)
}

func TestCoordinatorCrashes(t *testing.T) {
	tests := []struct {
		checkpoint dto.State
		final      dto.State
	}{
		{dto.StateInit, dto.StateAbort},
		{dto.StateWait, dto.StateAbort},
		{dto.StatePrecommit, dto.StateCommit},
	}

	for _, tt := range tests {
		t.Run(string(tt.checkpoint), func(t *testing.T) {
			r := simulate(t, fault.At(tt.checkpoint), allCommit(2, 3, 4))

			require.True(t, r.coordinator.Crashed)
			require.Equal(t, tt.final, requireAgreement(t, r))
		})
	}
}

func TestStableLogRecordsEveryTransition(t *testing.T) {
	r := simulate(t, fault.At(dto.StatePrecommit), allCommit(2, 3))

	require.Equal(t,
		[]dto.State{dto.StateInit, dto.StateWait, dto.StatePrecommit},
		r.log.States(dto.RoleCoordinator, coordinatorID))
	require.Equal(t, []dto.State{dto.StateCommit}, r.log.States(dto.RoleCoordinator, 2))
	for _, id := range []dto.ID{2, 3} {
		require.Equal(t,
			[]dto.State{dto.StateInit, dto.StateReady, dto.StatePrecommit, dto.StateCommit},
			r.log.States(dto.RoleParticipant, id))
	}
}

func TestRandomizedRunsAgree(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))

	for i := 0; i < 20; i++ {
		votes := make(map[dto.ID]bool)
		for id := dto.ID(2); id <= 4; id++ {
			votes[id] = rnd.Float64() >= hooks.DefaultFailureProbability
		}
		faults := fault.RandomWithSource(fault.DefaultCrashProbability, rand.NewSource(rnd.Int63()))

		r := simulate(t, faults, votes)
		final := requireAgreement(t, r)

		for id, ok := range votes {
			if !ok {
				// an abort vote never ends in COMMIT
				require.Equal(t, dto.StateAbort, r.participants[id].State)
			}
		}
		if !r.coordinator.Crashed {
			require.Equal(t, r.coordinator.State, final)
		}
	}
}
