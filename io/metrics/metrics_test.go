package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/threepc/core/dto"
)

func TestMetrics_Counters(t *testing.T) {
	m := New("test")

	m.StateEntered(dto.RoleCoordinator, dto.StateWait)
	m.StateEntered(dto.RoleCoordinator, dto.StateWait)
	m.Sent(dto.RoleCoordinator, dto.NewMessage(dto.KindVoteRequest), 3)
	m.Timeout(dto.RoleParticipant, dto.StateReady)
	m.ElectionStarted()
	m.Terminated(dto.Outcome{Role: dto.RoleParticipant, State: dto.StateCommit})

	require.Equal(t, 2.0, testutil.ToFloat64(m.StateEntries.WithLabelValues("coordinator", "WAIT")))
	require.Equal(t, 3.0, testutil.ToFloat64(m.MessagesSent.WithLabelValues("coordinator", "VOTE_REQUEST")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Timeouts.WithLabelValues("participant", "READY")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Elections))
	require.Equal(t, 1.0, testutil.ToFloat64(m.Outcomes.WithLabelValues("participant", "COMMIT")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.StateEntered(dto.RoleCoordinator, dto.StateInit)
		m.Crashed(dto.StateInit)
		m.Decided(dto.LocalAbort)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New("threepc")
	m.Crashed(dto.StatePrecommit)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `threepc_simulated_crashes_total{state="PRECOMMIT"} 1`)
}
