//go:build chaos

// To run this tests you need to install toxiproxy
//
//	# macOS/Linux
//	curl -L -o toxiproxy-server https://github.com/Shopify/toxiproxy/releases/download/v2.12.0/toxiproxy-server-darwin-amd64
//	chmod +x toxiproxy-server
//	mv toxiproxy-server ~/go/bin/
//
// And then run `go test -tags chaos .`
package main

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/threepc/config"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/node"
)

const TOXIPROXY_URL = "http://localhost:8474"

func freeAddr(t *testing.T) string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// chaosCluster runs a coordinator and two participants over gRPC. The coordinator
// reaches participant 3 through toxiproxy; poison applies toxics to that proxy.
func chaosCluster(t *testing.T, poison func(h *chaosTestHelper, upstream string) error) map[dto.ID]dto.Outcome {
	h := newChaosTestHelper(TOXIPROXY_URL)
	defer h.cleanup()

	coordAddr, addr2, addr3 := freeAddr(t), freeAddr(t), freeAddr(t)
	proxied, err := h.setupProxy(addr3, freeAddr(t))
	require.NoError(t, err)
	require.NoError(t, poison(h, addr3))

	conf := func(role dto.Role, id uint64, participants ...string) *config.Config {
		dir := t.TempDir()
		return &config.Config{
			Role:         string(role),
			ID:           id,
			Coordinator:  "1=" + coordAddr,
			Participants: participants,
			Transport:    config.TransportGRPC,
			Timeout:      1000,
			WALDir:       filepath.Join(dir, "wal"),
			DBPath:       filepath.Join(dir, "badger"),
			Whitelist:    []string{"127.0.0.1"},
		}
	}
	direct := []string{"2=" + addr2, "3=" + addr3}

	ctx := context.Background()
	outcomes := make(chan dto.Outcome, 2)
	for id := uint64(2); id <= 3; id++ {
		c := conf(dto.RoleParticipant, id, direct...)
		go func() {
			o, err := node.Run(ctx, c)
			assert.NoError(t, err)
			outcomes <- o
		}()
	}

	time.Sleep(200 * time.Millisecond)
	co, err := node.Run(ctx, conf(dto.RoleCoordinator, 1, "2="+addr2, fmt.Sprintf("3=%s", proxied)))
	require.NoError(t, err)

	result := map[dto.ID]dto.Outcome{co.ID: co}
	for i := 0; i < 2; i++ {
		o := <-outcomes
		result[o.ID] = o
	}
	return result
}

func TestChaosSlowParticipant(t *testing.T) {
	outcomes := chaosCluster(t, func(h *chaosTestHelper, upstream string) error {
		return h.addLatency(upstream, 100*time.Millisecond)
	})

	for id, o := range outcomes {
		require.Equal(t, dto.StateCommit, o.State, "process %s", id)
	}
}

func TestChaosParticipantUnreachable(t *testing.T) {
	outcomes := chaosCluster(t, func(h *chaosTestHelper, upstream string) error {
		return h.addTimeout(upstream, 0)
	})

	require.Equal(t, "timeout", outcomes[1].Reason)
	for id, o := range outcomes {
		require.Equal(t, dto.StateAbort, o.State, "process %s", id)
	}
	require.Equal(t, "coordinator crash in INIT", outcomes[3].Reason)
}
