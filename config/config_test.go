package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/group"
)

func TestParse_Flags(t *testing.T) {
	conf, err := Parse([]string{
		"-role=participant", "-id=3",
		"-coordinator=1=127.0.0.1:3000",
		"-participants=2=127.0.0.1:3001, 3=127.0.0.1:3002",
		"-timeout=250", "-transport=zmq",
	})
	require.NoError(t, err)

	require.Equal(t, "participant", conf.Role)
	require.Equal(t, []string{"2=127.0.0.1:3001", "3=127.0.0.1:3002"}, conf.Participants)
	require.Equal(t, 250*time.Millisecond, conf.TimeoutDuration())
	require.Equal(t, TransportZMQ, conf.Transport)
	require.Equal(t, "127.0.0.1:3002", conf.ListenAddr())
	require.Equal(t, []string{"127.0.0.1"}, conf.Whitelist)

	roster, err := conf.Roster()
	require.NoError(t, err)
	require.Equal(t, group.Roster{
		{ID: 1, Role: dto.RoleCoordinator, Addr: "127.0.0.1:3000"},
		{ID: 2, Role: dto.RoleParticipant, Addr: "127.0.0.1:3001"},
		{ID: 3, Role: dto.RoleParticipant, Addr: "127.0.0.1:3002"},
	}, roster)
}

func TestParse_YAMLWithFlagOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
role: coordinator
id: 1
coordinator: 1=127.0.0.1:3000
participants:
  - 2=127.0.0.1:3001
timeout: 2000
crash_probability: 0
metrics_addr: 127.0.0.1:9100
`), 0o600))

	conf, err := Parse([]string{"-config=" + path, "-timeout=300"})
	require.NoError(t, err)

	require.Equal(t, "coordinator", conf.Role)
	require.Equal(t, uint64(300), conf.Timeout)
	require.Zero(t, conf.CrashProbability)
	require.Equal(t, "127.0.0.1:9100", conf.MetricsAddr)
	require.Equal(t, TransportGRPC, conf.Transport)
}

func TestParse_Invalid(t *testing.T) {
	base := []string{"-id=2", "-coordinator=1=127.0.0.1:3000", "-participants=2=127.0.0.1:3001"}

	tests := map[string][]string{
		"unknown role":      append([]string{"-role=follower"}, base...),
		"unknown transport": append([]string{"-transport=udp"}, base...),
		"bad probability":   append([]string{"-crash=1.5"}, base...),
		"missing id":        {"-coordinator=1=127.0.0.1:3000"},
		"not in roster":     {"-id=9", "-coordinator=1=127.0.0.1:3000"},
		"wrong role":        {"-id=1", "-coordinator=1=127.0.0.1:3000"},
		"bad member":        {"-id=2", "-coordinator=1=127.0.0.1:3000", "-participants=two"},
		"duplicate id":      {"-id=1", "-role=coordinator", "-coordinator=1=a:1", "-participants=1=b:2"},
		"no coordinator":    {"-id=2", "-participants=2=127.0.0.1:3001"},
	}

	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(args)
			require.Error(t, err)
		})
	}
}
