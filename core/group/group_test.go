package group

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/threepc/core/dto"
)

func TestSortedCopies(t *testing.T) {
	ids := []dto.ID{3, 1, 2}
	require.Equal(t, []dto.ID{1, 2, 3}, Sorted(ids))
	require.Equal(t, []dto.ID{3, 1, 2}, ids)
	require.Empty(t, Sorted(nil))
}

func TestContains(t *testing.T) {
	require.True(t, Contains([]dto.ID{1, 2}, 2))
	require.False(t, Contains([]dto.ID{1, 2}, 3))
	require.False(t, Contains(nil, 1))
}

func TestParseMember(t *testing.T) {
	m, err := ParseMember(dto.RoleParticipant, " 7=127.0.0.1:3007 ")
	require.NoError(t, err)
	require.Equal(t, Member{ID: 7, Role: dto.RoleParticipant, Addr: "127.0.0.1:3007"}, m)

	for _, bad := range []string{"", "7", "7=", "x=127.0.0.1:1", "-1=127.0.0.1:1"} {
		_, err = ParseMember(dto.RoleParticipant, bad)
		require.Error(t, err, bad)
	}
}

func TestRoster(t *testing.T) {
	r := Roster{
		{ID: 1, Role: dto.RoleCoordinator, Addr: "a:1"},
		{ID: 4, Role: dto.RoleParticipant, Addr: "a:4"},
		{ID: 2, Role: dto.RoleParticipant, Addr: "a:2"},
	}
	require.NoError(t, r.Validate())
	require.Equal(t, []dto.ID{2, 4}, r.Subgroup(dto.RoleParticipant))
	require.Equal(t, []dto.ID{1}, r.Subgroup(dto.RoleCoordinator))

	m, ok := r.Lookup(4)
	require.True(t, ok)
	require.Equal(t, "a:4", m.Addr)
	_, ok = r.Lookup(9)
	require.False(t, ok)

	require.Error(t, append(r, Member{ID: 2, Role: dto.RoleParticipant}).Validate())
	require.Error(t, r[1:].Validate())
	require.Error(t, append(r, Member{ID: 5, Role: dto.RoleCoordinator}).Validate())
}
