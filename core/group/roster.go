package group

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/threepc/core/dto"
)

// Member is one process of a statically configured group.
type Member struct {
	ID   dto.ID
	Role dto.Role
	Addr string
}

// Roster is the static membership used by networked channels.
type Roster []Member

// ParseMember parses "id=host:port".
func ParseMember(role dto.Role, s string) (Member, error) {
	idStr, addr, ok := strings.Cut(strings.TrimSpace(s), "=")
	if !ok || addr == "" {
		return Member{}, errors.Errorf("member %q must look like id=host:port", s)
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return Member{}, errors.Wrapf(err, "invalid id in member %q", s)
	}

	return Member{ID: dto.ID(id), Role: role, Addr: addr}, nil
}

// Subgroup returns the sorted ids of role.
func (r Roster) Subgroup(role dto.Role) []dto.ID {
	var ids []dto.ID
	for _, m := range r {
		if m.Role == role {
			ids = append(ids, m.ID)
		}
	}
	return Sorted(ids)
}

// Lookup returns the member with the given id.
func (r Roster) Lookup(id dto.ID) (Member, bool) {
	for _, m := range r {
		if m.ID == id {
			return m, true
		}
	}
	return Member{}, false
}

// Validate checks that ids are unique and that there is exactly one coordinator.
func (r Roster) Validate() error {
	seen := make(map[dto.ID]struct{}, len(r))
	coordinators := 0
	for _, m := range r {
		if _, ok := seen[m.ID]; ok {
			return errors.Errorf("duplicate member id %s", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Role == dto.RoleCoordinator {
			coordinators++
		}
	}
	if coordinators != 1 {
		return errors.Errorf("roster must have exactly one coordinator, got %d", coordinators)
	}
	return nil
}
