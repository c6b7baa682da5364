// Package group describes the group-messaging substrate and the stable log consumed
// by the protocol roles.
package group

import (
	"context"
	"sort"
	"time"

	"github.com/vadiminshakov/threepc/core/dto"
)

// Envelope carries a received message together with the identity of its sender.
type Envelope struct {
	From    dto.ID
	Message dto.Message
}

// Channel is the group-messaging substrate.
//
// ReceiveFrom returns the first queued message sent by any of the senders. The boolean
// result is false when the timeout expired; this is an expected outcome, not an error.
// Messages from other senders stay queued for later receives.
//
//go:generate mockgen -destination=../../mocks/mock_channel.go -package=mocks . Channel
type Channel interface {
	Join(role dto.Role) (dto.ID, error)
	Bind(id dto.ID) error
	Subgroup(role dto.Role) ([]dto.ID, error)
	SendTo(ctx context.Context, recipients []dto.ID, msg dto.Message) error
	ReceiveFrom(ctx context.Context, senders []dto.ID, timeout time.Duration) (Envelope, bool, error)
}

// StableLog receives one record per state transition. It is write-only.
//
//go:generate mockgen -destination=../../mocks/mock_stablelog.go -package=mocks . StableLog
type StableLog interface {
	Append(role dto.Role, id dto.ID, state dto.State) error
}

// Sorted returns a sorted copy of ids.
func Sorted(ids []dto.ID) []dto.ID {
	out := make([]dto.ID, len(ids))
	copy(out, ids)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains checks that ids includes id.
func Contains(ids []dto.ID, id dto.ID) bool {
	for i := range ids {
		if ids[i] == id {
			return true
		}
	}
	return false
}
