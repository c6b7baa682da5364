// Package bus is an in-process group-messaging substrate. Every endpoint models one
// process; delivery is immediate and ordered per sender.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/group"
	"github.com/vadiminshakov/threepc/io/mailbox"
)

// ErrNotBound is returned when an endpoint receives before binding its mailbox.
var ErrNotBound = errors.New("endpoint is not bound")

// Observer is notified about every delivered message.
type Observer func(from, to dto.ID, msg dto.Message)

// Bus connects in-process endpoints.
type Bus struct {
	mu        sync.RWMutex
	groups    map[dto.Role][]dto.ID
	boxes     map[dto.ID]*mailbox.Mailbox
	down      map[dto.ID]struct{}
	observers []Observer
}

func New() *Bus {
	return &Bus{
		groups: make(map[dto.Role][]dto.ID),
		boxes:  make(map[dto.ID]*mailbox.Mailbox),
		down:   make(map[dto.ID]struct{}),
	}
}

// Observe registers fn to be called for every delivered message.
func (b *Bus) Observe(fn Observer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observers = append(b.observers, fn)
}

// Endpoint returns the channel of the process with the given identity.
func (b *Bus) Endpoint(id dto.ID) *Endpoint {
	return &Endpoint{bus: b, id: id}
}

// Stop makes id stop sending and receiving, as a crashed process would.
func (b *Bus) Stop(id dto.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.down[id] = struct{}{}
	if box, ok := b.boxes[id]; ok {
		box.Close()
	}
}

func (b *Bus) join(role dto.Role, id dto.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if group.Contains(b.groups[role], id) {
		return
	}
	b.groups[role] = append(b.groups[role], id)
}

func (b *Bus) bind(id dto.ID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.boxes[id]; !ok {
		b.boxes[id] = mailbox.New()
	}
}

func (b *Bus) subgroup(role dto.Role) []dto.ID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return group.Sorted(b.groups[role])
}

func (b *Bus) deliver(from dto.ID, recipients []dto.ID, msg dto.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.down[from]; ok {
		return
	}

	for _, to := range recipients {
		box, ok := b.boxes[to]
		if !ok {
			log.Debugf("bus: no process %s bound, dropping %s from %s", to, msg, from)
			continue
		}
		box.Put(group.Envelope{From: from, Message: msg})
		for _, observe := range b.observers {
			observe(from, to, msg)
		}
	}
}

func (b *Bus) mailbox(id dto.ID) (*mailbox.Mailbox, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	box, ok := b.boxes[id]
	return box, ok
}

// Endpoint is the Channel of one process.
type Endpoint struct {
	bus *Bus
	id  dto.ID
}

var _ group.Channel = (*Endpoint)(nil)

func (e *Endpoint) Join(role dto.Role) (dto.ID, error) {
	e.bus.join(role, e.id)
	return e.id, nil
}

func (e *Endpoint) Bind(id dto.ID) error {
	if id != e.id {
		return errors.Errorf("endpoint %s cannot bind identity %s", e.id, id)
	}
	e.bus.bind(id)
	return nil
}

func (e *Endpoint) Subgroup(role dto.Role) ([]dto.ID, error) {
	return e.bus.subgroup(role), nil
}

func (e *Endpoint) SendTo(_ context.Context, recipients []dto.ID, msg dto.Message) error {
	e.bus.deliver(e.id, recipients, msg)
	return nil
}

func (e *Endpoint) ReceiveFrom(ctx context.Context, senders []dto.ID, timeout time.Duration) (group.Envelope, bool, error) {
	box, ok := e.bus.mailbox(e.id)
	if !ok {
		return group.Envelope{}, false, ErrNotBound
	}
	return box.Take(ctx, senders, timeout)
}
