// Package mailbox implements the receive side shared by all transports: a FIFO queue
// that can be drained selectively by sender with a bounded wait.
package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/group"
)

// ErrClosed is returned by Take once the mailbox is closed and drained for the senders.
var ErrClosed = errors.New("mailbox closed")

// Mailbox buffers received envelopes.
type Mailbox struct {
	mu      sync.Mutex
	queue   []group.Envelope
	arrived chan struct{}
	closed  bool
}

func New() *Mailbox {
	return &Mailbox{arrived: make(chan struct{})}
}

// Put enqueues env and wakes up waiting receivers. Envelopes put after Close are dropped.
func (m *Mailbox) Put(env group.Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.queue = append(m.queue, env)
	close(m.arrived)
	m.arrived = make(chan struct{})
}

// Take removes and returns the oldest envelope sent by one of senders. It reports false
// if none arrived within timeout.
func (m *Mailbox) Take(ctx context.Context, senders []dto.ID, timeout time.Duration) (group.Envelope, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		m.mu.Lock()
		if env, ok := m.takeLocked(senders); ok {
			m.mu.Unlock()
			return env, true, nil
		}
		if m.closed {
			m.mu.Unlock()
			return group.Envelope{}, false, ErrClosed
		}
		wait := m.arrived
		m.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			return group.Envelope{}, false, nil
		case <-ctx.Done():
			return group.Envelope{}, false, ctx.Err()
		}
	}
}

func (m *Mailbox) takeLocked(senders []dto.ID) (group.Envelope, bool) {
	for i, env := range m.queue {
		if group.Contains(senders, env.From) {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return env, true
		}
	}
	return group.Envelope{}, false
}

// Len returns the number of queued envelopes.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close wakes up all receivers; further Puts are dropped.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	close(m.arrived)
}
