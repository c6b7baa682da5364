// Package channel implements group.Channel on top of the gRPC transport.
//
// Membership is static. Messages to a peer that cannot be reached are dropped, the
// same way a crashed process would never see them.
package channel

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/group"
	"github.com/vadiminshakov/threepc/io/gateway/grpc/client"
	"github.com/vadiminshakov/threepc/io/gateway/grpc/server"
)

// DefaultSendTimeout bounds a single delivery to a peer.
const DefaultSendTimeout = 500 * time.Millisecond

type Channel struct {
	self        dto.ID
	roster      group.Roster
	server      *server.Server
	sendTimeout time.Duration

	mu      sync.Mutex
	clients map[dto.ID]*client.TransportClient
	bound   bool
}

var _ group.Channel = (*Channel)(nil)

// New creates the channel of process self. srv must already be running.
func New(self dto.ID, roster group.Roster, srv *server.Server) *Channel {
	return &Channel{
		self:        self,
		roster:      roster,
		server:      srv,
		sendTimeout: DefaultSendTimeout,
		clients:     make(map[dto.ID]*client.TransportClient),
	}
}

func (c *Channel) Join(role dto.Role) (dto.ID, error) {
	m, ok := c.roster.Lookup(c.self)
	if !ok {
		return 0, errors.Errorf("process %s is not in the roster", c.self)
	}
	if m.Role != role {
		return 0, errors.Errorf("process %s is configured as %s, not %s", c.self, m.Role, role)
	}
	return c.self, nil
}

func (c *Channel) Bind(id dto.ID) error {
	if id != c.self {
		return errors.Errorf("channel of %s cannot bind identity %s", c.self, id)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.bound = true
	return nil
}

func (c *Channel) Subgroup(role dto.Role) ([]dto.ID, error) {
	return c.roster.Subgroup(role), nil
}

func (c *Channel) SendTo(ctx context.Context, recipients []dto.ID, msg dto.Message) error {
	env := group.Envelope{From: c.self, Message: msg}

	for _, to := range recipients {
		if to == c.self {
			c.server.Inbox().Put(env)
			continue
		}

		cl, err := c.client(to)
		if err != nil {
			return err
		}

		sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
		err = cl.Deliver(sendCtx, env)
		cancel()
		if err != nil {
			log.Warnf("grpc: failed to deliver %s from %s to %s: %v", msg, c.self, to, err)
		}
	}

	return nil
}

func (c *Channel) ReceiveFrom(ctx context.Context, senders []dto.ID, timeout time.Duration) (group.Envelope, bool, error) {
	c.mu.Lock()
	bound := c.bound
	c.mu.Unlock()
	if !bound {
		return group.Envelope{}, false, errors.Errorf("channel of %s is not bound", c.self)
	}

	return c.server.Inbox().Take(ctx, senders, timeout)
}

// Close closes the connections to all peers.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for id, cl := range c.clients {
		if err := cl.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close connection to %s", id)
		}
		delete(c.clients, id)
	}
	return firstErr
}

func (c *Channel) client(id dto.ID) (*client.TransportClient, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cl, ok := c.clients[id]; ok {
		return cl, nil
	}

	m, ok := c.roster.Lookup(id)
	if !ok {
		return nil, errors.Errorf("process %s is not in the roster", id)
	}

	cl, err := client.New(m.Addr)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", id)
	}
	c.clients[id] = cl
	return cl, nil
}
