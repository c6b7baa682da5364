// Package zmq implements group.Channel over ZeroMQ.
//
// Every process binds a ROUTER socket at its roster address and opens one DEALER
// socket per peer it sends to. Frames carry msgpack-encoded envelopes.
package zmq

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/group"
	"github.com/vadiminshakov/threepc/io/mailbox"
	"github.com/vmihailenco/msgpack/v5"
	"golang.org/x/sync/errgroup"
)

// Dialing a crashed peer must fail well within a protocol receive timeout, so the
// zmq4 defaults (ten retries, 250ms apart) are replaced.
const (
	dialTimeout    = 100 * time.Millisecond
	dialRetry      = 20 * time.Millisecond
	dialMaxRetries = 2
	sendTimeout    = 200 * time.Millisecond
)

var (
	ErrNotRunning = errors.New("channel is not running")
	ErrNotBound   = errors.New("channel is not bound")
)

// frame is the wire form of one envelope.
type frame struct {
	From  uint64 `msgpack:"from"`
	Kind  string `msgpack:"kind"`
	State string `msgpack:"state,omitempty"`
}

// Channel is a ZeroMQ-backed group channel of one process.
type Channel struct {
	self   dto.ID
	roster group.Roster

	ctx    context.Context
	cancel context.CancelFunc

	router  zmq4.Socket            // ROUTER socket for receiving
	dealers map[dto.ID]zmq4.Socket // DEALER sockets for sending (per peer)
	inbox   *mailbox.Mailbox

	mu      sync.RWMutex
	running bool
	bound   bool
	wg      sync.WaitGroup
}

var _ group.Channel = (*Channel)(nil)

func New(self dto.ID, roster group.Roster) *Channel {
	ctx, cancel := context.WithCancel(context.Background())

	return &Channel{
		self:    self,
		roster:  roster,
		ctx:     ctx,
		cancel:  cancel,
		dealers: make(map[dto.ID]zmq4.Socket),
		inbox:   mailbox.New(),
	}
}

// Start binds the ROUTER socket and begins receiving.
func (c *Channel) Start() error {
	m, ok := c.roster.Lookup(c.self)
	if !ok {
		return errors.Errorf("process %s is not in the roster", c.self)
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return errors.New("channel already running")
	}

	c.router = zmq4.NewRouter(c.ctx, zmq4.WithID(zmq4.SocketIdentity(c.self.String())))
	if err := c.router.Listen(endpoint(m.Addr)); err != nil {
		c.mu.Unlock()
		return errors.Wrap(err, "failed to bind router")
	}
	c.running = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.receiverLoop()

	log.Infof("zmq: process %s listening on %s", c.self, endpoint(m.Addr))
	return nil
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

func (c *Channel) SendTo(_ context.Context, recipients []dto.ID, msg dto.Message) error {
	c.mu.RLock()
	running := c.running
	c.mu.RUnlock()
	if !running {
		return ErrNotRunning
	}

	data, err := msgpack.Marshal(frame{From: uint64(c.self), Kind: msg.Kind.String(), State: string(msg.State)})
	if err != nil {
		return errors.Wrap(err, "failed to marshal message")
	}

	// peers are served concurrently so one unreachable recipient does not delay the rest
	var g errgroup.Group
	for _, to := range recipients {
		if to == c.self {
			c.inbox.Put(group.Envelope{From: c.self, Message: msg})
			continue
		}

		g.Go(func() error {
			c.sendOne(to, msg, data)
			return nil
		})
	}
	_ = g.Wait()

	return nil
}

func (c *Channel) sendOne(to dto.ID, msg dto.Message, data []byte) {
	dealer, err := c.getOrCreateDealer(to)
	if err != nil {
		log.Warnf("zmq: cannot reach %s, dropping %s: %v", to, msg, err)
		return
	}
	if err = dealer.Send(zmq4.NewMsg(data)); err != nil {
		log.Warnf("zmq: failed to send %s to %s: %v", msg, to, err)
		c.dropDealer(to, dealer)
	}
}

func (c *Channel) ReceiveFrom(ctx context.Context, senders []dto.ID, timeout time.Duration) (group.Envelope, bool, error) {
	c.mu.RLock()
	bound := c.bound
	c.mu.RUnlock()
	if !bound {
		return group.Envelope{}, false, ErrNotBound
	}

	return c.inbox.Take(ctx, senders, timeout)
}

// Close stops receiving and closes every socket.
func (c *Channel) Close() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.cancel()

	var firstErr error
	if err := c.router.Close(); err != nil {
		firstErr = errors.Wrap(err, "close router")
	}

	c.mu.Lock()
	for id, dealer := range c.dealers {
		if err := dealer.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "close dealer to %s", id)
		}
		delete(c.dealers, id)
	}
	c.mu.Unlock()

	c.wg.Wait()
	c.inbox.Close()

	return firstErr
}

// getOrCreateDealer dials outside the channel lock; a failed dial is not cached, so the
// next send retries it.
func (c *Channel) getOrCreateDealer(id dto.ID) (zmq4.Socket, error) {
	c.mu.RLock()
	dealer, ok := c.dealers[id]
	c.mu.RUnlock()
	if ok {
		return dealer, nil
	}

	m, ok := c.roster.Lookup(id)
	if !ok {
		return nil, errors.Errorf("process %s is not in the roster", id)
	}

	dealer = zmq4.NewDealer(c.ctx,
		zmq4.WithID(zmq4.SocketIdentity(c.self.String())),
		zmq4.WithDialerTimeout(dialTimeout),
		zmq4.WithDialerRetry(dialRetry),
		zmq4.WithDialerMaxRetries(dialMaxRetries),
		zmq4.WithTimeout(sendTimeout),
	)
	if err := dealer.Dial(endpoint(m.Addr)); err != nil {
		_ = dealer.Close()
		return nil, errors.Wrapf(err, "failed to connect to %s", m.Addr)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		_ = dealer.Close()
		return nil, ErrNotRunning
	}
	if existing, ok := c.dealers[id]; ok {
		_ = dealer.Close()
		return existing, nil
	}
	c.dealers[id] = dealer
	return dealer, nil
}

func (c *Channel) dropDealer(id dto.ID, dealer zmq4.Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.dealers[id] == dealer {
		delete(c.dealers, id)
		_ = dealer.Close()
	}
}

// receiverLoop continuously receives messages from the ROUTER socket.
func (c *Channel) receiverLoop() {
	defer c.wg.Done()

	for {
		msg, err := c.router.Recv()
		if err != nil {
			select {
			case <-c.ctx.Done():
				return
			default:
				continue
			}
		}
		if len(msg.Frames) == 0 {
			continue
		}

		// the ROUTER prepends the sender identity; the payload is the last frame
		env, err := decode(msg.Frames[len(msg.Frames)-1])
		if err != nil {
			log.Warnf("zmq: process %s dropped malformed frame: %v", c.self, err)
			continue
		}
		c.inbox.Put(env)
	}
}

func decode(data []byte) (group.Envelope, error) {
	var f frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return group.Envelope{}, errors.Wrap(err, "unmarshal frame")
	}

	kind, err := dto.ParseKind(f.Kind)
	if err != nil {
		return group.Envelope{}, err
	}

	msg := dto.NewMessage(kind)
	if kind == dto.KindStateAnnouncement {
		state, err := dto.ParseState(f.State)
		if err != nil {
			return group.Envelope{}, err
		}
		msg = dto.Announce(state)
	}

	return group.Envelope{From: dto.ID(f.From), Message: msg}, nil
}

func endpoint(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "tcp://" + addr
}
