package server

import (
	"context"
	"net"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/io/gateway/grpc/proto"
	"github.com/vadiminshakov/threepc/io/mailbox"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

type Option func(server *Server)

// WithWhitelist restricts callers to the given hosts.
func WithWhitelist(hosts ...string) Option {
	return func(server *Server) {
		server.Whitelist = append(server.Whitelist, hosts...)
	}
}

// Server receives protocol messages of one node and puts them into its mailbox.
type Server struct {
	Addr       string
	Whitelist  []string
	GRPCServer *grpc.Server
	inbox      *mailbox.Mailbox

	mu      sync.RWMutex
	outcome *dto.Outcome
}

var _ proto.TransportServer = (*Server)(nil)

// New fabric func for Server
func New(addr string, opts ...Option) *Server {
	server := &Server{Addr: addr, inbox: mailbox.New()}
	for _, option := range opts {
		option(server)
	}
	return server
}

func (s *Server) Deliver(ctx context.Context, req *structpb.Struct) (*emptypb.Empty, error) {
	env, err := proto.EnvelopeFromPb(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "malformed message: %v", err)
	}

	log.Debugf("grpc: %s received %s from %s", s.Addr, env.Message, env.From)
	s.inbox.Put(env)
	return &emptypb.Empty{}, nil
}

func (s *Server) Outcome(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.outcome == nil {
		return nil, status.Error(codes.Unavailable, "protocol is still running")
	}
	return proto.OutcomeToPb(*s.outcome)
}

// SetOutcome publishes the terminal outcome served by Outcome.
func (s *Server) SetOutcome(o dto.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcome = &o
}

// Inbox returns the mailbox filled by Deliver.
func (s *Server) Inbox() *mailbox.Mailbox {
	return s.inbox
}

// Run starts non-blocking GRPC server. Addr is updated with the bound address.
func (s *Server) Run(opts ...grpc.UnaryServerInterceptor) error {
	if len(s.Whitelist) > 0 {
		opts = append([]grpc.UnaryServerInterceptor{WhiteListChecker}, opts...)
	}
	s.GRPCServer = grpc.NewServer(grpc.ChainUnaryInterceptor(opts...))
	proto.RegisterTransportServer(s.GRPCServer, s)

	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.Addr)
	}
	s.Addr = l.Addr().String()
	log.Infof("listening on tcp://%s", s.Addr)

	go func() {
		if err := s.GRPCServer.Serve(l); err != nil {
			log.Errorf("grpc server on %s stopped: %v", s.Addr, err)
		}
	}()

	return nil
}

// Stop stops server
func (s *Server) Stop() {
	log.Info("stopping server")
	if s.GRPCServer != nil {
		s.GRPCServer.GracefulStop()
	}
	s.inbox.Close()
	log.Info("server stopped")
}
