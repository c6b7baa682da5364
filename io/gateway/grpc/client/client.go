package client

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/group"
	"github.com/vadiminshakov/threepc/io/gateway/grpc/proto"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
)

// TransportClient talks to the Transport service of one peer.
type TransportClient struct {
	Connection proto.TransportClient
	conn       *grpc.ClientConn
}

// New creates instance of peer client.
// 'addr' is a peer network address (host + port).
func New(addr string) (*TransportClient, error) {
	conn, err := createConnection(addr)
	if err != nil {
		return nil, err
	}
	return &TransportClient{Connection: proto.NewTransportClient(conn), conn: conn}, nil
}

// Deliver puts env into the peer's mailbox.
func (client *TransportClient) Deliver(ctx context.Context, env group.Envelope) error {
	req, err := proto.EnvelopeToPb(env)
	if err != nil {
		return errors.Wrap(err, "failed to encode message")
	}
	_, err = client.Connection.Deliver(ctx, req)
	return err
}

// Outcome queries the terminal outcome of the peer.
func (client *TransportClient) Outcome(ctx context.Context) (dto.Outcome, error) {
	resp, err := client.Connection.Outcome(ctx, &emptypb.Empty{})
	if err != nil {
		return dto.Outcome{}, err
	}
	return proto.OutcomeFromPb(resp), nil
}

func (client *TransportClient) Close() error {
	return client.conn.Close()
}
