// Package proto describes the gRPC transport service. Messages use the protobuf
// well-known types, so no generated code is required.
package proto

import (
	"context"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/threepc/core/dto"
	"github.com/vadiminshakov/threepc/core/group"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ServiceName   = "threepc.Transport"
	DeliverMethod = "/threepc.Transport/Deliver"
	OutcomeMethod = "/threepc.Transport/Outcome"
)

// TransportServer is the server API for the Transport service.
type TransportServer interface {
	// Deliver enqueues one protocol message in the receiver's mailbox.
	Deliver(context.Context, *structpb.Struct) (*emptypb.Empty, error)
	// Outcome returns the terminal outcome of the node's role.
	Outcome(context.Context, *emptypb.Empty) (*structpb.Struct, error)
}

// TransportClient is the client API for the Transport service.
type TransportClient interface {
	Deliver(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error)
	Outcome(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error)
}

type transportClient struct {
	cc grpc.ClientConnInterface
}

func NewTransportClient(cc grpc.ClientConnInterface) TransportClient {
	return &transportClient{cc}
}

func (c *transportClient) Deliver(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	out := new(emptypb.Empty)
	if err := c.cc.Invoke(ctx, DeliverMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *transportClient) Outcome(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, OutcomeMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func RegisterTransportServer(s grpc.ServiceRegistrar, srv TransportServer) {
	s.RegisterService(&TransportServiceDesc, srv)
}

func deliverHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: DeliverMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransportServer).Deliver(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func outcomeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(TransportServer).Outcome(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: OutcomeMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(TransportServer).Outcome(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// TransportServiceDesc is the grpc.ServiceDesc for the Transport service.
var TransportServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TransportServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Deliver", Handler: deliverHandler},
		{MethodName: "Outcome", Handler: outcomeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "threepc/transport",
}

// EnvelopeToPb encodes an envelope as {from, kind, state}.
func EnvelopeToPb(env group.Envelope) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"from":  float64(env.From),
		"kind":  env.Message.Kind.String(),
		"state": string(env.Message.State),
	})
}

// EnvelopeFromPb decodes an envelope produced by EnvelopeToPb.
func EnvelopeFromPb(s *structpb.Struct) (group.Envelope, error) {
	fields := s.GetFields()

	kind, err := dto.ParseKind(fields["kind"].GetStringValue())
	if err != nil {
		return group.Envelope{}, err
	}

	msg := dto.NewMessage(kind)
	if kind == dto.KindStateAnnouncement {
		state, err := dto.ParseState(fields["state"].GetStringValue())
		if err != nil {
			return group.Envelope{}, errors.Wrap(err, "invalid announced state")
		}
		msg = dto.Announce(state)
	}

	return group.Envelope{From: dto.ID(fields["from"].GetNumberValue()), Message: msg}, nil
}

func OutcomeToPb(o dto.Outcome) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"role":     string(o.Role),
		"id":       float64(o.ID),
		"state":    string(o.State),
		"decision": string(o.Decision),
		"reason":   o.Reason,
		"crashed":  o.Crashed,
	})
}

func OutcomeFromPb(s *structpb.Struct) dto.Outcome {
	fields := s.GetFields()
	return dto.Outcome{
		Role:     dto.Role(fields["role"].GetStringValue()),
		ID:       dto.ID(fields["id"].GetNumberValue()),
		State:    dto.State(fields["state"].GetStringValue()),
		Decision: dto.Decision(fields["decision"].GetStringValue()),
		Reason:   fields["reason"].GetStringValue(),
		Crashed:  fields["crashed"].GetBoolValue(),
	}
}
