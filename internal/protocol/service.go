package protocol

import (
	"context"

	"google.golang.org/grpc"
)

const (
	// ServiceName is the fully-qualified gRPC service name.
	ServiceName = "drowsewatch.session.v1.SessionService"

	// MethodConnect is the bidirectional push stream.
	MethodConnect = "/" + ServiceName + "/Connect"
)

// SessionServiceServer is implemented by the reference server.
type SessionServiceServer interface {
	Connect(stream ConnectServer) error
}

// ConnectServer is the server side of the push stream.
type ConnectServer interface {
	Send(*Event) error
	Recv() (*StatusChange, error)
	grpc.ServerStream
}

// ConnectClient is the client side of the push stream.
type ConnectClient interface {
	Send(*StatusChange) error
	Recv() (*Event, error)
	grpc.ClientStream
}

var connectStreamDesc = grpc.StreamDesc{
	StreamName:    "Connect",
	ServerStreams: true,
	ClientStreams: true,
}

// Connect opens the push stream on conn.
func Connect(ctx context.Context, conn grpc.ClientConnInterface, opts ...grpc.CallOption) (ConnectClient, error) {
	opts = append(opts, grpc.CallContentSubtype(CodecName))
	stream, err := conn.NewStream(ctx, &connectStreamDesc, MethodConnect, opts...)
	if err != nil {
		return nil, err
	}
	return &connectClient{ClientStream: stream}, nil
}

type connectClient struct {
	grpc.ClientStream
}

func (c *connectClient) Send(m *StatusChange) error {
	return c.ClientStream.SendMsg(m)
}

func (c *connectClient) Recv() (*Event, error) {
	m := &Event{}
	if err := c.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

type connectServer struct {
	grpc.ServerStream
}

func (s *connectServer) Send(m *Event) error {
	return s.ServerStream.SendMsg(m)
}

func (s *connectServer) Recv() (*StatusChange, error) {
	m := &StatusChange{}
	if err := s.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

// RegisterSessionServiceServer registers impl on server.
func RegisterSessionServiceServer(server grpc.ServiceRegistrar, impl SessionServiceServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*SessionServiceServer)(nil),
		Methods:     []grpc.MethodDesc{},
		Streams: []grpc.StreamDesc{
			{
				StreamName:    "Connect",
				ServerStreams: true,
				ClientStreams: true,
				Handler: func(srv any, stream grpc.ServerStream) error {
					return srv.(SessionServiceServer).Connect(&connectServer{ServerStream: stream})
				},
			},
		},
		Metadata: "drowsewatch/session/v1/session.proto",
	}, impl)
}
