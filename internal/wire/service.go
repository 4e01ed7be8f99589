package wire

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully-qualified gRPC service name, preserved across
// versions with stable method numbering.
const ServiceName = "federator.v1.StreamFederationService"

// Server is the interface a producer-side implementation satisfies. It
// mirrors what protoc-gen-go-grpc would generate for the three RPCs this
// service exposes.
type Server interface {
	// GetRecords streams matching records for req.Topic starting at
	// req.Offset until cancellation or clean end-of-stream.
	GetRecords(req *TopicRequest, stream RecordStream) error
	// GetFiles streams file chunks and warnings for req.Topic starting at
	// req.StartSequenceID.
	GetFiles(req *FileStreamRequest, stream FileStream) error
	// GetTopics is the one unary call on this service: it lists the
	// topics the authenticated caller may open streams for.
	GetTopics(ctx context.Context, req *APIRequest) (*APITopics, error)
}

// RecordStream is the server-side handle for sending RecordMessages; it is
// satisfied by grpc.ServerStream plus the generated Send method, written
// out by hand here in place of protoc-gen-go-grpc output.
type RecordStream interface {
	Send(*RecordMessage) error
	grpc.ServerStream
}

// FileStream is the server-side handle for sending FileStreamEvents.
type FileStream interface {
	Send(*FileStreamEvent) error
	grpc.ServerStream
}

type recordStreamServer struct{ grpc.ServerStream }

func (s *recordStreamServer) Send(m *RecordMessage) error { return s.ServerStream.SendMsg(m) }

type fileStreamServer struct{ grpc.ServerStream }

func (s *fileStreamServer) Send(m *FileStreamEvent) error { return s.ServerStream.SendMsg(m) }

func getRecordsHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(TopicRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(Server).GetRecords(req, &recordStreamServer{stream})
}

func getFilesHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(FileStreamRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(Server).GetFiles(req, &fileStreamServer{stream})
}

func getTopicsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(APIRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).GetTopics(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: ServiceName + "/GetTopics"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(Server).GetTopics(ctx, req.(*APIRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// ServiceDesc is the hand-maintained equivalent of a protoc-gen-go-grpc
// _ServiceDesc: it is what RegisterServer below passes to
// grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetTopics", Handler: getTopicsHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "GetRecords", Handler: getRecordsHandler, ServerStreams: true},
		{StreamName: "GetFiles", Handler: getFilesHandler, ServerStreams: true},
	},
	Metadata: "federator/v1/federator.proto",
}

// RegisterServer registers srv on s, the same call shape as a
// protoc-generated RegisterStreamFederationServiceServer function.
func RegisterServer(s *grpc.Server, srv Server) {
	s.RegisterService(&ServiceDesc, srv)
}
