package wire

import (
	"context"

	"google.golang.org/grpc"
)

// Client is the consumer-side stub, the hand-maintained equivalent of a
// protoc-gen-go-grpc client.
type Client interface {
	GetRecords(ctx context.Context, req *TopicRequest, opts ...grpc.CallOption) (RecordClientStream, error)
	GetFiles(ctx context.Context, req *FileStreamRequest, opts ...grpc.CallOption) (FileClientStream, error)
	GetTopics(ctx context.Context, req *APIRequest, opts ...grpc.CallOption) (*APITopics, error)
}

// RecordClientStream is the consumer-side receive handle for GetRecords.
type RecordClientStream interface {
	Recv() (*RecordMessage, error)
	grpc.ClientStream
}

// FileClientStream is the consumer-side receive handle for GetFiles.
type FileClientStream interface {
	Recv() (*FileStreamEvent, error)
	grpc.ClientStream
}

type client struct {
	cc *grpc.ClientConn
}

// NewClient builds a Client over an already-dialed connection.
func NewClient(cc *grpc.ClientConn) Client {
	return &client{cc: cc}
}

func (c *client) GetRecords(ctx context.Context, req *TopicRequest, opts ...grpc.CallOption) (RecordClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], ServiceName+"/GetRecords", opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &recordClientStream{stream}, nil
}

type recordClientStream struct{ grpc.ClientStream }

func (s *recordClientStream) Recv() (*RecordMessage, error) {
	m := new(RecordMessage)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *client) GetFiles(ctx context.Context, req *FileStreamRequest, opts ...grpc.CallOption) (FileClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[1], ServiceName+"/GetFiles", opts...)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &fileClientStream{stream}, nil
}

type fileClientStream struct{ grpc.ClientStream }

func (s *fileClientStream) Recv() (*FileStreamEvent, error) {
	m := new(FileStreamEvent)
	if err := s.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *client) GetTopics(ctx context.Context, req *APIRequest, opts ...grpc.CallOption) (*APITopics, error) {
	out := new(APITopics)
	err := c.cc.Invoke(ctx, ServiceName+"/GetTopics", req, out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}
