package wire

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

type fakeServer struct {
	records []*RecordMessage
	topics  *APITopics
	getErr  error
}

func (f *fakeServer) GetRecords(req *TopicRequest, stream RecordStream) error {
	for _, m := range f.records {
		if err := stream.Send(m); err != nil {
			return err
		}
	}
	return f.getErr
}

func (f *fakeServer) GetFiles(req *FileStreamRequest, stream FileStream) error {
	return f.getErr
}

func (f *fakeServer) GetTopics(ctx context.Context, req *APIRequest) (*APITopics, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.topics, nil
}

func dialFakeServer(t *testing.T, srv Server) (Client, func()) {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	gs := grpc.NewServer()
	RegisterServer(gs, srv)
	go gs.Serve(lis)

	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	return NewClient(cc), func() {
		cc.Close()
		gs.Stop()
	}
}

func TestGetTopicsRoundTrip(t *testing.T) {
	srv := &fakeServer{topics: &APITopics{Topics: []string{"orders", "shipments"}}}
	client, cleanup := dialFakeServer(t, srv)
	defer cleanup()

	got, err := client.GetTopics(t.Context(), &APIRequest{Client: "client-a"})
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "shipments"}, got.Topics)
}

func TestGetRecordsStreamsAllMessages(t *testing.T) {
	srv := &fakeServer{records: []*RecordMessage{
		{Key: []byte("k1"), Value: []byte("v1"), Offset: 1},
		{Key: []byte("k2"), Value: []byte("v2"), Offset: 2},
	}}
	client, cleanup := dialFakeServer(t, srv)
	defer cleanup()

	stream, err := client.GetRecords(t.Context(), &TopicRequest{Topic: "orders"})
	require.NoError(t, err)

	var got []*RecordMessage
	for {
		m, err := stream.Recv()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, m)
	}

	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].Offset)
	assert.Equal(t, int64(2), got[1].Offset)
}
