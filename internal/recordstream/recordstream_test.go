package recordstream

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/National-Digital-Twin/federator-go/internal/filter"
	"github.com/National-Digital-Twin/federator-go/internal/logging"
	"github.com/National-Digital-Twin/federator-go/internal/wire"
)

type fakeReader struct {
	messages []kafka.Message
	idx      int
}

func (f *fakeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if f.idx >= len(f.messages) {
		return kafka.Message{}, io.EOF
	}
	m := f.messages[f.idx]
	f.idx++
	return m, nil
}

func (f *fakeReader) Close() error { return nil }

// blockingReader never returns from ReadMessage until its context is
// cancelled, simulating a topic with no more records available.
type blockingReader struct{}

func (blockingReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (blockingReader) Close() error { return nil }

func TestStreamForwardsKeptRecordsAndDropsFiltered(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte("kept"), Headers: []kafka.Header{{Key: "Security-Label", Value: []byte("CLASSIFICATION=SECRET")}}},
		{Offset: 2, Value: []byte("dropped"), Headers: []kafka.Header{{Key: "Security-Label", Value: []byte("CLASSIFICATION=PUBLIC")}}},
		{Offset: 3, Value: []byte("kept-too"), Headers: []kafka.Header{{Key: "Security-Label", Value: []byte("CLASSIFICATION=SECRET")}}},
	}}

	svc := New(func(topic string, startOffset int64) Reader { return reader }, nil, 0, logging.New("test", "error"))
	registry := filter.NewRegistry()

	var forwarded [][]byte
	state, err := svc.Stream(context.Background(), "orders", 0, RequiredAttrs{
		Attrs: map[string]string{"CLASSIFICATION": "SECRET"},
	}, registry, func(msg *wire.RecordMessage) error {
		forwarded = append(forwarded, msg.Value)
		return nil
	})

	require.Error(t, err) // io.EOF surfaces as a failed transport error once the fake reader is drained
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, [][]byte{[]byte("kept"), []byte("kept-too")}, forwarded)
}

func TestStreamSendErrorStopsLoop(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte("a")},
		{Offset: 2, Value: []byte("b")},
	}}

	svc := New(func(topic string, startOffset int64) Reader { return reader }, nil, 0, logging.New("test", "error"))
	registry := filter.NewRegistry()

	calls := 0
	state, err := svc.Stream(context.Background(), "orders", 0, RequiredAttrs{}, registry, func(msg *wire.RecordMessage) error {
		calls++
		return errors.New("send failed")
	})

	require.Error(t, err)
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, 1, calls)
}

func TestStreamCancelledByContext(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{{Offset: 1, Value: []byte("a")}}}
	svc := New(func(topic string, startOffset int64) Reader { return reader }, nil, 0, logging.New("test", "error"))
	registry := filter.NewRegistry()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := svc.Stream(ctx, "orders", 0, RequiredAttrs{}, registry, func(msg *wire.RecordMessage) error {
		return nil
	})

	require.Error(t, err)
	assert.Equal(t, StateCancelled, state)
}

func TestStreamForwardsOnlySharedHeaders(t *testing.T) {
	reader := &fakeReader{messages: []kafka.Message{
		{Offset: 1, Value: []byte("a"), Headers: []kafka.Header{
			{Key: "X-Trace-Id", Value: []byte("t-1")},
			{Key: "X-Internal-Only", Value: []byte("secret")},
		}},
	}}

	svc := New(func(topic string, startOffset int64) Reader { return reader }, []string{"X-Trace-Id"}, 0, logging.New("test", "error"))
	registry := filter.NewRegistry()

	var got []wire.Header
	_, err := svc.Stream(context.Background(), "orders", 0, RequiredAttrs{}, registry, func(msg *wire.RecordMessage) error {
		got = append(got, msg.Headers...)
		return nil
	})
	require.Error(t, err) // drained fake reader

	require.Len(t, got, 1)
	assert.Equal(t, "X-Trace-Id", got[0].Name)
}

func TestStreamCompletesCleanlyOnIdleTimeout(t *testing.T) {
	svc := New(func(topic string, startOffset int64) Reader { return blockingReader{} }, nil, 20*time.Millisecond, logging.New("test", "error"))
	registry := filter.NewRegistry()

	state, err := svc.Stream(context.Background(), "orders", 0, RequiredAttrs{}, registry, func(msg *wire.RecordMessage) error {
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, StateCompleted, state)
}
