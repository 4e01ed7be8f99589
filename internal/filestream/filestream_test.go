package filestream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/National-Digital-Twin/federator-go/internal/logging"
	"github.com/National-Digital-Twin/federator-go/internal/wire"
)

type fakeDescriptorReader struct {
	messages []kafka.Message
	pos      int
	closed   bool
}

func (r *fakeDescriptorReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if r.pos >= len(r.messages) {
		return kafka.Message{}, io.EOF
	}
	m := r.messages[r.pos]
	r.pos++
	return m, nil
}

func (r *fakeDescriptorReader) Close() error {
	r.closed = true
	return nil
}

func descriptorMessage(offset int64, d Descriptor) kafka.Message {
	data, err := json.Marshal(d)
	if err != nil {
		panic(err)
	}
	return kafka.Message{Offset: offset, Value: data}
}

func newTestService(t *testing.T, reader Reader, chunkSize int) *Service {
	t.Helper()
	factory := func(topic string, startSequenceID int64) Reader { return reader }
	return New(factory, t.TempDir(), StoreConfigs{}, chunkSize, logging.New("test", "error"))
}

func writeLocalFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
}

func TestStreamChunksLocalDescriptorAndComputesChecksum(t *testing.T) {
	reader := &fakeDescriptorReader{messages: []kafka.Message{
		descriptorMessage(10, Descriptor{SourceType: SourceLocal, Path: "report.txt", Name: "report.txt"}),
	}}
	svc := newTestService(t, reader, 4)
	writeLocalFile(t, svc.localDir, "report.txt", []byte("abcdefgh"))

	var chunks []*wire.FileChunk
	err := svc.Stream(context.Background(), "files", 0, func(ev *wire.FileStreamEvent) error {
		require.NotNil(t, ev.Chunk)
		chunks = append(chunks, ev.Chunk)
		return nil
	})
	require.NoError(t, err)
	require.True(t, reader.closed)

	require.Len(t, chunks, 2)
	assert.Equal(t, int64(10), chunks[0].FileSequenceID)
	assert.False(t, chunks[0].IsLastChunk)
	assert.True(t, chunks[1].IsLastChunk)
	assert.Equal(t, int64(8), chunks[1].FileSize)
	assert.NotEmpty(t, chunks[1].FileChecksum)
}

func TestStreamEmptyFileProducesOneZeroLengthChunk(t *testing.T) {
	reader := &fakeDescriptorReader{messages: []kafka.Message{
		descriptorMessage(1, Descriptor{SourceType: SourceLocal, Path: "empty.txt"}),
	}}
	svc := newTestService(t, reader, 4)
	writeLocalFile(t, svc.localDir, "empty.txt", nil)

	var chunks []*wire.FileChunk
	err := svc.Stream(context.Background(), "files", 0, func(ev *wire.FileStreamEvent) error {
		chunks = append(chunks, ev.Chunk)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.True(t, chunks[0].IsLastChunk)
	assert.Empty(t, chunks[0].ChunkData)
	assert.Equal(t, int64(0), chunks[0].FileSize)
}

func TestStreamEmitsValidationWarningForBlankPath(t *testing.T) {
	reader := &fakeDescriptorReader{messages: []kafka.Message{
		descriptorMessage(42, Descriptor{SourceType: SourceLocal, Path: ""}),
	}}
	svc := newTestService(t, reader, 4)

	var warnings []*wire.StreamWarning
	err := svc.Stream(context.Background(), "files", 0, func(ev *wire.FileStreamEvent) error {
		require.NotNil(t, ev.Warning)
		warnings = append(warnings, ev.Warning)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, int64(42), warnings[0].SkippedSequenceID)
	assert.Equal(t, wire.ReasonValidation, warnings[0].Reason)
}

func TestStreamEmitsValidationWarningForBlankContainerOnCloudSource(t *testing.T) {
	reader := &fakeDescriptorReader{messages: []kafka.Message{
		descriptorMessage(7, Descriptor{SourceType: SourceS3, Path: "a/b.txt", Container: ""}),
	}}
	svc := newTestService(t, reader, 4)

	var warnings []*wire.StreamWarning
	err := svc.Stream(context.Background(), "files", 0, func(ev *wire.FileStreamEvent) error {
		warnings = append(warnings, ev.Warning)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, wire.ReasonValidation, warnings[0].Reason)
}

func TestStreamEmitsDeserializationWarningForInvalidJSON(t *testing.T) {
	reader := &fakeDescriptorReader{messages: []kafka.Message{
		{Offset: 3, Value: []byte("not json")},
	}}
	svc := newTestService(t, reader, 4)

	var warnings []*wire.StreamWarning
	err := svc.Stream(context.Background(), "files", 0, func(ev *wire.FileStreamEvent) error {
		warnings = append(warnings, ev.Warning)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, int64(3), warnings[0].SkippedSequenceID)
	assert.Equal(t, wire.ReasonDeserialization, warnings[0].Reason)
}

func TestStreamEmitsWarningOnFetchFailureAndAdvances(t *testing.T) {
	reader := &fakeDescriptorReader{messages: []kafka.Message{
		descriptorMessage(1, Descriptor{SourceType: SourceLocal, Path: "missing.txt"}),
		descriptorMessage(2, Descriptor{SourceType: SourceLocal, Path: "present.txt"}),
	}}
	svc := newTestService(t, reader, 4)
	writeLocalFile(t, svc.localDir, "present.txt", []byte("ok"))

	var events []*wire.FileStreamEvent
	err := svc.Stream(context.Background(), "files", 0, func(ev *wire.FileStreamEvent) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)

	require.Len(t, events, 2)
	require.NotNil(t, events[0].Warning)
	assert.Equal(t, int64(1), events[0].Warning.SkippedSequenceID)
	require.NotNil(t, events[1].Chunk)
	assert.Equal(t, int64(2), events[1].Chunk.FileSequenceID)
}

func TestStreamPropagatesTransportErrorOnEmitFailure(t *testing.T) {
	reader := &fakeDescriptorReader{messages: []kafka.Message{
		descriptorMessage(1, Descriptor{SourceType: SourceLocal, Path: "file.txt"}),
	}}
	svc := newTestService(t, reader, 4)
	writeLocalFile(t, svc.localDir, "file.txt", []byte("data"))

	wantErr := errors.New("send failed")
	err := svc.Stream(context.Background(), "files", 0, func(ev *wire.FileStreamEvent) error {
		return wantErr
	})
	require.Error(t, err)
}

func TestStreamCancelledByContext(t *testing.T) {
	reader := &fakeDescriptorReader{messages: []kafka.Message{
		descriptorMessage(1, Descriptor{SourceType: SourceLocal, Path: "file.txt"}),
	}}
	svc := newTestService(t, reader, 4)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := svc.Stream(ctx, "files", 0, func(ev *wire.FileStreamEvent) error {
		t.Fatal("should not emit after cancellation")
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}
