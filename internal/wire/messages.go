// Package wire defines the federator's wire protocol: the message shapes
// and three server-streaming RPCs on one service, plus the gRPC service
// descriptor and client stub that would ordinarily come out of
// protoc-gen-go-grpc.
//
// This repository does not run the protobuf toolchain (see DESIGN.md), so
// the wire messages below are hand-maintained Go structs carried over gRPC
// with a small JSON codec (see codec.go) instead of protoc-generated
// descriptor-backed messages. Only the serialization mechanism differs
// from a protoc-generated service.
package wire

// StreamWarningReason enumerates why the producer's File Stream Service
// skipped a sequence id instead of streaming it.
type StreamWarningReason string

const (
	ReasonDeserialization StreamWarningReason = "DESERIALIZATION"
	ReasonValidation      StreamWarningReason = "VALIDATION"
)

// APIRequest authenticates a caller for the unary GetTopics call.
type APIRequest struct {
	Client string `json:"client"`
	Key    string `json:"key"`
}

// APITopics lists the topics a caller may request streams for.
type APITopics struct {
	Topics []string `json:"topics"`
}

// TopicRequest opens a record stream for Topic starting at Offset (the
// next position to read).
type TopicRequest struct {
	Client string `json:"client"`
	Key    string `json:"key"`
	Topic  string `json:"topic"`
	Offset int64  `json:"offset"`
}

// Header is a single record header; Value is opaque bytes because the
// local bus allows arbitrary header payloads.
type Header struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// RecordMessage is the wire form of one record forwarded to a consumer.
// Only the subset of headers enumerated in the producer's sharedHeaders
// configuration is carried.
type RecordMessage struct {
	Key     []byte   `json:"key"`
	Value   []byte   `json:"value"`
	Headers []Header `json:"headers"`
	Offset  int64    `json:"offset"`
}

// FileStreamRequest opens a file stream for Topic starting at
// StartSequenceID (the next sequence id to read).
type FileStreamRequest struct {
	Topic           string `json:"topic"`
	StartSequenceID int64  `json:"startSequenceId"`
}

// FileChunk is one chunk of a chunked file transfer. FileSize/
// FileChecksum are authoritative only when IsLastChunk is true.
type FileChunk struct {
	FileName       string `json:"fileName"`
	FileSequenceID int64  `json:"fileSequenceId"`
	ChunkIndex     int32  `json:"chunkIndex"`
	TotalChunks    int32  `json:"totalChunks"`
	ChunkData      []byte `json:"chunkData"`
	IsLastChunk    bool   `json:"isLastChunk"`
	FileSize       int64  `json:"fileSize"`
	FileChecksum   string `json:"fileChecksum"`
}

// StreamWarning reports a skipped file-stream sequence id.
type StreamWarning struct {
	SkippedSequenceID int64               `json:"skippedSequenceId"`
	Reason            StreamWarningReason `json:"reason"`
	Details           string              `json:"details"`
}

// FileStreamEvent is the tagged union the GetFiles RPC streams: exactly
// one of Chunk or Warning is set per event.
type FileStreamEvent struct {
	Chunk   *FileChunk     `json:"chunk,omitempty"`
	Warning *StreamWarning `json:"warning,omitempty"`
}
