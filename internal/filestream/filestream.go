// Package filestream implements the producer-side File Stream Service:
// it reads file-transfer descriptors off a Kafka topic starting at a
// requested sequence id, fetches each file from the object store named
// by the descriptor, chunks it at the configured size while computing a
// running SHA-256 checksum, and emits FileChunk/StreamWarning events.
package filestream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
	"github.com/National-Digital-Twin/federator-go/internal/logging"
	"github.com/National-Digital-Twin/federator-go/internal/objectstore"
	"github.com/National-Digital-Twin/federator-go/internal/wire"
)

// SourceType identifies where a descriptor's file bytes live.
type SourceType string

const (
	SourceLocal SourceType = "LOCAL"
	SourceS3    SourceType = "S3"
	SourceAzure SourceType = "AZURE"
	SourceGCP   SourceType = "GCP"
)

// Descriptor is one file-transfer record read off the descriptor topic:
// it names where to fetch the file's bytes from, not the bytes
// themselves.
type Descriptor struct {
	SourceType SourceType `json:"sourceType"`
	Container  string     `json:"container"`
	Path       string     `json:"path"`
	Name       string     `json:"name"`
}

func (d Descriptor) validate() error {
	if strings.TrimSpace(d.Path) == "" {
		return fmt.Errorf("path is required")
	}
	switch d.SourceType {
	case SourceS3, SourceAzure, SourceGCP:
		if strings.TrimSpace(d.Container) == "" {
			return fmt.Errorf("container is required for source type %s", d.SourceType)
		}
	case SourceLocal, "":
	default:
		return fmt.Errorf("unknown source type %q", d.SourceType)
	}
	return nil
}

func (d Descriptor) displayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.Path
}

// Reader abstracts the subset of *kafka.Reader the service needs, so
// tests can substitute an in-memory fake. Shared in shape (not in type)
// with internal/recordstream.Reader: the two packages read different
// topics for different purposes and are kept independent.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ReaderFactory builds a Reader over the descriptor topic, positioned at
// startSequenceID.
type ReaderFactory func(topic string, startSequenceID int64) Reader

// StoreConfig carries the credentials/endpoint a cloud object-store
// backend needs; Bucket/container is supplied per descriptor instead of
// here, since one producer can read files out of more than one
// bucket/container.
type StoreConfig struct {
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	GCSProjectID    string
}

// StoreConfigs groups the per-provider connection settings an operator
// supplies for every cloud backend the File Stream Service may read
// from.
type StoreConfigs struct {
	S3    StoreConfig
	Azure StoreConfig
	GCS   StoreConfig
}

// Emitter receives either a chunk or a warning, mirroring the
// wire.FileStreamEvent tagged union sent over the gRPC stream.
type Emitter func(*wire.FileStreamEvent) error

// Service streams files named by descriptors read from a Kafka topic.
type Service struct {
	readerFactory ReaderFactory
	localDir      string
	storeConfigs  StoreConfigs
	chunkSize     int
	logger        *logging.Logger

	mu     sync.Mutex
	stores map[string]objectstore.Store
}

// New builds a Service. localDir is the root used for SourceLocal
// descriptors; storeConfigs supplies the cloud backends' credentials.
func New(readerFactory ReaderFactory, localDir string, storeConfigs StoreConfigs, chunkSize int, logger *logging.Logger) *Service {
	if chunkSize <= 0 {
		chunkSize = 1_000_000
	}
	return &Service{
		readerFactory: readerFactory,
		localDir:      localDir,
		storeConfigs:  storeConfigs,
		chunkSize:     chunkSize,
		logger:        logger,
		stores:        make(map[string]objectstore.Store),
	}
}

// storeFor returns (building and caching on first use) the
// objectstore.Store serving sourceType/container.
func (s *Service) storeFor(ctx context.Context, sourceType SourceType, container string) (objectstore.Store, error) {
	key := string(sourceType) + "/" + container

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.stores[key]; ok {
		return st, nil
	}

	var cfg objectstore.Config
	switch sourceType {
	case SourceLocal, "":
		cfg = objectstore.Config{Kind: objectstore.KindLocal, LocalDir: s.localDir}
	case SourceS3:
		cfg = objectstore.Config{
			Kind:            objectstore.KindS3,
			Bucket:          container,
			Region:          s.storeConfigs.S3.Region,
			Endpoint:        s.storeConfigs.S3.Endpoint,
			AccessKeyID:     s.storeConfigs.S3.AccessKeyID,
			SecretAccessKey: s.storeConfigs.S3.SecretAccessKey,
		}
	case SourceAzure:
		cfg = objectstore.Config{
			Kind:            objectstore.KindAzure,
			Bucket:          container,
			Endpoint:        s.storeConfigs.Azure.Endpoint,
			AccessKeyID:     s.storeConfigs.Azure.AccessKeyID,
			SecretAccessKey: s.storeConfigs.Azure.SecretAccessKey,
		}
	case SourceGCP:
		cfg = objectstore.Config{
			Kind:         objectstore.KindGCS,
			Bucket:       container,
			GCSProjectID: s.storeConfigs.GCS.GCSProjectID,
		}
	default:
		return nil, fmt.Errorf("filestream: unknown source type %q", sourceType)
	}

	st, err := objectstore.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s.stores[key] = st
	return st, nil
}

// Stream reads descriptors for topic starting at startSequenceID and
// emits a FileChunk sequence per descriptor, or a StreamWarning when a
// descriptor fails validation, fails to deserialize, or fails to fetch.
// A transport failure (the emit callback itself failing) ends the
// stream rather than being downgraded to a warning. The stream ends
// cleanly (nil) when the descriptor reader reports io.EOF.
func (s *Service) Stream(ctx context.Context, topic string, startSequenceID int64, emit Emitter) error {
	reader := s.readerFactory(topic, startSequenceID)
	defer reader.Close()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err == io.EOF {
				return nil
			}
			return &ferrors.TransportError{Topic: topic, Err: err}
		}

		var desc Descriptor
		if err := json.Unmarshal(msg.Value, &desc); err != nil {
			if err := emit(&wire.FileStreamEvent{Warning: &wire.StreamWarning{
				SkippedSequenceID: msg.Offset,
				Reason:            wire.ReasonDeserialization,
				Details:           err.Error(),
			}}); err != nil {
				return fmt.Errorf("filestream: emitting deserialization warning at seq %d: %w", msg.Offset, err)
			}
			continue
		}

		if err := desc.validate(); err != nil {
			if err := emit(&wire.FileStreamEvent{Warning: &wire.StreamWarning{
				SkippedSequenceID: msg.Offset,
				Reason:            wire.ReasonValidation,
				Details:           err.Error(),
			}}); err != nil {
				return fmt.Errorf("filestream: emitting validation warning at seq %d: %w", msg.Offset, err)
			}
			continue
		}

		if err := s.streamFile(ctx, msg.Offset, desc, emit); err != nil {
			var fetchErr *ferrors.FileAssemblyError
			if isFetchError(err, &fetchErr) {
				if err := emit(&wire.FileStreamEvent{Warning: &wire.StreamWarning{
					SkippedSequenceID: msg.Offset,
					Reason:            wire.ReasonValidation,
					Details:           fetchErr.Reason,
				}}); err != nil {
					return fmt.Errorf("filestream: emitting fetch-failure warning at seq %d: %w", msg.Offset, err)
				}
				continue
			}
			return err
		}
	}
}

func isFetchError(err error, target **ferrors.FileAssemblyError) bool {
	fa, ok := err.(*ferrors.FileAssemblyError)
	if ok {
		*target = fa
	}
	return ok
}

func (s *Service) streamFile(ctx context.Context, sequenceID int64, desc Descriptor, emit Emitter) error {
	store, err := s.storeFor(ctx, desc.SourceType, desc.Container)
	if err != nil {
		return &ferrors.FileAssemblyError{FileName: desc.displayName(), SequenceID: sequenceID, Reason: fmt.Sprintf("opening source: %v", err)}
	}

	size, err := store.Stat(ctx, desc.Path)
	if err != nil {
		return &ferrors.FileAssemblyError{FileName: desc.displayName(), SequenceID: sequenceID, Reason: fmt.Sprintf("stat: %v", err)}
	}

	rc, err := store.Get(ctx, desc.Path)
	if err != nil {
		return &ferrors.FileAssemblyError{FileName: desc.displayName(), SequenceID: sequenceID, Reason: fmt.Sprintf("fetch: %v", err)}
	}
	defer rc.Close()

	totalChunks := int32((size + int64(s.chunkSize) - 1) / int64(s.chunkSize))
	if totalChunks == 0 {
		totalChunks = 1
	}

	hasher := sha256.New()
	buf := make([]byte, s.chunkSize)

	for idx := int32(0); idx < totalChunks; idx++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, readErr := io.ReadFull(rc, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			return fmt.Errorf("filestream: reading chunk %d of %s: %w", idx, desc.displayName(), readErr)
		}
		hasher.Write(buf[:n])

		isLast := idx == totalChunks-1
		chunk := &wire.FileChunk{
			FileName:       desc.displayName(),
			FileSequenceID: sequenceID,
			ChunkIndex:     idx,
			TotalChunks:    totalChunks,
			ChunkData:      append([]byte(nil), buf[:n]...),
			IsLastChunk:    isLast,
		}
		if isLast {
			chunk.FileSize = size
			chunk.FileChecksum = hex.EncodeToString(hasher.Sum(nil))
		}
		if err := emit(&wire.FileStreamEvent{Chunk: chunk}); err != nil {
			return fmt.Errorf("filestream: emitting chunk %d of %s: %w", idx, desc.displayName(), err)
		}
	}
	return nil
}
