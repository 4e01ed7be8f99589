// Package conductor implements the consumer-side Streaming Conductor:
// for each (server, topic) pair it holds a long-lived GetRecords stream
// open against the remote federator, checkpoints the last delivered
// offset, and republishes records to a local sink, reconnecting through
// a retry-plus-circuit-breaker decorator on failure.
package conductor

import (
	"context"
	"fmt"

	"github.com/National-Digital-Twin/federator-go/internal/connection"
	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
	"github.com/National-Digital-Twin/federator-go/internal/fileassembler"
	"github.com/National-Digital-Twin/federator-go/internal/logging"
	"github.com/National-Digital-Twin/federator-go/internal/offsetstore"
	"github.com/National-Digital-Twin/federator-go/internal/retry"
	"github.com/National-Digital-Twin/federator-go/internal/wire"
)

// RecordSink is where a consumed record is delivered locally (e.g. a
// local Kafka producer). Implementations must be safe to retry: the
// conductor may redeliver a record after a reconnect (at-least-once).
type RecordSink interface {
	Publish(ctx context.Context, topic string, msg *wire.RecordMessage) error
}

// StreamOpener dials a remote federator server and returns a wire.Client.
type StreamOpener func(ctx context.Context, desc *connection.Descriptor) (wire.Client, func() error, error)

// Kind distinguishes a record-streaming task from a file-streaming one;
// both share the same reconnect/checkpoint loop but call a different RPC
// and persist offsets under a different key.
type Kind int

const (
	KindRecords Kind = iota
	KindFiles
)

// Task runs one (server, topic) streaming loop.
type Task struct {
	Descriptor *connection.Descriptor
	ClientID   string
	ClientKey  string
	Topic      string
	Kind       Kind
}

// Conductor owns the running Task loops.
type Conductor struct {
	opener    StreamOpener
	store     *offsetstore.Store
	sink      RecordSink
	assembler *fileassembler.Assembler
	decorator *retry.Decorator
	logger    *logging.Logger
}

// New builds a Conductor. assembler receives file chunks pulled by
// KindFiles tasks; it may be nil if the caller never runs a KindFiles task.
func New(opener StreamOpener, store *offsetstore.Store, sink RecordSink, assembler *fileassembler.Assembler, decorator *retry.Decorator, logger *logging.Logger) *Conductor {
	return &Conductor{opener: opener, store: store, sink: sink, assembler: assembler, decorator: decorator, logger: logger}
}

// Run drives one task until ctx is cancelled, reconnecting on transient
// failure per the shared resilience decorator and resuming from the
// last checkpointed offset each time.
func (c *Conductor) Run(ctx context.Context, task Task) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := c.decorator.Do(ctx, fmt.Sprintf("conductor.%s.%s", task.Descriptor.ServerName, task.Topic), nil, func(ctx context.Context) error {
			return c.runOnce(ctx, task)
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			var circuitErr *ferrors.CircuitOpenError
			if asCircuitOpen(err, &circuitErr) {
				c.logger.Warnf("conductor: circuit open for %s/%s, backing off: %v", task.Descriptor.ServerName, task.Topic, err)
				continue
			}
			c.logger.Errorf("conductor: %s/%s failed: %v", task.Descriptor.ServerName, task.Topic, err)
			continue
		}
	}
}

func asCircuitOpen(err error, target **ferrors.CircuitOpenError) bool {
	circuitErr, ok := err.(*ferrors.CircuitOpenError)
	if ok {
		*target = circuitErr
	}
	return ok
}

func (c *Conductor) runOnce(ctx context.Context, task Task) error {
	if task.Kind == KindFiles {
		return c.runFileOnce(ctx, task)
	}

	offset, err := c.store.GetOffset(ctx, task.ClientID, task.Topic)
	if err != nil {
		return fmt.Errorf("conductor: loading checkpoint: %w", err)
	}

	client, closeFn, err := c.opener(ctx, task.Descriptor)
	if err != nil {
		return &ferrors.TransportError{Topic: task.Topic, Err: err}
	}
	defer closeFn()

	stream, err := client.GetRecords(ctx, &wire.TopicRequest{
		Client: task.ClientID,
		Key:    task.ClientKey,
		Topic:  task.Topic,
		Offset: offset,
	})
	if err != nil {
		return &ferrors.TransportError{Topic: task.Topic, Err: err}
	}

	for {
		msg, err := stream.Recv()
		if err != nil {
			return &ferrors.TransportError{Topic: task.Topic, Err: err}
		}

		if err := c.sink.Publish(ctx, task.Topic, msg); err != nil {
			return fmt.Errorf("conductor: publishing to local sink: %w", err)
		}

		if err := c.store.SetOffset(ctx, task.ClientID, task.Topic, msg.Offset+1); err != nil {
			return fmt.Errorf("conductor: checkpointing offset: %w", err)
		}
	}
}

// fileOffsetTopic namespaces a file-stream task's checkpoint away from the
// record-stream checkpoint kept under the same Topic string.
func fileOffsetTopic(topic string) string {
	return topic + "#files"
}

// runFileOnce mirrors runOnce's reconnect/checkpoint pattern for the
// GetFiles RPC: it resumes from the last persisted sequence id, feeds
// received chunks to the assembler, and persists fileSeq+1 on a completed
// file or skippedSequenceId+1 on a warning, so a reconnect never
// re-requests sequence ids already accounted for.
func (c *Conductor) runFileOnce(ctx context.Context, task Task) error {
	startSeq, err := c.store.GetOffset(ctx, task.ClientID, fileOffsetTopic(task.Topic))
	if err != nil {
		return fmt.Errorf("conductor: loading file checkpoint: %w", err)
	}

	client, closeFn, err := c.opener(ctx, task.Descriptor)
	if err != nil {
		return &ferrors.TransportError{Topic: task.Topic, Err: err}
	}
	defer closeFn()

	stream, err := client.GetFiles(ctx, &wire.FileStreamRequest{
		Topic:           task.Topic,
		StartSequenceID: startSeq,
	})
	if err != nil {
		return &ferrors.TransportError{Topic: task.Topic, Err: err}
	}

	for {
		ev, err := stream.Recv()
		if err != nil {
			return &ferrors.TransportError{Topic: task.Topic, Err: err}
		}

		if ev.Warning != nil {
			c.logger.Warnf("conductor: file stream warning on %s: seq=%d reason=%s details=%s",
				task.Topic, ev.Warning.SkippedSequenceID, ev.Warning.Reason, ev.Warning.Details)
			if err := c.store.SetOffset(ctx, task.ClientID, fileOffsetTopic(task.Topic), ev.Warning.SkippedSequenceID+1); err != nil {
				return fmt.Errorf("conductor: checkpointing skipped file sequence: %w", err)
			}
			continue
		}

		if ev.Chunk == nil {
			continue
		}

		if err := c.assembler.Accept(ctx, ev.Chunk); err != nil {
			c.logger.Errorf("conductor: file assembly error on %s seq=%d: %v", task.Topic, ev.Chunk.FileSequenceID, err)
			continue
		}

		if ev.Chunk.IsLastChunk {
			if err := c.store.SetOffset(ctx, task.ClientID, fileOffsetTopic(task.Topic), ev.Chunk.FileSequenceID+1); err != nil {
				return fmt.Errorf("conductor: checkpointing completed file sequence: %w", err)
			}
		}
	}
}
