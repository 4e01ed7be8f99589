// Package recordstream implements the producer-side Record Stream
// Service: it consumes a Kafka topic from a requested offset, applies
// the Header Filter Engine, and forwards surviving records to the gRPC
// stream, moving through an
// Idle -> Streaming -> Completed/Cancelled/Failed state machine.
package recordstream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
	"github.com/National-Digital-Twin/federator-go/internal/filter"
	"github.com/National-Digital-Twin/federator-go/internal/logging"
	"github.com/National-Digital-Twin/federator-go/internal/wire"
)

// State is the lifecycle of one GetRecords call.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Reader abstracts the subset of *kafka.Reader the service needs, so
// tests can substitute an in-memory fake.
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// ReaderFactory builds a Reader positioned at startOffset on topic.
type ReaderFactory func(topic string, startOffset int64) Reader

// Sender is satisfied by the hand-maintained gRPC server stream wrapper
// (internal/wire.RecordStream).
type Sender interface {
	Send(msg *wire.RecordMessage) error
}

// Service streams records for one (client, topic, offset) request.
type Service struct {
	readerFactory ReaderFactory
	sharedHeaders map[string]bool
	idleTimeout   time.Duration
	logger        *logging.Logger
}

// New builds a Service backed by readerFactory. Only headers named in
// sharedHeaders are forwarded to consumers; a record's other headers are
// local-bus-only. idleTimeout bounds how long Stream waits for the next
// record before completing the call cleanly (no more records currently
// available is not a failure).
func New(readerFactory ReaderFactory, sharedHeaders []string, idleTimeout time.Duration, logger *logging.Logger) *Service {
	allowed := make(map[string]bool, len(sharedHeaders))
	for _, h := range sharedHeaders {
		allowed[h] = true
	}
	return &Service{readerFactory: readerFactory, sharedHeaders: allowed, idleTimeout: idleTimeout, logger: logger}
}

// RequiredAttrs carries the header attributes a consumer's grant demands,
// and the named filter implementation to evaluate them with.
type RequiredAttrs struct {
	Attrs      map[string]string
	FilterName string
}

// Stream runs the Idle -> Streaming -> terminal state machine: it reads
// from topic starting at offset, applies filter to each record's
// Security-Label header, forwards kept records to send, and returns the
// terminal state together with any error.
func (s *Service) Stream(ctx context.Context, topic string, offset int64, required RequiredAttrs, registry *filter.Registry, send func(*wire.RecordMessage) error) (State, error) {
	reader := s.readerFactory(topic, offset)
	defer reader.Close()

	f, ok := registry.Resolve(required.FilterName)
	if !ok && required.FilterName != "" {
		s.logger.Warnf("recordstream: unknown filter %q for topic %s, using default filter", required.FilterName, topic)
	}
	reqAttrs := toAttributeSlice(required.Attrs)

	for {
		select {
		case <-ctx.Done():
			return StateCancelled, ctx.Err()
		default:
		}

		msg, err := s.readWithIdleTimeout(ctx, reader)
		if err != nil {
			if ctx.Err() != nil {
				return StateCancelled, ctx.Err()
			}
			if errors.Is(err, errIdleTimeout) {
				return StateCompleted, nil
			}
			return StateFailed, &ferrors.TransportError{Topic: topic, Err: err}
		}

		label, present := headerValue(msg.Headers, filter.SecurityLabelHeader)
		keep, err := filter.Decide(f, label, present, reqAttrs)
		if err != nil {
			s.logger.Warnf("recordstream: dropping unparseable record at offset %d on %s: %v", msg.Offset, topic, err)
			continue
		}
		if !keep {
			continue
		}

		out := &wire.RecordMessage{
			Key:    msg.Key,
			Value:  msg.Value,
			Offset: msg.Offset,
		}
		for _, h := range msg.Headers {
			if !s.sharedHeaders[h.Key] {
				continue
			}
			out.Headers = append(out.Headers, wire.Header{Name: h.Key, Value: h.Value})
		}

		if err := send(out); err != nil {
			return StateFailed, &ferrors.TransportError{Topic: topic, Err: fmt.Errorf("sending to stream: %w", err)}
		}
	}
}

// errIdleTimeout signals that no record arrived within the configured idle
// window; the parent ctx is still live, so this is a clean completion, not
// a transport failure.
var errIdleTimeout = errors.New("recordstream: idle timeout")

// readWithIdleTimeout bounds one ReadMessage call by s.idleTimeout (when
// set), so a topic with no more records right now ends the call instead of
// blocking Stream forever.
func (s *Service) readWithIdleTimeout(ctx context.Context, reader Reader) (kafka.Message, error) {
	if s.idleTimeout <= 0 {
		return reader.ReadMessage(ctx)
	}

	readCtx, cancel := context.WithTimeout(ctx, s.idleTimeout)
	defer cancel()

	msg, err := reader.ReadMessage(readCtx)
	if err != nil && ctx.Err() == nil && readCtx.Err() != nil {
		return kafka.Message{}, errIdleTimeout
	}
	return msg, err
}

func toAttributeSlice(m map[string]string) []filter.Attribute {
	attrs := make([]filter.Attribute, 0, len(m))
	for k, v := range m {
		attrs = append(attrs, filter.Attribute{Key: k, Value: v})
	}
	return attrs
}

func headerValue(headers []kafka.Header, name string) (string, bool) {
	for _, h := range headers {
		if h.Key == name {
			return string(h.Value), true
		}
	}
	return "", false
}
