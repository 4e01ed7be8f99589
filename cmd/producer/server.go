package main

import (
	"context"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/National-Digital-Twin/federator-go/internal/authgate"
	"github.com/National-Digital-Twin/federator-go/internal/configresolver"
	"github.com/National-Digital-Twin/federator-go/internal/filestream"
	"github.com/National-Digital-Twin/federator-go/internal/filter"
	"github.com/National-Digital-Twin/federator-go/internal/logging"
	"github.com/National-Digital-Twin/federator-go/internal/metrics"
	"github.com/National-Digital-Twin/federator-go/internal/recordstream"
	"github.com/National-Digital-Twin/federator-go/internal/wire"
)

// wireServer adapts recordstream.Service and filestream.Service to the
// wire.Server interface the gRPC layer dispatches to.
type wireServer struct {
	resolver *configresolver.Resolver
	registry *filter.Registry
	records  *recordstream.Service
	files    *filestream.Service
	logger   *logging.Logger
}

func newWireServer(resolver *configresolver.Resolver, registry *filter.Registry, records *recordstream.Service, files *filestream.Service, logger *logging.Logger) *wireServer {
	return &wireServer{resolver: resolver, registry: registry, records: records, files: files, logger: logger}
}

func (s *wireServer) GetRecords(req *wire.TopicRequest, stream wire.RecordStream) error {
	clientID, ok := authgate.CallerID(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, "missing caller identity")
	}

	snap := s.resolver.Current()
	if !snap.HasConsumerAccess(clientID, req.Topic) {
		return status.Errorf(codes.PermissionDenied, "client %q is not authorized for topic %q", clientID, req.Topic)
	}
	requiredAttrs, filterName, _ := snap.RequiredAttributesFor(clientID, req.Topic)

	_, err := s.records.Stream(stream.Context(), req.Topic, req.Offset, recordstream.RequiredAttrs{
		Attrs:      requiredAttrs,
		FilterName: filterName,
	}, s.registry, func(msg *wire.RecordMessage) error {
		metrics.RecordsForwarded.WithLabelValues(clientID, req.Topic).Inc()
		return stream.Send(msg)
	})
	if err != nil {
		metrics.RecordsDropped.WithLabelValues(clientID, req.Topic).Inc()
		return status.Errorf(codes.Internal, "streaming records: %v", err)
	}
	return nil
}

func (s *wireServer) GetFiles(req *wire.FileStreamRequest, stream wire.FileStream) error {
	clientID, ok := authgate.CallerID(stream.Context())
	if !ok {
		return status.Error(codes.Unauthenticated, "missing caller identity")
	}

	snap := s.resolver.Current()
	if !snap.HasConsumerAccess(clientID, req.Topic) {
		return status.Errorf(codes.PermissionDenied, "client %q is not authorized for topic %q", clientID, req.Topic)
	}

	err := s.files.Stream(stream.Context(), req.Topic, req.StartSequenceID, func(ev *wire.FileStreamEvent) error {
		if ev.Warning != nil {
			metrics.StreamWarnings.WithLabelValues(req.Topic, string(ev.Warning.Reason)).Inc()
		}
		return stream.Send(ev)
	})
	if err != nil {
		metrics.FilesFailed.WithLabelValues(clientID, req.Topic).Inc()
		return status.Errorf(codes.Internal, "streaming files: %v", err)
	}
	metrics.FilesCompleted.WithLabelValues(clientID, req.Topic).Inc()
	return nil
}

func (s *wireServer) GetTopics(ctx context.Context, req *wire.APIRequest) (*wire.APITopics, error) {
	clientID, ok := authgate.CallerID(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing caller identity")
	}

	snap := s.resolver.Current()
	cfg, ok := snap.Consumers[clientID]
	if !ok {
		return &wire.APITopics{}, nil
	}
	topics := make([]string, 0, len(cfg.Topics))
	for _, g := range cfg.Topics {
		topics = append(topics, g.Topic)
	}
	return &wire.APITopics{Topics: topics}, nil
}
