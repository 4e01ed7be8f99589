// Package configresolver polls the Management Node for producer/consumer
// configuration and publishes immutable snapshots that the rest of the
// federator queries for authorization and header-filtering decisions.
package configresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/National-Digital-Twin/federator-go/internal/credentialbroker"
	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
	"github.com/National-Digital-Twin/federator-go/internal/logging"
	"github.com/National-Digital-Twin/federator-go/internal/retry"
)

// TopicGrant describes one topic a consumer is permitted to read, and the
// header attributes the Header Filter Engine must enforce for it.
type TopicGrant struct {
	Topic             string            `json:"topic"`
	RequiredAttribute map[string]string `json:"requiredAttributes"`
	FilterName        string            `json:"filterName"`
}

// ConsumerConfig is one consumer entry in the Management Node's response.
type ConsumerConfig struct {
	ClientID string       `json:"clientId"`
	Topics   []TopicGrant `json:"topics"`
}

// ProducerConfig is one producer entry, including the connection details
// a consumer needs to dial it directly for streaming.
type ProducerConfig struct {
	ClientID   string   `json:"clientId"`
	ServerName string   `json:"serverName"`
	Host       string   `json:"host"`
	Port       int      `json:"port"`
	TLS        bool     `json:"tls"`
	Topics     []string `json:"topics"`
}

// ProducerFor returns the producer that owns topic, if any.
func (s *Snapshot) ProducerFor(topic string) (ProducerConfig, bool) {
	for _, p := range s.Producers {
		for _, t := range p.Topics {
			if t == topic {
				return p, true
			}
		}
	}
	return ProducerConfig{}, false
}

// Snapshot is an immutable view of the resolved configuration tree,
// published atomically on every successful poll.
type Snapshot struct {
	Consumers map[string]ConsumerConfig
	Producers map[string]ProducerConfig
	fetchedAt time.Time
}

// HasConsumerAccess reports whether clientID may read topic. A consumer
// is authorized for a topic if it is granted directly OR — because a
// federator consumer node, by the resolved design decision here, is
// treated as authorized for everything any producer in the network
// publishes once it is a recognized consumer, with or without grants of
// its own — the client is recognized at all and the topic is produced by
// at least one known producer.
func (s *Snapshot) HasConsumerAccess(clientID, topic string) bool {
	cfg, ok := s.Consumers[clientID]
	if !ok {
		return false
	}
	for _, g := range cfg.Topics {
		if g.Topic == topic {
			return true
		}
	}
	for _, p := range s.Producers {
		for _, t := range p.Topics {
			if t == topic {
				return true
			}
		}
	}
	return false
}

// RequiredAttributesFor returns the header attributes that must be present
// (and match) on records/files for clientID's grant on topic, and the
// filter implementation name to apply.
func (s *Snapshot) RequiredAttributesFor(clientID, topic string) (map[string]string, string, bool) {
	cfg, ok := s.Consumers[clientID]
	if !ok {
		return nil, "", false
	}
	for _, g := range cfg.Topics {
		if g.Topic == topic {
			return g.RequiredAttribute, g.FilterName, true
		}
	}
	return nil, "", false
}

// KnownProducerTopics returns every topic declared by any producer in the
// snapshot.
func (s *Snapshot) KnownProducerTopics() []string {
	seen := make(map[string]struct{})
	var topics []string
	for _, p := range s.Producers {
		for _, t := range p.Topics {
			if _, ok := seen[t]; !ok {
				seen[t] = struct{}{}
				topics = append(topics, t)
			}
		}
	}
	return topics
}

// Resolver periodically polls the Management Node and swaps in new
// snapshots atomically.
type Resolver struct {
	baseURL      string
	httpClient   *http.Client
	broker       *credentialbroker.Broker
	decorator    *retry.Decorator
	pollInterval time.Duration
	logger       *logging.Logger

	current atomic.Pointer[Snapshot]

	stop chan struct{}
	done chan struct{}
}

// New builds a Resolver with an empty initial snapshot.
func New(baseURL string, requestTimeout, pollInterval time.Duration, broker *credentialbroker.Broker, decorator *retry.Decorator, logger *logging.Logger) *Resolver {
	r := &Resolver{
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: requestTimeout},
		broker:       broker,
		decorator:    decorator,
		pollInterval: pollInterval,
		logger:       logger,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	r.current.Store(&Snapshot{Consumers: map[string]ConsumerConfig{}, Producers: map[string]ProducerConfig{}})
	return r
}

// Current returns the latest published snapshot. Never nil.
func (r *Resolver) Current() *Snapshot {
	return r.current.Load()
}

// Start performs an initial blocking poll, then polls on pollInterval
// until Stop is called.
func (r *Resolver) Start(ctx context.Context) error {
	if err := r.poll(ctx); err != nil {
		return err
	}
	go r.loop(ctx)
	return nil
}

func (r *Resolver) loop(ctx context.Context) {
	defer close(r.done)
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			if err := r.poll(ctx); err != nil {
				r.logger.Warnf("configresolver: poll failed: %v", err)
			}
		}
	}
}

// Stop halts the poll loop and waits for it to exit.
func (r *Resolver) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Resolver) poll(ctx context.Context) error {
	consumers, err := r.fetchWithReauth(ctx, "/api/v1/configuration/consumer")
	if err != nil {
		return fmt.Errorf("configresolver: polling consumer config: %w", err)
	}
	producers, err := r.fetchWithReauth(ctx, "/api/v1/configuration/producer")
	if err != nil {
		return fmt.Errorf("configresolver: polling producer config: %w", err)
	}

	var consumerList []ConsumerConfig
	if err := json.Unmarshal(consumers, &consumerList); err != nil {
		return fmt.Errorf("configresolver: decoding consumer config: %w", err)
	}
	var producerList []ProducerConfig
	if err := json.Unmarshal(producers, &producerList); err != nil {
		return fmt.Errorf("configresolver: decoding producer config: %w", err)
	}

	snap := &Snapshot{
		Consumers: make(map[string]ConsumerConfig, len(consumerList)),
		Producers: make(map[string]ProducerConfig, len(producerList)),
		fetchedAt: time.Now(),
	}
	for _, c := range consumerList {
		snap.Consumers[c.ClientID] = c
	}
	for _, p := range producerList {
		snap.Producers[p.ClientID] = p
	}

	r.current.Store(snap)
	return nil
}

// fetchWithReauth performs a GET against path with a bearer token,
// evicting and retrying once on a 401 before surfacing the error.
func (r *Resolver) fetchWithReauth(ctx context.Context, path string) ([]byte, error) {
	body, status, err := r.doOnce(ctx, path)
	if err == nil && status == http.StatusUnauthorized {
		if evictErr := r.broker.EvictToken(ctx, ""); evictErr != nil {
			r.logger.Warnf("configresolver: evicting token after 401: %v", evictErr)
		}
		body, status, err = r.doOnce(ctx, path)
	}
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", status, path)
	}
	return body, nil
}

func (r *Resolver) doOnce(ctx context.Context, path string) ([]byte, int, error) {
	var body []byte
	var status int

	op := func(ctx context.Context) error {
		token, err := r.broker.FetchToken(ctx, "")
		if err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+path, nil)
		if err != nil {
			return &ferrors.ConfigurationError{Field: "mgmt.base_url", Reason: err.Error()}
		}
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := r.httpClient.Do(req)
		if err != nil {
			return &ferrors.TransportError{Topic: path, Err: err}
		}
		defer resp.Body.Close()

		status = resp.StatusCode
		buf, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return &ferrors.TransportError{Topic: path, Err: readErr}
		}
		body = buf
		return nil
	}

	err := r.decorator.Do(ctx, "configresolver.fetch", nil, op)
	return body, status, err
}
