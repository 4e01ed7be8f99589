package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/National-Digital-Twin/federator-go/internal/conductor"
	"github.com/National-Digital-Twin/federator-go/internal/config"
	"github.com/National-Digital-Twin/federator-go/internal/configresolver"
	"github.com/National-Digital-Twin/federator-go/internal/connection"
	"github.com/National-Digital-Twin/federator-go/internal/credentialbroker"
	"github.com/National-Digital-Twin/federator-go/internal/fileassembler"
	"github.com/National-Digital-Twin/federator-go/internal/health"
	"github.com/National-Digital-Twin/federator-go/internal/logging"
	"github.com/National-Digital-Twin/federator-go/internal/metrics"
	"github.com/National-Digital-Twin/federator-go/internal/objectstore"
	"github.com/National-Digital-Twin/federator-go/internal/offsetstore"
	"github.com/National-Digital-Twin/federator-go/internal/retry"
	"github.com/National-Digital-Twin/federator-go/internal/transport"
	"github.com/National-Digital-Twin/federator-go/internal/wire"

	kafkago "github.com/segmentio/kafka-go"
)

var (
	Version    = "dev"
	configFile = flag.String("config", "config.yaml", "Configuration file path")
)

// kafkaSink republishes records consumed from a remote federator onto a
// local Kafka topic, implementing conductor.RecordSink.
type kafkaSink struct {
	mu      sync.Mutex
	writers map[string]*kafkago.Writer
	brokers []string
}

func newKafkaSink(brokers []string) *kafkaSink {
	return &kafkaSink{writers: make(map[string]*kafkago.Writer), brokers: brokers}
}

func (k *kafkaSink) writerFor(topic string) *kafkago.Writer {
	k.mu.Lock()
	defer k.mu.Unlock()
	if w, ok := k.writers[topic]; ok {
		return w
	}
	w := &kafkago.Writer{Addr: kafkago.TCP(k.brokers...), Topic: topic}
	k.writers[topic] = w
	return w
}

func (k *kafkaSink) Publish(ctx context.Context, topic string, msg *wire.RecordMessage) error {
	headers := make([]kafkago.Header, 0, len(msg.Headers))
	for _, h := range msg.Headers {
		headers = append(headers, kafkago.Header{Key: h.Name, Value: h.Value})
	}
	return k.writerFor(topic).WriteMessages(ctx, kafkago.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Headers: headers,
	})
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "consumer: failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("consumer", cfg.Logging.Level)
	log.Infof("starting federator consumer v%s", Version)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	store, err := offsetstore.New(ctx, offsetstore.Options{
		Host:       cfg.Redis.Host,
		Port:       cfg.Redis.Port,
		TLSEnabled: cfg.Redis.TLSEnabled,
		Username:   cfg.Redis.Username,
		Password:   cfg.Redis.Password,
		AESKeyHex:  cfg.Redis.AESKey,
		Prefix:     cfg.Redis.Prefix,
	})
	if err != nil {
		log.Errorf("offset store unavailable: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	decorator := retry.NewDecorator(retry.Policy{
		MaxAttempts: cfg.Mgmt.Retry.MaxAttempts,
		InitialWait: cfg.Mgmt.Retry.InitialWait,
		MaxBackoff:  cfg.Mgmt.Retry.MaxBackoff,
		Exponential: cfg.Mgmt.Retry.Exponential,
	}, &retry.CircuitBreakerConfig{
		Name:                    "management-node",
		FailureRateThreshold:    cfg.Mgmt.CircuitBreaker.FailureRateThreshold,
		MinimumCalls:            cfg.Mgmt.CircuitBreaker.MinimumCalls,
		WaitDurationInOpenState: cfg.Mgmt.CircuitBreaker.WaitDurationInOpenState,
		PermittedHalfOpenCalls:  uint32(cfg.Mgmt.CircuitBreaker.PermittedHalfOpenCalls),
	})

	broker, err := credentialbroker.New(credentialbroker.Config{
		TokenURL:       cfg.IDP.TokenURL,
		ClientID:       cfg.IDP.ClientID,
		ClientSecret:   cfg.IDP.ClientSecret,
		MTLSEnabled:    cfg.IDP.MTLSEnabled,
		KeystorePath:   cfg.IDP.KeystorePath,
		TruststorePath: cfg.IDP.TruststorePath,
		Backoff:        cfg.IDP.TokenBackoff,
		JWKSURL:        cfg.IDP.JWKSURL,
		Audiences:      cfg.IDP.Audiences,
	}, store, decorator)
	if err != nil {
		log.Errorf("credential broker init failed: %v", err)
		os.Exit(1)
	}

	resolver := configresolver.New(cfg.Mgmt.BaseURL, cfg.Mgmt.RequestTimeout, cfg.Mgmt.PollInterval, broker, decorator, log)
	if err := resolver.Start(ctx); err != nil {
		log.Errorf("initial configuration poll failed: %v", err)
		os.Exit(1)
	}
	defer resolver.Stop()

	sink := newKafkaSink(cfg.Kafka.BootstrapServers)

	opener := func(ctx context.Context, desc *connection.Descriptor) (wire.Client, func() error, error) {
		dialOpts := transport.DialOptions(cfg.Client.KeepAliveTime, cfg.Client.KeepAliveTimeout, desc.TLS)
		cc, err := grpc.NewClient(fmt.Sprintf("%s:%d", desc.ServerHost, desc.ServerPort), dialOpts...)
		if err != nil {
			return nil, nil, err
		}
		return wire.NewClient(cc), cc.Close, nil
	}

	objStore, err := objectstore.New(ctx, objectstore.Config{Kind: objectstore.KindLocal, LocalDir: cfg.Client.FilesTempDir})
	if err != nil {
		log.Errorf("object store init failed: %v", err)
		os.Exit(1)
	}
	assembler, err := fileassembler.New(cfg.Client.FilesTempDir, objStore)
	if err != nil {
		log.Errorf("file assembler init failed: %v", err)
		os.Exit(1)
	}

	cond := conductor.New(opener, store, sink, assembler, decorator, log)

	var wg sync.WaitGroup
	snap := resolver.Current()
	for clientID, cc := range snap.Consumers {
		for _, grant := range cc.Topics {
			producer, ok := snap.ProducerFor(grant.Topic)
			if !ok {
				log.Warnf("no producer found for topic %s, skipping", grant.Topic)
				continue
			}
			desc, err := connection.New(clientID, cfg.IDP.ClientSecret, producer.ServerName, producer.Host, producer.Port, producer.TLS)
			if err != nil {
				log.Warnf("skipping invalid connection descriptor for %s/%s: %v", clientID, grant.Topic, err)
				continue
			}

			recordTask := conductor.Task{Descriptor: desc, ClientID: clientID, ClientKey: cfg.IDP.ClientSecret, Topic: grant.Topic, Kind: conductor.KindRecords}
			fileTask := conductor.Task{Descriptor: desc, ClientID: clientID, ClientKey: cfg.IDP.ClientSecret, Topic: grant.Topic, Kind: conductor.KindFiles}

			for _, t := range []conductor.Task{recordTask, fileTask} {
				wg.Add(1)
				go func(t conductor.Task) {
					defer wg.Done()
					if err := cond.Run(ctx, t); err != nil && ctx.Err() == nil {
						log.Errorf("conductor task %s/%s (kind=%d) exited: %v", t.Descriptor.ServerName, t.Topic, t.Kind, err)
					}
				}(t)
			}
		}
	}

	checker := health.NewChecker()
	checker.Run("redis", func() error { return store.Ping(ctx) })

	healthMux := http.NewServeMux()
	healthMux.Handle("/healthz", checker.Handler())
	healthMux.Handle("/metrics", metrics.Handler())
	healthServer := &http.Server{Addr: cfg.Server.HealthAddr, Handler: healthMux}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("health server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("shutdown signal received, draining")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()
	_ = healthServer.Shutdown(drainCtx)

	wg.Wait()
	log.Infof("consumer shut down cleanly")
}
