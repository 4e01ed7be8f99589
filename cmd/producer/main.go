package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/National-Digital-Twin/federator-go/internal/authgate"
	"github.com/National-Digital-Twin/federator-go/internal/config"
	"github.com/National-Digital-Twin/federator-go/internal/configresolver"
	"github.com/National-Digital-Twin/federator-go/internal/credentialbroker"
	"github.com/National-Digital-Twin/federator-go/internal/filestream"
	"github.com/National-Digital-Twin/federator-go/internal/filter"
	"github.com/National-Digital-Twin/federator-go/internal/health"
	"github.com/National-Digital-Twin/federator-go/internal/logging"
	"github.com/National-Digital-Twin/federator-go/internal/metrics"
	"github.com/National-Digital-Twin/federator-go/internal/offsetstore"
	"github.com/National-Digital-Twin/federator-go/internal/recordstream"
	"github.com/National-Digital-Twin/federator-go/internal/retry"
	"github.com/National-Digital-Twin/federator-go/internal/transport"
	"github.com/National-Digital-Twin/federator-go/internal/wire"

	kafkago "github.com/segmentio/kafka-go"
)

var (
	Version    = "dev"
	configFile = flag.String("config", "config.yaml", "Configuration file path")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "producer: failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.New("producer", cfg.Logging.Level)
	log.Infof("starting federator producer v%s", Version)

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

	gate := authgate.New(broker, resolver)
	registry := filter.NewRegistry()

	readerFactory := func(topic string, startOffset int64) recordstream.Reader {
		return kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: cfg.Kafka.BootstrapServers,
			Topic:   topic,
		})
	}
	recordSvc := recordstream.New(readerFactory, cfg.Kafka.SharedHeaders, cfg.Client.IdleTimeout, log)

	fileReaderFactory := func(topic string, startSequenceID int64) filestream.Reader {
		return kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: cfg.Kafka.BootstrapServers,
			Topic:   topic,
		})
	}
	fileSvc := filestream.New(fileReaderFactory, cfg.Client.FilesTempDir, filestream.StoreConfigs{
		S3: filestream.StoreConfig{
			Region:          cfg.File.S3.Region,
			Endpoint:        cfg.File.S3.Endpoint,
			AccessKeyID:     cfg.File.S3.AccessKeyID,
			SecretAccessKey: cfg.File.S3.SecretAccessKey,
			UseSSL:          cfg.File.S3.UseSSL,
		},
		Azure: filestream.StoreConfig{
			Endpoint:        cfg.File.Azure.Endpoint,
			AccessKeyID:     cfg.File.Azure.AccessKeyID,
			SecretAccessKey: cfg.File.Azure.SecretAccessKey,
		},
		GCS: filestream.StoreConfig{
			GCSProjectID: cfg.File.GCS.ProjectID,
		},
	}, cfg.File.StreamChunkSize, log)

	wireServer := newWireServer(resolver, registry, recordSvc, fileSvc, log)

	grpcServer, err := transport.NewServer(transport.Options{
		Port:              cfg.Server.Port,
		KeepAliveTime:     cfg.Server.KeepAliveTime,
		KeepAliveTimeout:  cfg.Server.KeepAliveTimeout,
		TLSEnabled:        cfg.Server.TLSEnabled,
		CertChainFile:     cfg.Server.CertChainFile,
		PrivateKeyFile:    cfg.Server.PrivateKeyFile,
		CAPem:             cfg.Server.CAPem,
		RequireClientCert: cfg.Server.RequireClientCert,
		UnaryInterceptor:  gate.UnaryInterceptor,
		StreamInterceptor: gate.StreamInterceptor,
	})
	if err != nil {
		log.Errorf("building gRPC server failed: %v", err)
		os.Exit(1)
	}
	wire.RegisterServer(grpcServer, wireServer)

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

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.Port))
	if err != nil {
		log.Errorf("listen failed: %v", err)
		os.Exit(1)
	}

	go func() {
		log.Infof("gRPC server listening on :%d", cfg.Server.Port)
		if err := grpcServer.Serve(lis); err != nil {
			log.Errorf("gRPC server stopped: %v", err)
		}
	}()

	<-ctx.Done()
	log.Infof("shutdown signal received, draining")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer drainCancel()

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-drainCtx.Done():
		grpcServer.Stop()
	}

	_ = healthServer.Shutdown(drainCtx)
	log.Infof("producer shut down cleanly")
}
