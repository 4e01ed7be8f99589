// Package transport builds the gRPC server the federator's StreamFederationService
// runs on, wiring in TLS/mTLS, keepalive enforcement, and the
// authentication/authorization interceptor from internal/authgate.
package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"

	_ "github.com/National-Digital-Twin/federator-go/internal/wire" // registers the JSON codec under the "proto" name
)

// Options configures the gRPC server.
type Options struct {
	Port             int
	KeepAliveTime    time.Duration
	KeepAliveTimeout time.Duration

	TLSEnabled        bool
	CertChainFile     string
	PrivateKeyFile    string
	CAPem             string
	RequireClientCert bool

	UnaryInterceptor  grpc.UnaryServerInterceptor
	StreamInterceptor grpc.StreamServerInterceptor
}

// NewServer builds a *grpc.Server from opts, without starting it.
func NewServer(opts Options) (*grpc.Server, error) {
	var serverOpts []grpc.ServerOption

	serverOpts = append(serverOpts, grpc.KeepaliveParams(keepalive.ServerParameters{
		Time:    opts.KeepAliveTime,
		Timeout: opts.KeepAliveTimeout,
	}))
	serverOpts = append(serverOpts, grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
		MinTime:             opts.KeepAliveTime / 2,
		PermitWithoutStream: true,
	}))

	if opts.TLSEnabled {
		tlsConfig, err := buildServerTLSConfig(opts)
		if err != nil {
			return nil, err
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	if opts.UnaryInterceptor != nil {
		serverOpts = append(serverOpts, grpc.UnaryInterceptor(opts.UnaryInterceptor))
	}
	if opts.StreamInterceptor != nil {
		serverOpts = append(serverOpts, grpc.StreamInterceptor(opts.StreamInterceptor))
	}

	return grpc.NewServer(serverOpts...), nil
}

func buildServerTLSConfig(opts Options) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(opts.CertChainFile, opts.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("transport: loading server cert/key: %w", err)
	}

	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if opts.RequireClientCert {
		pool := x509.NewCertPool()
		caBytes, err := os.ReadFile(opts.CAPem)
		if err != nil {
			return nil, fmt.Errorf("transport: reading client CA bundle: %w", err)
		}
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, fmt.Errorf("transport: no certificates found in %s", opts.CAPem)
		}
		cfg.ClientCAs = pool
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}

	return cfg, nil
}

// DialOptions builds the client-side keepalive/TLS dial options for a
// connection.Descriptor-driven outbound connection. Idle-connection
// reclamation is handled by the conductor's reconnect loop rather than at
// the transport layer.
func DialOptions(keepAliveTime, keepAliveTimeout time.Duration, tlsEnabled bool) []grpc.DialOption {
	var opts []grpc.DialOption
	opts = append(opts, grpc.WithKeepaliveParams(keepalive.ClientParameters{
		Time:                keepAliveTime,
		Timeout:             keepAliveTimeout,
		PermitWithoutStream: true,
	}))
	if tlsEnabled {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	return opts
}
