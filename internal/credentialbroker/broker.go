// Package credentialbroker implements the Credential Broker: it obtains
// and caches OAuth2 access tokens from the IDP using either a
// client-secret or mutual-TLS flow, and verifies incoming JWTs via
// internal/jwks.
package credentialbroker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
	"github.com/National-Digital-Twin/federator-go/internal/jwks"
	"github.com/National-Digital-Twin/federator-go/internal/offsetstore"
	"github.com/National-Digital-Twin/federator-go/internal/retry"
)

// defaultTokenCacheID is used when the caller does not name a specific
// managed identity.
const defaultTokenCacheID = "default"

// bufferSeconds is subtracted from a cached token's expiry before it is
// considered stale.
const bufferSeconds = 10

// Config configures the broker's outbound flow.
type Config struct {
	TokenURL         string
	ClientID         string
	ClientSecret     string
	MTLSEnabled      bool
	KeystorePath     string
	KeystorePassword string
	TruststorePath   string
	Backoff          time.Duration
	JWKSURL          string
	Audiences        []string
}

// Broker is the Credential Broker.
type Broker struct {
	cfg       Config
	cache     *offsetstore.Store
	verifier  *jwks.Verifier
	decorator *retry.Decorator

	httpClient *http.Client
}

// New builds a Broker. cache is the offset store used for token caching;
// decorator wraps fetch and verify calls with the shared resilience
// policy.
func New(cfg Config, cache *offsetstore.Store, decorator *retry.Decorator) (*Broker, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if cfg.MTLSEnabled {
		tlsConfig, err := buildMTLSConfig(cfg.KeystorePath, cfg.KeystorePassword, cfg.TruststorePath)
		if err != nil {
			return nil, &ferrors.ConfigurationError{Field: "idp.mtls", Reason: err.Error()}
		}
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsConfig}
	}

	return &Broker{
		cfg:        cfg,
		cache:      cache,
		verifier:   jwks.NewVerifier(cfg.JWKSURL, cfg.Audiences, 0),
		decorator:  decorator,
		httpClient: httpClient,
	}, nil
}

// buildMTLSConfig loads a client keystore and truststore for the mTLS
// flow. Keystore/truststore are expected as PEM files: PKCS12
// conversion is an operator responsibility, outside this package.
func buildMTLSConfig(keystorePath, keystorePassword, truststorePath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(keystorePath, keystorePath)
	if err != nil {
		return nil, fmt.Errorf("loading client keystore: %w", err)
	}

	pool := x509.NewCertPool()
	caBytes, err := os.ReadFile(truststorePath)
	if err != nil {
		return nil, fmt.Errorf("reading truststore: %w", err)
	}
	if !pool.AppendCertsFromPEM(caBytes) {
		return nil, fmt.Errorf("no certificates found in truststore %s", truststorePath)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func tokenCacheKey(id string) string {
	if id == "" {
		id = defaultTokenCacheID
	}
	return fmt.Sprintf("management_node_%s_access_token", id)
}

// FetchToken returns a cached token when fresh, otherwise performs the
// configured flow (client-secret or mTLS) and caches the result with TTL
// = expires_in minus bufferSeconds (floored at zero).
func (b *Broker) FetchToken(ctx context.Context, id string) (string, error) {
	cacheKey := tokenCacheKey(id)

	var cached string
	if err := b.cache.GetValue(ctx, cacheKey, &cached); err == nil && cached != "" {
		return cached, nil
	}

	var token string
	op := func(ctx context.Context) error {
		t, expiresIn, err := b.fetchFromIDP(ctx)
		if err != nil {
			return &ferrors.TokenFetchError{Endpoint: b.cfg.TokenURL, Err: err}
		}
		token = t
		ttl := expiresIn - bufferSeconds
		if ttl < 0 {
			ttl = 0
		}
		return b.cache.SetValue(ctx, cacheKey, t, ttl)
	}

	if err := b.decorator.Do(ctx, "credential-broker.fetchToken", nil, op); err != nil {
		return "", err
	}
	return token, nil
}

// EvictToken removes the cached token for id, used on a 401 from the
// Management Node.
func (b *Broker) EvictToken(ctx context.Context, id string) error {
	return b.cache.Delete(ctx, tokenCacheKey(id))
}

// fetchFromIDP performs the client-secret or mTLS client-credentials
// grant and returns the raw access token and its expires_in in seconds.
func (b *Broker) fetchFromIDP(ctx context.Context) (string, int64, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)

	ccCfg := &clientcredentials.Config{
		ClientID:     b.cfg.ClientID,
		ClientSecret: b.cfg.ClientSecret,
		TokenURL:     b.cfg.TokenURL,
	}
	if b.cfg.MTLSEnabled {
		// mTLS flow: same request body without the secret, client
		// identity carried by the TLS client certificate instead.
		ccCfg.ClientSecret = ""
	}

	token, err := ccCfg.Token(ctx)
	if err != nil {
		if b.cfg.Backoff > 0 {
			time.Sleep(b.cfg.Backoff)
			token, err = ccCfg.Token(ctx)
		}
		if err != nil {
			return "", 0, err
		}
	}

	expiresIn := int64(time.Until(token.Expiry).Seconds())
	if token.Expiry.IsZero() {
		expiresIn = 0
	}
	return token.AccessToken, expiresIn, nil
}

// VerifyToken verifies an inbound bearer token, wrapped by the same
// resilience decorator as FetchToken.
func (b *Broker) VerifyToken(ctx context.Context, rawToken string) (*jwks.Claims, error) {
	var claims *jwks.Claims
	op := func(ctx context.Context) error {
		c, err := b.verifier.Verify(rawToken)
		if err != nil {
			return &ferrors.TokenFetchError{Endpoint: b.cfg.JWKSURL, Err: err}
		}
		claims = c
		return nil
	}
	if err := b.decorator.Do(ctx, "credential-broker.verifyToken", nil, op); err != nil {
		return nil, err
	}
	return claims, nil
}
