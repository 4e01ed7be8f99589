package credentialbroker

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
	"github.com/National-Digital-Twin/federator-go/internal/retry"
)

func TestTokenCacheKeyDefaultsWhenBlank(t *testing.T) {
	assert.Equal(t, "management_node_default_access_token", tokenCacheKey(""))
	assert.Equal(t, "management_node_producer-1_access_token", tokenCacheKey("producer-1"))
}

func TestNewWithoutMTLSSucceeds(t *testing.T) {
	decorator := retry.NewDecorator(retry.Policy{MaxAttempts: 1}, nil)
	b, err := New(Config{TokenURL: "https://idp.example.com/token", JWKSURL: "https://idp.example.com/jwks"}, nil, decorator)
	require.NoError(t, err)
	assert.NotNil(t, b)
}

func TestNewWithMTLSRejectsMissingFiles(t *testing.T) {
	decorator := retry.NewDecorator(retry.Policy{MaxAttempts: 1}, nil)
	_, err := New(Config{
		MTLSEnabled:    true,
		KeystorePath:   "/nonexistent/keystore.pem",
		TruststorePath: "/nonexistent/truststore.pem",
	}, nil, decorator)

	require.Error(t, err)
	var cfgErr *ferrors.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "idp.mtls", cfgErr.Field)
}

type jwk struct {
	Kty string `json:"kty"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	N   string `json:"n"`
	E   string `json:"e"`
}

type jwksDoc struct {
	Keys []jwk `json:"keys"`
}

func startJWKSServer(t *testing.T, key *rsa.PrivateKey, kid string) *httptest.Server {
	t.Helper()
	doc := jwksDoc{Keys: []jwk{{
		Kty: "RSA",
		Use: "sig",
		Kid: kid,
		Alg: "RS256",
		N:   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString([]byte{1, 0, 1}),
	}}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(doc)
	}))
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func TestVerifyTokenSuccess(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := startJWKSServer(t, key, "kid-1")
	defer srv.Close()

	decorator := retry.NewDecorator(retry.Policy{MaxAttempts: 1}, nil)
	b, err := New(Config{JWKSURL: srv.URL}, nil, decorator)
	require.NoError(t, err)

	raw := signToken(t, key, "kid-1", jwt.MapClaims{
		"client_id": "client-a",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	claims, err := b.VerifyToken(t.Context(), raw)
	require.NoError(t, err)
	assert.Equal(t, "client-a", claims.ClientID)
}

func TestVerifyTokenRejectsBadSignature(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	otherKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	srv := startJWKSServer(t, key, "kid-1")
	defer srv.Close()

	decorator := retry.NewDecorator(retry.Policy{MaxAttempts: 1}, nil)
	b, err := New(Config{JWKSURL: srv.URL}, nil, decorator)
	require.NoError(t, err)

	raw := signToken(t, otherKey, "kid-1", jwt.MapClaims{
		"client_id": "client-a",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})

	_, err = b.VerifyToken(t.Context(), raw)
	require.Error(t, err)
}
