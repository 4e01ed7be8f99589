// Package jwks fetches a JSON Web Key Set on demand and verifies bearer
// tokens against it, implementing the verification half of the
// Credential Broker.
package jwks

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

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

// Verifier fetches and caches a JWKS document and verifies RS256 tokens
// against it.
type Verifier struct {
	url        string
	httpClient *http.Client
	audiences  []string

	mu      sync.RWMutex
	keys    map[string]*rsa.PublicKey
	fetched time.Time
	ttl     time.Duration
}

// NewVerifier builds a Verifier for the given JWKS URL. ttl bounds how
// long a fetched document is trusted before a refetch is attempted.
func NewVerifier(url string, audiences []string, ttl time.Duration) *Verifier {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Verifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		audiences:  audiences,
		keys:       make(map[string]*rsa.PublicKey),
		ttl:        ttl,
	}
}

// Claims is the subset of JWT claims the auth gate cares about.
type Claims struct {
	ClientID string
	Subject  string
	Audience []string
	ExpireAt time.Time
}

// Verify checks signature (RS256, matched by kid, use=sig), expiry, and
// (if configured) audience membership, returning the
// caller's resolved client id from the client_id claim, falling back to
// sub.
func (v *Verifier) Verify(rawToken string) (*Claims, error) {
	token, err := jwt.Parse(rawToken, v.keyFunc, jwt.WithValidMethods([]string{"RS256"}))
	if err != nil {
		return nil, fmt.Errorf("jwks: verify token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("jwks: token is not valid")
	}

	mapClaims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("jwks: unexpected claims type")
	}

	exp, err := mapClaims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, fmt.Errorf("jwks: token has no exp claim")
	}
	if exp.Before(time.Now()) {
		return nil, fmt.Errorf("jwks: token expired at %s", exp)
	}

	aud, _ := mapClaims.GetAudience()
	if len(v.audiences) > 0 && !audienceIntersects(aud, v.audiences) {
		return nil, fmt.Errorf("jwks: token audience %v does not intersect configured audiences %v", aud, v.audiences)
	}

	clientID, _ := mapClaims["client_id"].(string)
	if clientID == "" {
		if sub, err := mapClaims.GetSubject(); err == nil {
			clientID = sub
		}
	}
	if clientID == "" {
		return nil, fmt.Errorf("jwks: token has neither client_id nor sub claim")
	}

	return &Claims{ClientID: clientID, Subject: clientID, Audience: aud, ExpireAt: exp.Time}, nil
}

func audienceIntersects(tokenAud, configured []string) bool {
	set := make(map[string]struct{}, len(configured))
	for _, a := range configured {
		set[a] = struct{}{}
	}
	for _, a := range tokenAud {
		if _, ok := set[a]; ok {
			return true
		}
	}
	return false
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token has no kid header")
	}

	key, ok := v.getCachedKey(kid)
	if ok {
		return key, nil
	}

	if err := v.refresh(); err != nil {
		return nil, err
	}

	key, ok = v.getCachedKey(kid)
	if !ok {
		return nil, fmt.Errorf("no signing key found for kid %q", kid)
	}
	return key, nil
}

func (v *Verifier) getCachedKey(kid string) (*rsa.PublicKey, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if time.Since(v.fetched) > v.ttl {
		return nil, false
	}
	key, ok := v.keys[kid]
	return key, ok
}

// refresh fetches the JWKS document and rebuilds the kid->key cache,
// selecting only RSA keys with use=sig.
func (v *Verifier) refresh() error {
	resp, err := v.httpClient.Get(v.url)
	if err != nil {
		return fmt.Errorf("jwks: fetching %s: %w", v.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: unexpected status %d fetching %s", resp.StatusCode, v.url)
	}

	var doc jwksDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("jwks: decoding document: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey)
	for _, k := range doc.Keys {
		if !strings.EqualFold(k.Kty, "RSA") || k.Use != "sig" {
			continue
		}
		if k.Alg != "" && k.Alg != "RS256" {
			continue
		}
		pub, err := rsaPublicKeyFromJWK(k)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	v.mu.Lock()
	v.keys = keys
	v.fetched = time.Now()
	v.mu.Unlock()
	return nil
}

func rsaPublicKeyFromJWK(k jwk) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding e: %w", err)
	}

	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)

	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}
