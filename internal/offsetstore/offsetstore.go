// Package offsetstore wraps an external key-value store (Redis) with
// encryption-at-rest, key-prefixing, and TTL semantics for offsets and
// cached tokens.
package offsetstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
)

// Store is the Offset Store Adapter.
type Store struct {
	client    *redis.Client
	prefix    string
	encryptor *encryptor // nil when no AES key is configured
}

// Options configures a new Store.
type Options struct {
	Host       string
	Port       int
	TLSEnabled bool
	Username   string
	Password   string
	AESKeyHex  string
	Prefix     string
}

// New dials Redis and performs a fail-fast smoke test (write a known
// value, read it back, assert equality) before returning: startup
// aborts on mismatch rather than merely logging.
func New(ctx context.Context, opts Options) (*Store, error) {
	redisOpts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Username: opts.Username,
		Password: opts.Password,
	}
	if opts.TLSEnabled {
		redisOpts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	client := redis.NewClient(redisOpts)

	var enc *encryptor
	if opts.AESKeyHex != "" {
		var err error
		enc, err = newEncryptor(opts.AESKeyHex)
		if err != nil {
			return nil, &ferrors.ConfigurationError{Field: "redis.aes.key", Reason: err.Error()}
		}
	}

	s := &Store{client: client, prefix: opts.Prefix, encryptor: enc}

	if err := s.smokeTest(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

const smokeTestKey = "__federator_smoke_test__"

func (s *Store) smokeTest(ctx context.Context) error {
	const want = "ok"
	if err := s.SetValue(ctx, smokeTestKey, want, 0); err != nil {
		return &ferrors.ConfigurationError{Field: "redis", Reason: fmt.Sprintf("smoke test write failed: %v", err)}
	}
	var got string
	if err := s.GetValue(ctx, smokeTestKey, &got); err != nil {
		return &ferrors.ConfigurationError{Field: "redis", Reason: fmt.Sprintf("smoke test read failed: %v", err)}
	}
	if got != want {
		return &ferrors.ConfigurationError{Field: "redis", Reason: fmt.Sprintf("smoke test mismatch: wrote %q, read %q", want, got)}
	}
	_ = s.client.Del(ctx, s.key(smokeTestKey)).Err()
	return nil
}

func (s *Store) key(k string) string {
	if s.prefix == "" {
		return k
	}
	return s.prefix + ":" + k
}

func offsetKey(client, topic string) string {
	return fmt.Sprintf("topic:%s-%s:offset", client, topic)
}

// GetOffset returns the stored offset for (client, topic), or 0 when
// absent.
func (s *Store) GetOffset(ctx context.Context, client, topic string) (int64, error) {
	raw, err := s.client.Get(ctx, s.key(offsetKey(client, topic))).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("offsetstore: get offset: %w", err)
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("offsetstore: corrupt offset value %q: %w", raw, err)
	}
	return v, nil
}

// SetOffset persists v for (client, topic). Administrative resets (setting
// a smaller value than previously stored) are the only sanctioned
// decrease; this adapter does not enforce monotonicity, and the streaming
// conductor writes each new offset without comparing it to the stored one.
func (s *Store) SetOffset(ctx context.Context, client, topic string, v int64) error {
	err := s.client.Set(ctx, s.key(offsetKey(client, topic)), strconv.FormatInt(v, 10), 0).Err()
	if err != nil {
		return fmt.Errorf("offsetstore: set offset: %w", err)
	}
	return nil
}

// GetValue reads a generic value (e.g. a cached token) into out, applying
// decryption when an AES key is configured. Returns ErrNotFound when
// absent.
func (s *Store) GetValue(ctx context.Context, key string, out *string) error {
	raw, err := s.client.Get(ctx, s.key(key)).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("offsetstore: get value: %w", err)
	}
	if s.encryptor != nil {
		plain, err := s.encryptor.decrypt(raw)
		if err != nil {
			return fmt.Errorf("offsetstore: decrypt value: %w", err)
		}
		*out = plain
		return nil
	}
	*out = raw
	return nil
}

// SetValue writes v under key with an optional TTL (ttlSeconds<=0 means no
// expiry), encrypting at rest when an AES key is configured.
func (s *Store) SetValue(ctx context.Context, key, v string, ttlSeconds int64) error {
	payload := v
	if s.encryptor != nil {
		encrypted, err := s.encryptor.encrypt(v)
		if err != nil {
			return fmt.Errorf("offsetstore: encrypt value: %w", err)
		}
		payload = encrypted
	}

	var ttl int64
	if ttlSeconds > 0 {
		ttl = ttlSeconds
	}
	err := s.client.Set(ctx, s.key(key), payload, secondsToDuration(ttl)).Err()
	if err != nil {
		return fmt.Errorf("offsetstore: set value: %w", err)
	}
	return nil
}

// Delete removes key unconditionally; used for token eviction on 401.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("offsetstore: delete: %w", err)
	}
	return nil
}

// Ping verifies the Redis connection is live, for use by the process
// health check.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("offsetstore: ping: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}

// ErrNotFound is returned by GetValue when the key is absent.
var ErrNotFound = fmt.Errorf("offsetstore: value not found")
