// Package config loads the federator's typed, process-lifetime
// configuration from a YAML file, with environment-variable overrides
// for secrets. It follows the struct-tree, gopkg.in/yaml.v3-tagged
// convention used elsewhere in this codebase (one nested struct per
// concern), but stays a single immutable value for this process's
// lifetime: both binaries in this repository are standalone, with no
// live-reload / restart-key machinery.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/National-Digital-Twin/federator-go/internal/ferrors"
)

// Config is the root configuration tree.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Client  ClientConfig  `yaml:"client"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	File    FileConfig    `yaml:"file"`
	Redis   RedisConfig   `yaml:"redis"`
	IDP     IDPConfig     `yaml:"idp"`
	Mgmt    MgmtConfig    `yaml:"management"`
	Logging LoggingConfig `yaml:"logging"`
}

type ServerConfig struct {
	Port                int           `yaml:"port"`
	KeepAliveTime       time.Duration `yaml:"keepAliveTime"`
	KeepAliveTimeout    time.Duration `yaml:"keepAliveTimeout"`
	TLSEnabled          bool          `yaml:"tlsEnabled"`
	CertChainFile       string        `yaml:"certChainFile"`
	PrivateKeyFile      string        `yaml:"privateKeyFile"`
	CAPem               string        `yaml:"caPem"`
	RequireClientCert   bool          `yaml:"requireClientCert"`
	HealthAddr          string        `yaml:"healthAddr"`
}

type ClientConfig struct {
	KeepAliveTime    time.Duration `yaml:"keepAliveTime"`
	KeepAliveTimeout time.Duration `yaml:"keepAliveTimeout"`
	IdleTimeout      time.Duration `yaml:"idleTimeout"`
	FilesTempDir     string        `yaml:"filesTempDir"`
}

type KafkaConfig struct {
	BootstrapServers []string          `yaml:"bootstrapServers"`
	ConsumerGroup    string            `yaml:"consumerGroup"`
	PollRecords      int               `yaml:"pollRecords"`
	PollDuration     time.Duration     `yaml:"pollDuration"`
	Offset           int64             `yaml:"offset"`
	Additional       map[string]string `yaml:"additional"`
	SharedHeaders    []string          `yaml:"sharedHeaders"`
}

type FileConfig struct {
	StreamChunkSize int            `yaml:"streamChunkSize"`
	DescriptorTopic string         `yaml:"descriptorTopic"`
	S3              FileStoreCreds `yaml:"s3"`
	Azure           FileStoreCreds `yaml:"azure"`
	GCS             FileStoreCreds `yaml:"gcs"`
}

// FileStoreCreds carries one cloud object-store backend's connection
// settings. Left blank for any provider the operator's descriptors never
// reference.
type FileStoreCreds struct {
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	UseSSL          bool   `yaml:"useSsl"`
	ProjectID       string `yaml:"projectId"`
}

type RedisConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	TLSEnabled bool   `yaml:"tlsEnabled"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	AESKey     string `yaml:"aesKey"`
	Prefix     string `yaml:"prefix"`
}

type IDPConfig struct {
	TokenURL         string        `yaml:"tokenUrl"`
	JWKSURL          string        `yaml:"jwksUrl"`
	ClientID         string        `yaml:"clientId"`
	ClientSecret     string        `yaml:"clientSecret"`
	MTLSEnabled      bool          `yaml:"mtlsEnabled"`
	TruststorePath   string        `yaml:"truststorePath"`
	TruststorePasswd string        `yaml:"truststorePassword"`
	KeystorePath     string        `yaml:"keystorePath"`
	KeystorePasswd   string        `yaml:"keystorePassword"`
	TokenBackoff     time.Duration `yaml:"tokenBackoff"`
	Audiences        []string      `yaml:"audiences"`
}

type MgmtConfig struct {
	BaseURL          string          `yaml:"baseUrl"`
	RequestTimeout   time.Duration   `yaml:"requestTimeout"`
	PollInterval     time.Duration   `yaml:"pollInterval"`
	Retry            ResilienceRetry `yaml:"retry"`
	CircuitBreaker   ResilienceCB    `yaml:"circuitBreaker"`
}

type ResilienceRetry struct {
	MaxAttempts  int           `yaml:"maxAttempts"`
	InitialWait  time.Duration `yaml:"initialWait"`
	MaxBackoff   time.Duration `yaml:"maxBackoff"`
	Exponential  float64       `yaml:"exponential"`
}

type ResilienceCB struct {
	FailureRateThreshold    float64       `yaml:"failureRateThreshold"`
	MinimumCalls            int           `yaml:"minimumCalls"`
	WaitDurationInOpenState time.Duration `yaml:"waitDurationInOpenState"`
	PermittedHalfOpenCalls  int           `yaml:"permittedHalfOpenCalls"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:             8080,
			KeepAliveTime:    5 * time.Second,
			KeepAliveTimeout: 1 * time.Second,
			TLSEnabled:       true,
			HealthAddr:       ":9090",
		},
		Client: ClientConfig{
			KeepAliveTime:    30 * time.Second,
			KeepAliveTimeout: 10 * time.Second,
			IdleTimeout:      10 * time.Second,
		},
		Kafka: KafkaConfig{
			PollRecords:  500,
			PollDuration: 2 * time.Second,
			Offset:       0,
		},
		File: FileConfig{
			StreamChunkSize: 1_000_000, // 1MB default chunk size
			DescriptorTopic: "file-descriptors",
		},
		Redis: RedisConfig{
			Host:       "localhost",
			Port:       6379,
			TLSEnabled: true,
		},
		IDP: IDPConfig{
			MTLSEnabled:  false,
			TokenBackoff: time.Second,
		},
		Mgmt: MgmtConfig{
			RequestTimeout: 10 * time.Second,
			PollInterval:   30 * time.Second,
			Retry: ResilienceRetry{
				MaxAttempts: 3,
				InitialWait: 500 * time.Millisecond,
				MaxBackoff:  10 * time.Second,
				Exponential: 2.0,
			},
			CircuitBreaker: ResilienceCB{
				FailureRateThreshold:    0.5,
				MinimumCalls:            10,
				WaitDurationInOpenState: 30 * time.Second,
				PermittedHalfOpenCalls:  3,
			},
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path, overlays environment-variable overrides for secrets,
// and validates the result. Any error returned is a
// *ferrors.ConfigurationError and should be treated as fatal by the
// caller's main().
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ferrors.ConfigurationError{Field: path, Reason: err.Error()}
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, &ferrors.ConfigurationError{Field: path, Reason: fmt.Sprintf("invalid yaml: %v", err)}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FEDERATOR_IDP_CLIENT_SECRET"); v != "" {
		cfg.IDP.ClientSecret = v
	}
	if v := os.Getenv("FEDERATOR_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("FEDERATOR_REDIS_AES_KEY"); v != "" {
		cfg.Redis.AESKey = v
	}
	if v := os.Getenv("FEDERATOR_IDP_KEYSTORE_PASSWORD"); v != "" {
		cfg.IDP.KeystorePasswd = v
	}
	if v := os.Getenv("FEDERATOR_IDP_TRUSTSTORE_PASSWORD"); v != "" {
		cfg.IDP.TruststorePasswd = v
	}
}

func (c *Config) validate() error {
	if c.Server.Port < 0 {
		return &ferrors.ConfigurationError{Field: "server.port", Reason: "must not be negative"}
	}
	if c.File.StreamChunkSize <= 0 {
		return &ferrors.ConfigurationError{Field: "file.stream.chunk.size", Reason: "must be positive"}
	}
	if c.Server.TLSEnabled {
		if c.Server.CertChainFile == "" || c.Server.PrivateKeyFile == "" {
			return &ferrors.ConfigurationError{Field: "server.certChainFile/privateKeyFile", Reason: "required when server.tlsEnabled is true"}
		}
	}
	return nil
}
