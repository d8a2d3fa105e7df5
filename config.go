package msgbox

import (
	"time"

	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
)

type (
	Config struct {
		Logger     *zap.Logger    `ignored:"true"`
		Redis      RedisConfig    `split_words:"true"`
		Bolt       BoltConfig     `split_words:"true"`
		Postgres   PostgresConfig `split_words:"true"`
		DedupeSize int            `split_words:"true"`
	}

	RedisConfig struct {
		Addr           string        `split_words:"true"`
		Password       string        `split_words:"true"`
		Prefix         string        `split_words:"true"`
		DB             int           `split_words:"true"`
		ConnectTimeout time.Duration `split_words:"true"`

		// SlotParts wraps the first n AggregateID parts of each key in a
		// hash tag, keeping those aggregates on one Redis Cluster slot
		SlotParts int `split_words:"true"`
	}

	BoltConfig struct {
		Path        string        `split_words:"true"`
		OpenTimeout time.Duration `split_words:"true"`
	}

	PostgresConfig struct {
		DSN      string `split_words:"true"`
		Table    string `split_words:"true"`
		MaxConns int32  `split_words:"true"`
	}
)

const (
	// EnvPrefix prefixes the environment variables read by LoadConfig
	EnvPrefix = "MSGBOX"

	DefaultRedisEndpoint       = "localhost:6379"
	DefaultRedisPrefix         = "msgbox"
	DefaultRedisDB             = 0
	DefaultRedisConnectTimeout = 5 * time.Second
	DefaultBoltPath            = "msgbox.db"
	DefaultBoltOpenTimeout     = time.Second
	DefaultPostgresTable       = "msgbox_messages"
	DefaultPostgresMaxConns    = 4
	DefaultDedupeSize          = 4096
)

func DefaultConfig() Config {
	return Config{
		Logger:     zap.NewNop(),
		Redis:      DefaultRedisConfig(),
		Bolt:       DefaultBoltConfig(),
		Postgres:   DefaultPostgresConfig(),
		DedupeSize: DefaultDedupeSize,
	}
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:           DefaultRedisEndpoint,
		Password:       "",
		Prefix:         DefaultRedisPrefix,
		DB:             DefaultRedisDB,
		ConnectTimeout: DefaultRedisConnectTimeout,
	}
}

func DefaultBoltConfig() BoltConfig {
	return BoltConfig{
		Path:        DefaultBoltPath,
		OpenTimeout: DefaultBoltOpenTimeout,
	}
}

func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		Table:    DefaultPostgresTable,
		MaxConns: DefaultPostgresMaxConns,
	}
}

// LoadConfig starts from DefaultConfig and overrides it with any MSGBOX_*
// environment variables, e.g. MSGBOX_REDIS_ADDR or MSGBOX_POSTGRES_DSN
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// NewDispatcher creates a SynchronousDispatcher that logs through the
// configured Logger. When DedupeSize is positive, each Consumer is wrapped
// with Idempotent
func (c Config) NewDispatcher(consumers ...Consumer) *SynchronousDispatcher {
	if c.DedupeSize > 0 {
		wrapped := make([]Consumer, len(consumers))
		for i, cons := range consumers {
			wrapped[i] = Idempotent(cons, c.DedupeSize)
		}
		consumers = wrapped
	}
	return NewSynchronousDispatcher(c.logger(), consumers...)
}

// NewHub creates a Hub that logs through the configured Logger
func (c Config) NewHub(opts ...HubOption) *Hub {
	return NewHub(append([]HubOption{WithHubLogger(c.logger())}, opts...)...)
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}
