package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	pkgstrings "libsync/pkg/platform/strings"
)

// EnvPrefix is prepended to every environment key: database.url -> LIBSYNC_DATABASE_URL.
const EnvPrefix = "LIBSYNC"

// Config is the full application configuration.
type Config struct {
	Database DatabaseConfig
	Sync     SyncConfig
	Redis    RedisConfig
	Kafka    KafkaConfig
	Server   Server
	JWT      JWTConfig
	Log      LogConfig
}

// DatabaseConfig holds the three connection pools. Reads fall back to the
// write pool and purges to the write pool when no dedicated URL is set.
type DatabaseConfig struct {
	URL          string
	ReadURL      string
	AdminURL     string
	MaxOpenConns int
	MaxIdleConns int
}

// SyncConfig tunes the pipeline.
type SyncConfig struct {
	Workers      int
	TxTimeout    time.Duration
	LockTTL      time.Duration
	ResourceBase string
	MappingFile  string
	WeightsFile  string
}

// RedisConfig configures the run lock backend. An empty URL selects the in-process lock.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig configures the change feed. No brokers disables it.
type KafkaConfig struct {
	Brokers       []string
	ChangesTopic  string
	MetricsTopic  string
	Partitions    int
	Replication   int
	EnsureTopics  bool
	PublishWindow time.Duration
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
}

// JWTConfig configures bearer token signing and validation.
type JWTConfig struct {
	SigningKey string
	Issuer     string
	TTL        time.Duration
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string
}

// devSigningKey is used when no key is configured. serve logs a warning when it is in effect.
const devSigningKey = "dev-secret-key-change-in-production"

// SetDefaults registers every key with its default so environment overrides resolve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.url", "")
	v.SetDefault("database.read_url", "")
	v.SetDefault("database.admin_url", "")
	v.SetDefault("database.max_open_conns", 16)
	v.SetDefault("database.max_idle_conns", 4)

	v.SetDefault("sync.workers", 8)
	v.SetDefault("sync.tx_timeout", 5*time.Second)
	v.SetDefault("sync.lock_ttl", 30*time.Minute)
	v.SetDefault("sync.resource_base", "https://knihovny.cz/library")
	v.SetDefault("sync.mapping_file", "")
	v.SetDefault("sync.weights_file", "")

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 1)
	v.SetDefault("redis.dial_timeout", 5*time.Second)
	v.SetDefault("redis.read_timeout", 3*time.Second)
	v.SetDefault("redis.write_timeout", 3*time.Second)

	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.changes_topic", "libsync.changes")
	v.SetDefault("kafka.metrics_topic", "libsync.quality")
	v.SetDefault("kafka.partitions", 3)
	v.SetDefault("kafka.replication", 1)
	v.SetDefault("kafka.ensure_topics", true)
	v.SetDefault("kafka.publish_window", 30*time.Second)

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.max_upload_bytes", int64(64<<20))

	v.SetDefault("jwt.signing_key", devSigningKey)
	v.SetDefault("jwt.issuer", "libsync")
	v.SetDefault("jwt.ttl", time.Hour)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// NewViper returns a viper instance with defaults and LIBSYNC_* environment binding.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads .env files into the process environment without overriding
// variables that are already set. Missing files are skipped.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// FromViper builds a Config from v.
func FromViper(v *viper.Viper) Config {
	return Config{
		Database: DatabaseConfig{
			URL:          v.GetString("database.url"),
			ReadURL:      v.GetString("database.read_url"),
			AdminURL:     v.GetString("database.admin_url"),
			MaxOpenConns: v.GetInt("database.max_open_conns"),
			MaxIdleConns: v.GetInt("database.max_idle_conns"),
		},
		Sync: SyncConfig{
			Workers:      v.GetInt("sync.workers"),
			TxTimeout:    v.GetDuration("sync.tx_timeout"),
			LockTTL:      v.GetDuration("sync.lock_ttl"),
			ResourceBase: v.GetString("sync.resource_base"),
			MappingFile:  v.GetString("sync.mapping_file"),
			WeightsFile:  v.GetString("sync.weights_file"),
		},
		Redis: RedisConfig{
			URL:          v.GetString("redis.url"),
			PoolSize:     v.GetInt("redis.pool_size"),
			MinIdleConns: v.GetInt("redis.min_idle_conns"),
			DialTimeout:  v.GetDuration("redis.dial_timeout"),
			ReadTimeout:  v.GetDuration("redis.read_timeout"),
			WriteTimeout: v.GetDuration("redis.write_timeout"),
		},
		Kafka: KafkaConfig{
			Brokers:       pkgstrings.SplitList(v.GetString("kafka.brokers"), ","),
			ChangesTopic:  v.GetString("kafka.changes_topic"),
			MetricsTopic:  v.GetString("kafka.metrics_topic"),
			Partitions:    v.GetInt("kafka.partitions"),
			Replication:   v.GetInt("kafka.replication"),
			EnsureTopics:  v.GetBool("kafka.ensure_topics"),
			PublishWindow: v.GetDuration("kafka.publish_window"),
		},
		Server: Server{
			Addr:            v.GetString("http.addr"),
			ShutdownTimeout: v.GetDuration("http.shutdown_timeout"),
			MaxUploadBytes:  v.GetInt64("http.max_upload_bytes"),
		},
		JWT: JWTConfig{
			SigningKey: v.GetString("jwt.signing_key"),
			Issuer:     v.GetString("jwt.issuer"),
			TTL:        v.GetDuration("jwt.ttl"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}
}

// Validate checks the settings every command needs.
func (c Config) Validate() error {
	if c.Sync.Workers < 1 {
		return fmt.Errorf("sync.workers must be at least 1, got %d", c.Sync.Workers)
	}
	if c.Sync.TxTimeout <= 0 {
		return fmt.Errorf("sync.tx_timeout must be positive")
	}
	if c.Sync.LockTTL <= 0 {
		return fmt.Errorf("sync.lock_ttl must be positive")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.ChangesTopic == "" {
		return fmt.Errorf("kafka.changes_topic is required when brokers are set")
	}
	return nil
}

// RequireDatabase reports a missing write DSN.
func (c Config) RequireDatabase() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database.url (%s_DATABASE_URL) is required", EnvPrefix)
	}
	return nil
}

// UsesDevSigningKey reports whether the built-in development key is in effect.
func (c Config) UsesDevSigningKey() bool {
	return c.JWT.SigningKey == devSigningKey
}
