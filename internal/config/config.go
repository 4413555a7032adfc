package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"bankledger/pkg/idgen"

	"github.com/spf13/viper"
)

// Config is the whole service configuration, loaded from YAML and LEDGER_* env vars.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Kafka  KafkaConfig  `mapstructure:"kafka"`
	Auth   AuthConfig   `mapstructure:"auth"`
	Ledger LedgerConfig `mapstructure:"ledger"`
}

type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	WorkerID     int64         `mapstructure:"worker_id"` // snowflake worker, unique per instance
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogLevel     string `mapstructure:"log_level"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

type AuthConfig struct {
	JWTSecret  string        `mapstructure:"jwt_secret"`
	TokenTTL   time.Duration `mapstructure:"token_ttl"`
	BcryptCost int           `mapstructure:"bcrypt_cost"`
}

// LedgerConfig holds ledger business limits and lock/outbox tuning.
type LedgerConfig struct {
	RecentEntriesLimit  int           `mapstructure:"recent_entries_limit"`
	MaxEntriesLimit     int           `mapstructure:"max_entries_limit"`
	MaxMemoLength       int           `mapstructure:"max_memo_length"`
	MaxConflictRetries  int           `mapstructure:"max_conflict_retries"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	LockRetryInterval   time.Duration `mapstructure:"lock_retry_interval"`
	LockMaxRetries      int           `mapstructure:"lock_max_retries"`
	OutboxInterval      time.Duration `mapstructure:"outbox_interval"`
	OutboxBatchSize     int           `mapstructure:"outbox_batch_size"`
	OutboxMaxRetryCount int           `mapstructure:"outbox_max_retry_count"`
}

// LoadConfig reads the YAML file at configPath on top of the defaults.
//
// A missing file is not an error: defaults plus LEDGER_* environment
// variables are enough to start. A file that exists but cannot be parsed is.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Server.WorkerID < 0 || cfg.Server.WorkerID > idgen.MaxWorkerID {
		return nil, fmt.Errorf("server.worker_id %d out of range 0-%d", cfg.Server.WorkerID, idgen.MaxWorkerID)
	}
	return cfg, nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg, err := LoadConfig("")
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.worker_id", 1)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("mysql.host", "127.0.0.1")
	v.SetDefault("mysql.port", 3306)
	v.SetDefault("mysql.user", "root")
	v.SetDefault("mysql.password", "")
	v.SetDefault("mysql.database", "bank_ledger")
	v.SetDefault("mysql.max_open_conns", 50)
	v.SetDefault("mysql.max_idle_conns", 10)
	v.SetDefault("mysql.log_level", "warn")

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic.ledger_events", "ledger_events")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.bcrypt_cost", 10)

	v.SetDefault("ledger.recent_entries_limit", 10)
	v.SetDefault("ledger.max_entries_limit", 100)
	v.SetDefault("ledger.max_memo_length", 256)
	v.SetDefault("ledger.max_conflict_retries", 3)
	v.SetDefault("ledger.lock_ttl", "30s")
	v.SetDefault("ledger.lock_retry_interval", "100ms")
	v.SetDefault("ledger.lock_max_retries", 30)
	v.SetDefault("ledger.outbox_interval", "200ms")
	v.SetDefault("ledger.outbox_batch_size", 100)
	v.SetDefault("ledger.outbox_max_retry_count", 5)
}
