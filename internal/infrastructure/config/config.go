package config

import (
	"strconv"
	"time"
)

// Config is the full process configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Database    DatabaseConfig    `mapstructure:"database" yaml:"database"`
	Redis       RedisConfig       `mapstructure:"redis" yaml:"redis"`
	Replica     ReplicaConfig     `mapstructure:"replica" yaml:"replica"`
	Badger      BadgerConfig      `mapstructure:"badger" yaml:"badger"`
	Kafka       KafkaConfig       `mapstructure:"kafka" yaml:"kafka"`
	Queue       QueueConfig       `mapstructure:"queue" yaml:"queue"`
	Replication ReplicationConfig `mapstructure:"replication" yaml:"replication"`
	Expiry      ExpiryConfig      `mapstructure:"expiry" yaml:"expiry"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
	Tracing     TracingConfig     `mapstructure:"tracing" yaml:"tracing"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// DatabaseConfig selects and tunes the primary store
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" yaml:"driver" validate:"required,oneof=postgres sqlite memory"`
	DSN             string        `mapstructure:"dsn" yaml:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns" validate:"min=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns" validate:"min=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
	PoolStatsPeriod time.Duration `mapstructure:"pool_stats_period" yaml:"pool_stats_period"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Address   string `mapstructure:"address" yaml:"address"`
	Password  string `mapstructure:"password" yaml:"password"`
	DB        int    `mapstructure:"db" yaml:"db" validate:"min=0"`
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix"`
}

// ReplicaConfig lists the secondary stores writes are mirrored to
type ReplicaConfig struct {
	Drivers          []string      `mapstructure:"drivers" yaml:"drivers" validate:"dive,oneof=redis badger kafka none"`
	OperationTimeout time.Duration `mapstructure:"operation_timeout" yaml:"operation_timeout" validate:"gt=0"`
}

type BadgerConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

type KafkaConfig struct {
	Brokers      []string      `mapstructure:"brokers" yaml:"brokers"`
	Topic        string        `mapstructure:"topic" yaml:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	RequiredAcks int           `mapstructure:"required_acks" yaml:"required_acks" validate:"min=-1,max=1"`
}

// QueueConfig sizes the ingest queue
type QueueConfig struct {
	Capacity        int           `mapstructure:"capacity" yaml:"capacity" validate:"min=1"`
	PollInterval    time.Duration `mapstructure:"poll_interval" yaml:"poll_interval" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
}

// ReplicationConfig controls replica retries
type ReplicationConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts" yaml:"max_attempts" validate:"min=1"`
	Backoff         time.Duration `mapstructure:"backoff" yaml:"backoff" validate:"min=0"`
	AttemptTimeout  time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
}

type ExpiryConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	RunOnStart bool          `mapstructure:"run_on_start" yaml:"run_on_start"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"required,oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=json console"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled" yaml:"enabled"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
}

// Address returns host:port for the HTTP listener.
func (s ServerConfig) Address() string {
	return s.Host + ":" + strconv.Itoa(s.Port)
}
