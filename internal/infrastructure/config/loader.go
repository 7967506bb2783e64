// Config loader backed by viper with struct validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EnvPrefix prefixes every environment override, e.g. TRADEINGEST_QUEUE_CAPACITY.
const EnvPrefix = "TRADEINGEST"

// DefaultPaths are searched when LoadConfig gets no explicit paths.
var DefaultPaths = []string{
	"./config.yaml",
	"./configs/config.yaml",
	"/etc/tradeingest/config.yaml",
}

// Loader reads configuration from YAML files and the environment.
type Loader struct {
	viper     *viper.Viper
	validator *validator.Validate
	logger    *zap.Logger
}

func NewLoader(logger *zap.Logger) *Loader {
	return &Loader{
		viper:     viper.New(),
		validator: validator.New(),
		logger:    logger.Named("config"),
	}
}

// LoadConfig is a shorthand for NewLoader(logger).Load(paths...).
func LoadConfig(logger *zap.Logger, paths ...string) (*Config, error) {
	return NewLoader(logger).Load(paths...)
}

// Load merges every existing file in paths (or DefaultPaths) over the
// defaults, applies environment overrides and validates the result.
func (l *Loader) Load(paths ...string) (*Config, error) {
	l.setupViper()
	setDefaults(l.viper)

	if err := l.loadConfigFiles(paths...); err != nil {
		return nil, fmt.Errorf("failed to load config files: %w", err)
	}

	var cfg Config
	if err := l.viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	normalize(&cfg)

	if err := l.validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	l.logger.Info("Configuration loaded",
		zap.String("database_driver", cfg.Database.Driver),
		zap.Strings("replica_drivers", cfg.Replica.Drivers),
		zap.Int("queue_capacity", cfg.Queue.Capacity))
	return &cfg, nil
}

func (l *Loader) setupViper() {
	l.viper.SetConfigType("yaml")
	l.viper.SetEnvPrefix(EnvPrefix)
	l.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.viper.AutomaticEnv()
}

func (l *Loader) loadConfigFiles(paths ...string) error {
	if len(paths) == 0 {
		paths = DefaultPaths
	}

	var loaded []string
	for _, path := range paths {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			l.logger.Debug("Config file not found, skipping", zap.String("path", path))
			continue
		}
		l.viper.SetConfigFile(path)
		if err := l.viper.MergeInConfig(); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", path, err)
		}
		loaded = append(loaded, path)
	}

	if len(loaded) == 0 {
		l.logger.Warn("No configuration files found, using defaults and environment variables")
	} else {
		l.logger.Info("Loaded configuration files", zap.Strings("files", loaded))
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:tradeingest.db?_busy_timeout=5000")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.pool_stats_period", 30*time.Second)

	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "tradeingest:")

	v.SetDefault("replica.drivers", []string{"badger"})
	v.SetDefault("replica.operation_timeout", 5*time.Second)

	v.SetDefault("badger.path", "./data/replica")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "trades.replica")
	v.SetDefault("kafka.write_timeout", 10*time.Second)
	v.SetDefault("kafka.required_acks", -1)

	v.SetDefault("queue.capacity", 1000)
	v.SetDefault("queue.poll_interval", 500*time.Millisecond)
	v.SetDefault("queue.shutdown_timeout", 5*time.Second)

	v.SetDefault("replication.max_attempts", 3)
	v.SetDefault("replication.backoff", 500*time.Millisecond)
	v.SetDefault("replication.attempt_timeout", 5*time.Second)
	v.SetDefault("replication.shutdown_timeout", 10*time.Second)

	v.SetDefault("expiry.enabled", true)
	v.SetDefault("expiry.interval", 24*time.Hour)
	v.SetDefault("expiry.run_on_start", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "tradeingest")
}

// normalize trims list entries that arrive as one comma separated env value.
func normalize(cfg *Config) {
	cfg.Replica.Drivers = splitList(cfg.Replica.Drivers)
	for i, d := range cfg.Replica.Drivers {
		cfg.Replica.Drivers[i] = strings.ToLower(d)
	}
	cfg.Kafka.Brokers = splitList(cfg.Kafka.Brokers)
	cfg.Server.CORSOrigins = splitList(cfg.Server.CORSOrigins)
	cfg.Database.Driver = strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
}

func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func (l *Loader) validateConfig(cfg *Config) error {
	if err := l.validator.Struct(cfg); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}
	return validateCustomRules(cfg)
}

func validateCustomRules(cfg *Config) error {
	if cfg.Database.Driver == "postgres" && cfg.Database.DSN == "" {
		return fmt.Errorf("database driver postgres requires a dsn")
	}
	for _, d := range cfg.Replica.Drivers {
		switch d {
		case "kafka":
			if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
				return fmt.Errorf("kafka replica requires brokers and a topic")
			}
		case "redis":
			if cfg.Redis.Address == "" {
				return fmt.Errorf("redis replica requires an address")
			}
		case "none":
			if len(cfg.Replica.Drivers) > 1 {
				return fmt.Errorf("replica driver none cannot be combined with other drivers")
			}
		}
	}
	if cfg.Expiry.Enabled && cfg.Expiry.Interval <= 0 {
		return fmt.Errorf("expiry interval must be positive when expiry is enabled")
	}
	return nil
}
