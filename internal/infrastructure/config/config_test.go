package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadConfig(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 1000, cfg.Queue.Capacity)
	assert.Equal(t, 500*time.Millisecond, cfg.Queue.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Queue.ShutdownTimeout)
	assert.Equal(t, 3, cfg.Replication.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Replication.Backoff)
	assert.Equal(t, 24*time.Hour, cfg.Expiry.Interval)
	assert.Equal(t, []string{"badger"}, cfg.Replica.Drivers)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Address())
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeFile(t, `
server:
  port: 9090
database:
  driver: memory
queue:
  capacity: 5
  poll_interval: 50ms
replica:
  drivers: [redis, kafka]
kafka:
  brokers: ["k1:9092", "k2:9092"]
  topic: trades
logging:
  level: debug
  format: console
`)
	cfg, err := LoadConfig(zaptest.NewLogger(t), path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 5, cfg.Queue.Capacity)
	assert.Equal(t, 50*time.Millisecond, cfg.Queue.PollInterval)
	assert.Equal(t, []string{"redis", "kafka"}, cfg.Replica.Drivers)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TRADEINGEST_QUEUE_CAPACITY", "42")
	t.Setenv("TRADEINGEST_REPLICATION_BACKOFF", "2s")
	t.Setenv("TRADEINGEST_REPLICA_DRIVERS", "Badger, redis")

	cfg, err := LoadConfig(zaptest.NewLogger(t), filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Queue.Capacity)
	assert.Equal(t, 2*time.Second, cfg.Replication.Backoff)
	assert.Equal(t, []string{"badger", "redis"}, cfg.Replica.Drivers)
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := map[string]string{
		"unknown driver":      "database:\n  driver: oracle\n",
		"postgres no dsn":     "database:\n  driver: postgres\n  dsn: \"\"\n",
		"zero capacity":       "queue:\n  capacity: 0\n",
		"bad replica":         "replica:\n  drivers: [s3]\n",
		"none combined":       "replica:\n  drivers: [none, redis]\n",
		"bad log level":       "logging:\n  level: loud\n",
		"zero attempts":       "replication:\n  max_attempts: 0\n",
		"kafka without topic": "replica:\n  drivers: [kafka]\nkafka:\n  topic: \"\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(zaptest.NewLogger(t), writeFile(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := LoadConfig(zaptest.NewLogger(t), writeFile(t, "server: [unclosed"))
	assert.Error(t, err)
}
