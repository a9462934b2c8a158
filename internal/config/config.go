package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the fully resolved runtime configuration for a consumer or
// producer process, loaded by Load from environment variables (prefixed
// AINTQ_), an optional YAML file, and the defaults set below.
type Config struct {
	Database DatabaseConfig
	Worker   WorkerConfig
	Metrics  MetricsConfig
	LogLevel string
}

// DatabaseConfig configures the pgxpool connection used for every table
// operation, the dedicated LISTEN connection, and schema bootstrap.
type DatabaseConfig struct {
	DSN            string
	PoolSize       int32
	MinConns       int32
	ConnectTimeout time.Duration
}

// WorkerConfig configures the consumer's worker pool.
type WorkerConfig struct {
	Size            int
	ShutdownTimeout time.Duration
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool
	Addr    string
	Path    string
}

// Load reads configuration from (in ascending priority) defaults, an
// optional YAML file, and AINTQ_-prefixed environment variables.
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/aintq")

	setDefaults()

	viper.SetEnvPrefix("AINTQ")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("database.dsn", "postgres://localhost:5432/aintq?sslmode=disable")
	viper.SetDefault("database.poolsize", 20)
	viper.SetDefault("database.minconns", 2)
	viper.SetDefault("database.connecttimeout", 5*time.Second)

	viper.SetDefault("worker.size", 8)
	viper.SetDefault("worker.shutdowntimeout", 30*time.Second)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.addr", ":9090")
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("loglevel", "info")
}
