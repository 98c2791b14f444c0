package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all runtime settings for the deficit ledger service. Values
// come from, in order of precedence: command-line flags, DEFICIT_* environment
// variables, an optional config file, and the defaults below.
type Config struct {
	PostgresDSN string `mapstructure:"postgres_dsn"`
	NATSURL     string `mapstructure:"nats_url"`

	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	// ControllerToken authorizes liquidate/redeem/reclaim/swap and the admin
	// endpoints. Empty disables all controller operations.
	ControllerToken string `mapstructure:"controller_token"`

	// LedgerAccount is the account name swap proceeds must be credited to.
	LedgerAccount  string        `mapstructure:"ledger_account"`
	SwapServiceURL string        `mapstructure:"swap_service_url"`
	SwapTimeout    time.Duration `mapstructure:"swap_timeout"`

	PersistChanSize     int           `mapstructure:"persist_chan_size"`
	ProjectionChanSize  int           `mapstructure:"projection_chan_size"`
	PersistBatchSize    int           `mapstructure:"persist_batch_size"`
	PersistFlushTimeout time.Duration `mapstructure:"persist_flush_timeout"`

	SnapshotInterval       int64 `mapstructure:"snapshot_interval"`
	IdempotencyLRUCapacity int   `mapstructure:"idempotency_lru_capacity"`

	MigrationsDir string `mapstructure:"migrations_dir"`
	LogLevel      string `mapstructure:"log_level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("postgres_dsn", "postgres://localhost:5432/deficitledger?sslmode=disable")
	v.SetDefault("nats_url", "nats://localhost:4222")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("metrics_addr", ":9091")
	v.SetDefault("controller_token", "")
	v.SetDefault("ledger_account", "deficit-ledger")
	v.SetDefault("swap_service_url", "http://localhost:8090")
	v.SetDefault("swap_timeout", 10*time.Second)
	v.SetDefault("persist_chan_size", 1024)
	v.SetDefault("projection_chan_size", 2048)
	v.SetDefault("persist_batch_size", 50)
	v.SetDefault("persist_flush_timeout", 10*time.Millisecond)
	v.SetDefault("snapshot_interval", int64(100_000))
	v.SetDefault("idempotency_lru_capacity", 1_000_000)
	v.SetDefault("migrations_dir", "migrations")
	v.SetDefault("log_level", "info")
}

// Load builds the configuration. configFile may be empty; flags may be nil.
// Environment variables use the DEFICIT_ prefix with underscores, e.g.
// DEFICIT_POSTGRES_DSN, DEFICIT_CONTROLLER_TOKEN.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("DEFICIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is required")
	}
	if c.NATSURL == "" {
		return fmt.Errorf("nats_url is required")
	}
	if c.PersistBatchSize <= 0 {
		return fmt.Errorf("persist_batch_size must be positive, got %d", c.PersistBatchSize)
	}
	if c.PersistChanSize <= 0 || c.ProjectionChanSize <= 0 {
		return fmt.Errorf("channel sizes must be positive")
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("snapshot_interval must be positive, got %d", c.SnapshotInterval)
	}
	if c.SwapTimeout <= 0 {
		return fmt.Errorf("swap_timeout must be positive, got %s", c.SwapTimeout)
	}
	return nil
}
