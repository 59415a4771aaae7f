// Package config loads the server's tunables: a viper.Viper reading
// defaults, environment variables and an optional file into one struct.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds every server tunable: server identity, database
// connection and pool sizing, transport binding, subscription limits and
// replication slot naming.
type Config struct {
	ServerID            string `mapstructure:"server_id"`
	LogLevel            string `mapstructure:"log_level"`
	ShutdownTimeoutSecs int    `mapstructure:"shutdown_timeout_secs"`

	DBURL          string `mapstructure:"db_url"`
	DBPoolSize     int    `mapstructure:"db_pool_size"`
	DBTimeoutSecs  int    `mapstructure:"db_timeout_secs"`

	TransportURL    string `mapstructure:"transport_url"`
	TransportPrefix string `mapstructure:"transport_prefix"`

	ClientTimeoutSecs  int `mapstructure:"client_timeout_secs"`
	CleanupIntervalSecs int `mapstructure:"cleanup_interval_secs"`
	MaxSubscriptions    int `mapstructure:"max_subscriptions"`

	WALSlot        string `mapstructure:"wal_slot"`
	WALPublication string `mapstructure:"wal_publication"`

	HealthAddr string `mapstructure:"health_addr"`
}

// Load reads defaults, LIVEQUERY_-prefixed environment variables and (if
// non-empty) the named config file, and validates the result. An
// environment variable takes precedence over the file, and the file over
// the defaults. configFile may be empty to skip file loading entirely.
func Load(configFile string) (*Config, error) {
	vi := newViperWithDefaults()

	if configFile != "" {
		vi.SetConfigFile(configFile)
		if err := vi.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := vi.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.ServerID == "" {
		cfg.ServerID = genServerID()
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViperWithDefaults() *viper.Viper {
	vi := viper.New()
	vi.SetEnvPrefix("livequery")
	vi.AutomaticEnv()
	vi.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Keys without a default are invisible to Unmarshal under AutomaticEnv
	// unless bound explicitly.
	_ = vi.BindEnv("server_id")
	_ = vi.BindEnv("db_url")

	vi.SetDefault("log_level", "info")
	vi.SetDefault("shutdown_timeout_secs", 30)

	vi.SetDefault("db_pool_size", 16)
	vi.SetDefault("db_timeout_secs", 30)

	vi.SetDefault("transport_url", "nats://localhost:4222")
	vi.SetDefault("transport_prefix", "livequery")

	vi.SetDefault("client_timeout_secs", 30)
	vi.SetDefault("cleanup_interval_secs", 10)
	vi.SetDefault("max_subscriptions", 10000)

	vi.SetDefault("wal_slot", "livequery_slot")
	vi.SetDefault("wal_publication", "livequery_pub")

	vi.SetDefault("health_addr", ":8081")

	return vi
}

// validate enforces fatal-at-startup rules: a missing db_url or any
// tunable outside its documented range aborts before the server binds
// anything.
func (c *Config) validate() error {
	if c.DBURL == "" {
		return fmt.Errorf("db_url is required")
	}
	if c.DBPoolSize <= 0 || c.DBPoolSize > 100 {
		return fmt.Errorf("db_pool_size must be between 1 and 100, got %d", c.DBPoolSize)
	}
	if c.DBTimeoutSecs <= 0 {
		return fmt.Errorf("db_timeout_secs must be > 0, got %d", c.DBTimeoutSecs)
	}
	if c.ClientTimeoutSecs < 5 {
		return fmt.Errorf("client_timeout_secs must be >= 5, got %d", c.ClientTimeoutSecs)
	}
	if c.CleanupIntervalSecs <= 0 {
		return fmt.Errorf("cleanup_interval_secs must be > 0, got %d", c.CleanupIntervalSecs)
	}
	if c.MaxSubscriptions <= 0 {
		return fmt.Errorf("max_subscriptions must be > 0, got %d", c.MaxSubscriptions)
	}
	if c.ShutdownTimeoutSecs <= 0 {
		return fmt.Errorf("shutdown_timeout_secs must be > 0, got %d", c.ShutdownTimeoutSecs)
	}
	return nil
}

func (c *Config) ClientTimeout() time.Duration {
	return time.Duration(c.ClientTimeoutSecs) * time.Second
}

func (c *Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSecs) * time.Second
}

func (c *Config) DBTimeout() time.Duration {
	return time.Duration(c.DBTimeoutSecs) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSecs) * time.Second
}

// SubEventsSubject builds the per-subscription events subject:
// "<prefix>.<sub_id>.events".
func (c *Config) SubEventsSubject(subID string) string {
	return fmt.Sprintf("%s.%s.events", c.TransportPrefix, subID)
}

// DBURLSafe masks the password component of DBURL for logging.
func (c *Config) DBURLSafe() string {
	at := strings.Index(c.DBURL, "@")
	if at < 0 {
		return c.DBURL
	}
	colon := strings.LastIndex(c.DBURL[:at], ":")
	if colon < 0 {
		return c.DBURL
	}
	return c.DBURL[:colon+1] + "****" + c.DBURL[at:]
}

// LogSummary emits the startup configuration banner, grounded on
// config.rs's log_summary.
func (c *Config) LogSummary(log *zap.SugaredLogger) {
	log.Infow("livequery config",
		"server_id", c.ServerID,
		"db", c.DBURLSafe(),
		"db_pool_size", c.DBPoolSize,
		"transport_url", c.TransportURL,
		"transport_prefix", c.TransportPrefix,
		"wal_slot", c.WALSlot,
		"wal_publication", c.WALPublication,
		"client_timeout_secs", c.ClientTimeoutSecs,
		"cleanup_interval_secs", c.CleanupIntervalSecs,
		"max_subscriptions", c.MaxSubscriptions,
	)
}

func genServerID() string {
	return fmt.Sprintf("lq-%x", time.Now().UnixNano()&0xFFFFFF)
}
