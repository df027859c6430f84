package model

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// SyncConfig holds the tunables of the synchronization engine.
type SyncConfig struct {
	// Mailbox is the folder each session opens and watches.
	Mailbox string `mapstructure:"mailbox" yaml:"mailbox"`

	// BackfillDays is the trailing window, in days, fetched once after
	// the mailbox is opened.
	BackfillDays int `mapstructure:"backfill_days" yaml:"backfill_days"`

	// RetryDelaySec is the fixed delay before reconnecting after an
	// unplanned disconnect.
	RetryDelaySec int `mapstructure:"retry_delay_sec" yaml:"retry_delay_sec"`

	// RetryPolicy selects the reconnect policy: "constant" (default)
	// or "exponential".
	RetryPolicy string `mapstructure:"retry_policy" yaml:"retry_policy"`

	// MaxConcurrentConnects caps in-flight connection attempts across
	// accounts. Zero means unbounded.
	MaxConcurrentConnects int `mapstructure:"max_concurrent_connects" yaml:"max_concurrent_connects"`
}

// RetryDelay returns the reconnect delay as a duration.
func (c SyncConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySec) * time.Second
}

// BackfillWindow returns the backfill window as a duration.
func (c SyncConfig) BackfillWindow() time.Duration {
	return time.Duration(c.BackfillDays) * 24 * time.Hour
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// StoreConfig holds the index store settings.
type StoreConfig struct {
	// Path is the SQLite database file, or ":memory:".
	Path string `mapstructure:"path" yaml:"path"`
}

// RedisConfig holds the live-broadcast transport settings. An empty
// Addr disables broadcasting.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Accounts []Account    `mapstructure:"accounts" yaml:"accounts"`
	Sync     SyncConfig   `mapstructure:"sync" yaml:"sync"`
	Server   ServerConfig `mapstructure:"server" yaml:"server"`
	Store    StoreConfig  `mapstructure:"store" yaml:"store"`
	Redis    RedisConfig  `mapstructure:"redis" yaml:"redis"`
}

// defaultAppConfig returns a configuration matching the defaults the
// service has always shipped with: INBOX, 30 days of backfill, and a
// 30 second constant-delay reconnect.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Sync: SyncConfig{
			Mailbox:       "INBOX",
			BackfillDays:  30,
			RetryDelaySec: 30,
			RetryPolicy:   "constant",
		},
		Server: ServerConfig{Port: 3000},
		Store:  StoreConfig{Path: "mailsync.db"},
	}
}

// LoadConfig reads configuration from the given YAML file path using
// Viper, layering environment variables (prefix MAILSYNC_) on top. If
// the file does not exist, it returns the default configuration, which
// still honors the environment.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("sync.mailbox", "INBOX")
	v.SetDefault("sync.backfill_days", 30)
	v.SetDefault("sync.retry_delay_sec", 30)
	v.SetDefault("sync.retry_policy", "constant")
	v.SetDefault("server.port", 3000)
	v.SetDefault("store.path", "mailsync.db")

	v.SetEnvPrefix("MAILSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := defaultAppConfig()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		// Missing file: fall through with defaults + env.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Account entries default to active unless the file says otherwise.
	for i := range cfg.Accounts {
		key := fmt.Sprintf("accounts.%d.active", i)
		if !v.IsSet(key) {
			cfg.Accounts[i].Active = true
		}
		if cfg.Accounts[i].Security == "" {
			cfg.Accounts[i].Security = SecurityTLS
		}
	}

	return cfg, nil
}
