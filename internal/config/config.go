package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	// DBPath is the SQLite database location.
	DBPath string `mapstructure:"db_path" yaml:"db_path"`

	// LockPath is the exclusive process lock file; empty derives it
	// from DBPath.
	LockPath string `mapstructure:"lock_path" yaml:"lock_path"`

	// Timezone is the IANA zone reminders are resolved in.
	Timezone string `mapstructure:"timezone" yaml:"timezone"`

	// TickInterval is how often the scheduler scans for due reminders.
	TickInterval time.Duration `mapstructure:"tick_interval" yaml:"tick_interval"`

	// ReremindInterval is the wait before nagging again about an
	// unacknowledged, non-repeating reminder.
	ReremindInterval time.Duration `mapstructure:"reremind_interval" yaml:"reremind_interval"`

	// MaxRemindCount caps dispatches per reminder cycle.
	MaxRemindCount int `mapstructure:"max_remind_count" yaml:"max_remind_count"`

	// AckTokens are the replies that complete the last delivered
	// reminder batch.
	AckTokens []string `mapstructure:"ack_tokens" yaml:"ack_tokens"`

	// BatchExpiry is how long a delivered batch stays acknowledgeable.
	BatchExpiry time.Duration `mapstructure:"batch_expiry" yaml:"batch_expiry"`
}

// DefaultPath returns the default config file location,
// ~/.config/todobot/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "todobot", "config.yaml")
}

func defaults() *Config {
	return &Config{
		DBPath:           filepath.Join(".", "todobot.sqlite"),
		Timezone:         "Local",
		TickInterval:     time.Minute,
		ReremindInterval: 10 * time.Minute,
		MaxRemindCount:   3,
		AckTokens:        []string{"1", "done", "ok"},
		BatchExpiry:      10 * time.Minute,
	}
}

// Load reads configuration from a YAML file using Viper. A missing
// file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetDefault("db_path", filepath.Join(".", "todobot.sqlite"))
	v.SetDefault("timezone", "Local")
	v.SetDefault("tick_interval", time.Minute)
	v.SetDefault("reremind_interval", 10*time.Minute)
	v.SetDefault("max_remind_count", 3)
	v.SetDefault("ack_tokens", []string{"1", "done", "ok"})
	v.SetDefault("batch_expiry", 10*time.Minute)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(*os.PathError); ok {
			return finalize(defaults()), nil
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return finalize(defaults()), nil
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	cfg := defaults()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return finalize(cfg), nil
}

// finalize fills in values derived from other settings.
func finalize(cfg *Config) *Config {
	if cfg.LockPath == "" {
		cfg.LockPath = cfg.DBPath + ".lock"
	}
	return cfg
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %s: %w", c.Timezone, err)
	}
	return loc, nil
}
