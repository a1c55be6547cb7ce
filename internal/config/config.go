// Package config loads fieldsync settings from a config file,
// environment variables, and defaults, in that order of increasing
// precedence for the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the sync daemon.
type Config struct {
	// DBPath is the local SQLite database file.
	DBPath string `mapstructure:"db_path"`

	// BackendURL is the base URL of the remote data service.
	BackendURL string `mapstructure:"backend_url"`

	// Token authenticates against the backend. Prefer setting it via
	// the FIELDSYNC_TOKEN environment variable over the config file.
	Token string `mapstructure:"token"`

	// UserID is the authenticated field worker.
	UserID string `mapstructure:"user_id"`

	// PullInterval is the periodic download cadence.
	PullInterval time.Duration `mapstructure:"pull_interval"`

	// PushDebounce is the quiet period after a local write before
	// pushing.
	PushDebounce time.Duration `mapstructure:"push_debounce"`

	// ProbeInterval is the connectivity re-check cadence.
	ProbeInterval time.Duration `mapstructure:"probe_interval"`

	// MaxRetries is the per-row push budget before quarantine.
	MaxRetries int `mapstructure:"max_retries"`

	// SpoolDir is the photo drop directory.
	SpoolDir string `mapstructure:"spool_dir"`

	// Bucket is the object-storage bucket for attachments.
	Bucket string `mapstructure:"bucket"`

	// DashboardPort is the local status server port. 0 disables it.
	DashboardPort int `mapstructure:"dashboard_port"`

	// LogFile receives daemon logs; empty means stderr.
	LogFile string `mapstructure:"log_file"`
}

// Load reads configuration. If path is empty, fieldsync.yaml is searched
// in the current directory and ~/.config/fieldsync. Environment
// variables use the FIELDSYNC_ prefix with underscores, for example
// FIELDSYNC_BACKEND_URL.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db_path", defaultDBPath())
	// Keys without a real default still need registering, or Unmarshal
	// will not see their environment values.
	v.SetDefault("backend_url", "")
	v.SetDefault("token", "")
	v.SetDefault("user_id", "")
	v.SetDefault("log_file", "")
	v.SetDefault("pull_interval", 5*time.Minute)
	v.SetDefault("push_debounce", 3*time.Second)
	v.SetDefault("probe_interval", 30*time.Second)
	v.SetDefault("max_retries", 5)
	v.SetDefault("spool_dir", defaultSpoolDir())
	v.SetDefault("bucket", "record-files")
	v.SetDefault("dashboard_port", 8787)

	v.SetEnvPrefix("FIELDSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("fieldsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "fieldsync"))
		}
		if err := v.ReadInConfig(); err != nil {
			// A missing config file is fine; anything else is not.
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("backend_url is required (set FIELDSYNC_BACKEND_URL or the config file)")
	}
	if c.Token == "" {
		return fmt.Errorf("token is required (set FIELDSYNC_TOKEN)")
	}
	if c.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	return nil
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "fieldsync.db"
	}
	return filepath.Join(home, ".local", "share", "fieldsync", "fieldsync.db")
}

func defaultSpoolDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "spool"
	}
	return filepath.Join(home, ".local", "share", "fieldsync", "spool")
}
