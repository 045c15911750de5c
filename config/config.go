package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tazhate/coursesync/internal/feed"
)

type Config struct {
	DatabasePath string `yaml:"database_path"`
	Timezone     string `yaml:"timezone"`
	LogLevel     string `yaml:"log_level"`
	LogJSON      bool   `yaml:"log_json"`
	ServerPort   string `yaml:"server_port"`

	CalDAV   CalDAVConfig   `yaml:"caldav"`
	Todoist  TodoistConfig  `yaml:"todoist"`
	Telegram TelegramConfig `yaml:"telegram"`
	Feed     FeedConfig     `yaml:"feed"`
	Sync     SyncConfig     `yaml:"sync"`

	// resolved from Timezone by Load
	Location *time.Location `yaml:"-"`
}

type CalDAVConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type TodoistConfig struct {
	Token string `yaml:"token"`
}

type TelegramConfig struct {
	Token string `yaml:"token"`
}

type FeedConfig struct {
	// AllowedHosts are regular expressions; empty keeps the Canvas defaults
	AllowedHosts []string      `yaml:"allowed_hosts"`
	MaxBytes     int64         `yaml:"max_bytes"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxEntries   int           `yaml:"max_entries"`
}

type SyncConfig struct {
	Concurrency     int           `yaml:"concurrency"`
	RunTimeout      time.Duration `yaml:"run_timeout"`
	EnforceExcludes bool          `yaml:"enforce_excludes"`
	ExpandRecurring bool          `yaml:"expand_recurring"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		DatabasePath: "./data/coursesync.db",
		Timezone:     "America/Chicago",
		LogLevel:     "info",
		ServerPort:   "8080",
		Feed: FeedConfig{
			MaxBytes:   10 << 20,
			Timeout:    30 * time.Second,
			MaxEntries: 5000,
		},
		Sync: SyncConfig{
			Concurrency: 4,
			RunTimeout:  10 * time.Minute,
		},
	}
}

// Load reads the optional YAML file at path, applies environment overrides
// and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.DatabasePath, "DATABASE_PATH")
	setString(&c.Timezone, "TIMEZONE")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.ServerPort, "SERVER_PORT")
	setString(&c.CalDAV.URL, "CALDAV_URL")
	setString(&c.CalDAV.Username, "CALDAV_USERNAME")
	setString(&c.CalDAV.Password, "CALDAV_PASSWORD")
	setString(&c.Todoist.Token, "TODOIST_TOKEN")
	setString(&c.Telegram.Token, "TELEGRAM_BOT_TOKEN")

	if v := os.Getenv("FEED_ALLOWED_HOSTS"); v != "" {
		c.Feed.AllowedHosts = nil
		for _, h := range strings.Split(v, ",") {
			if h = strings.TrimSpace(h); h != "" {
				c.Feed.AllowedHosts = append(c.Feed.AllowedHosts, h)
			}
		}
	}

	if v := os.Getenv("LOG_JSON"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LOG_JSON: %w", err)
		}
		c.LogJSON = b
	}
	if v := os.Getenv("FEED_MAX_BYTES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid FEED_MAX_BYTES: %w", err)
		}
		c.Feed.MaxBytes = n
	}
	if v := os.Getenv("FEED_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FEED_TIMEOUT: %w", err)
		}
		c.Feed.Timeout = d
	}
	if v := os.Getenv("SYNC_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SYNC_CONCURRENCY: %w", err)
		}
		c.Sync.Concurrency = n
	}
	if v := os.Getenv("RUN_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid RUN_TIMEOUT: %w", err)
		}
		c.Sync.RunTimeout = d
	}
	if v := os.Getenv("ENFORCE_EXCLUDES"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid ENFORCE_EXCLUDES: %w", err)
		}
		c.Sync.EnforceExcludes = b
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks the values and resolves Location
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.New("database path is required")
	}
	tz, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("invalid TIMEZONE: %w", err)
	}
	c.Location = tz

	if c.Feed.MaxBytes <= 0 {
		return fmt.Errorf("feed max bytes must be positive, got %d", c.Feed.MaxBytes)
	}
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed timeout must be positive, got %s", c.Feed.Timeout)
	}
	if err := feed.CompileHosts(c.Feed.AllowedHosts); err != nil {
		return fmt.Errorf("invalid feed config: %w", err)
	}
	if c.Sync.Concurrency < 1 {
		return fmt.Errorf("sync concurrency must be at least 1, got %d", c.Sync.Concurrency)
	}
	if c.Sync.RunTimeout <= 0 {
		return fmt.Errorf("run timeout must be positive, got %s", c.Sync.RunTimeout)
	}
	if c.CalDAV.URL != "" && (c.CalDAV.Username == "" || c.CalDAV.Password == "") {
		return errors.New("CALDAV_USERNAME and CALDAV_PASSWORD are required with CALDAV_URL")
	}
	return nil
}
