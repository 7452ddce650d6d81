// Package config loads pacer configuration from YAML, .env files and the
// environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full pacer configuration.
type Config struct {
	Source   Source   `yaml:"source"`
	Timer    Timer    `yaml:"timer"`
	Follower Follower `yaml:"follower"`
	Log      Log      `yaml:"log"`
}

// Source configures the authoritative daemon.
type Source struct {
	// Listen is the HTTP address of the control plane.
	Listen string `yaml:"listen"`
	// DB is a sqlite path or a libsql:// / https:// URL.
	DB string `yaml:"db"`
	// StateDir holds the widget surface file and the permit lock.
	StateDir string `yaml:"state_dir"`
	// Lock is the permit lock file. Defaults to <state_dir>/pacer.lock.
	Lock string `yaml:"lock"`
}

// Timer configures tick and publish cadence.
type Timer struct {
	TickInterval     time.Duration `yaml:"tick_interval"`
	PublishEvery     int           `yaml:"publish_every"`
	TimerUpdateEvery int           `yaml:"timer_update_every"`
	CountdownWindow  int           `yaml:"countdown_window"`
}

// Follower configures the watch face.
type Follower struct {
	SourceURL      string        `yaml:"source_url"`
	CacheDB        string        `yaml:"cache_db"`
	ReconnectGrace time.Duration `yaml:"reconnect_grace"`
	MailboxPoll    time.Duration `yaml:"mailbox_poll"`
	LockFile       string        `yaml:"lock_file"`
}

// Log configures the slog logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Source: Source{
			Listen:   "127.0.0.1:7842",
			DB:       "~/.pacer/pacer.db",
			StateDir: "~/.pacer",
		},
		Timer: Timer{
			TickInterval:     100 * time.Millisecond,
			PublishEvery:     10,
			TimerUpdateEvery: 10,
			CountdownWindow:  3,
		},
		Follower: Follower{
			SourceURL:      "http://127.0.0.1:7842",
			CacheDB:        "~/.pacer/watch.db",
			ReconnectGrace: 5 * time.Second,
			MailboxPoll:    2 * time.Second,
			LockFile:       "~/.pacer/watch.lock",
		},
		Log: Log{
			Level:  "info",
			Format: "auto",
		},
	}
}

// DefaultPath returns ~/.pacer/config.yaml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".pacer", "config.yaml")
	}
	return filepath.Join(home, ".pacer", "config.yaml")
}

// Load reads path (defaults when it does not exist), then applies .env and
// PACER_* overrides, normalizes and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		"PACER_LISTEN":     &c.Source.Listen,
		"PACER_DB":         &c.Source.DB,
		"PACER_STATE_DIR":  &c.Source.StateDir,
		"PACER_SOURCE_URL": &c.Follower.SourceURL,
		"PACER_LOG_LEVEL":  &c.Log.Level,
		"PACER_LOG_FORMAT": &c.Log.Format,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	if v, ok := os.LookupEnv("PACER_RECONNECT_GRACE"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("PACER_RECONNECT_GRACE: %w", err)
		}
		c.Follower.ReconnectGrace = d
	}
	return nil
}

// Normalize expands ~ in paths and fills derived defaults.
func (c *Config) Normalize() error {
	var err error
	for _, p := range []*string{&c.Source.StateDir, &c.Source.Lock, &c.Follower.CacheDB, &c.Follower.LockFile, &c.Log.File} {
		if *p, err = expandHome(*p); err != nil {
			return err
		}
	}
	if !IsRemoteDSN(c.Source.DB) {
		if c.Source.DB, err = expandHome(c.Source.DB); err != nil {
			return err
		}
	}
	if c.Source.Lock == "" && c.Source.StateDir != "" {
		c.Source.Lock = filepath.Join(c.Source.StateDir, "pacer.lock")
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Source.Listen) == "" {
		return fmt.Errorf("source.listen is required")
	}
	if strings.TrimSpace(c.Source.DB) == "" {
		return fmt.Errorf("source.db is required")
	}
	if c.Timer.TickInterval <= 0 {
		return fmt.Errorf("timer.tick_interval must be positive")
	}
	if c.Timer.PublishEvery < 1 {
		return fmt.Errorf("timer.publish_every must be at least 1")
	}
	if c.Timer.TimerUpdateEvery < 1 {
		return fmt.Errorf("timer.timer_update_every must be at least 1")
	}
	if c.Timer.CountdownWindow < 0 {
		return fmt.Errorf("timer.countdown_window must not be negative")
	}
	if c.Follower.ReconnectGrace < 0 {
		return fmt.Errorf("follower.reconnect_grace must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "auto", "text", "console", "json":
	default:
		return fmt.Errorf("invalid log.format %q, must be: auto, text, or json", c.Log.Format)
	}
	return nil
}

// SurfacePath is the widget snapshot file.
func (c *Config) SurfacePath() string {
	return filepath.Join(c.Source.StateDir, "widget.json")
}

// IsRemoteDSN reports whether dsn addresses a libsql server.
func IsRemoteDSN(dsn string) bool {
	return strings.HasPrefix(dsn, "libsql://") || strings.HasPrefix(dsn, "https://") || strings.HasPrefix(dsn, "http://")
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
