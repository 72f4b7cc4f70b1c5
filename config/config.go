// Package config loads the bursar service configuration.
//
// Sources, later ones winning: built-in defaults, an optional .env file,
// an optional YAML file named by BURSAR_CONFIG, then BURSAR_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Log           LogConfig           `yaml:"log"`
	Store         StoreConfig         `yaml:"store"`
	Redis         RedisConfig         `yaml:"redis"`
	Memory        MemoryConfig        `yaml:"memory"`
	Engine        EngineConfig        `yaml:"engine"`
	Directory     DirectoryConfig     `yaml:"directory"`
	Understanding UnderstandingConfig `yaml:"understanding"`
	Notify        NotifyConfig        `yaml:"notify"`
	Reminder      ReminderConfig      `yaml:"reminder"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	Metrics         bool          `yaml:"metrics"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or text
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver   string `yaml:"driver"` // memory, sqlite, postgres, mongo
	DSN      string `yaml:"dsn"`    // file path for sqlite, URL otherwise
	Database string `yaml:"database"` // mongo only
}

// RedisConfig is shared by the entity memory and the notifier.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// MemoryConfig configures where half-finished chat requests live.
type MemoryConfig struct {
	Backend string        `yaml:"backend"` // memory or redis
	Size    int           `yaml:"size"`
	TTL     time.Duration `yaml:"ttl"`
}

// EngineConfig holds billing defaults.
type EngineConfig struct {
	Currency string `yaml:"currency"`
	DueDays  int    `yaml:"due_days"`
}

// DirectoryConfig points at the student and class seed file.
type DirectoryConfig struct {
	File     string        `yaml:"file"`
	CacheTTL time.Duration `yaml:"cache_ttl"`
}

// UnderstandingConfig configures the OpenAI-compatible intent model. It is
// disabled while APIKey is empty.
type UnderstandingConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// Enabled reports whether a model is configured.
func (u UnderstandingConfig) Enabled() bool { return u.APIKey != "" }

// NotifyConfig selects where notifications go.
type NotifyConfig struct {
	Backend string `yaml:"backend"` // log or redis
	Channel string `yaml:"channel"`
}

// ReminderConfig configures unpaid-invoice reminders.
type ReminderConfig struct {
	Enabled     bool     `yaml:"enabled"`
	Schedule    string   `yaml:"schedule"`
	Schools     []string `yaml:"schools"`
	OverdueOnly bool     `yaml:"overdue_only"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 20 * time.Second,
			Metrics:         true,
		},
		Log:    LogConfig{Level: "info", Format: "json"},
		Store:  StoreConfig{Driver: "memory", Database: "bursar"},
		Memory: MemoryConfig{Backend: "memory", Size: 10000, TTL: 30 * time.Minute},
		Engine: EngineConfig{Currency: "kes", DueDays: 30},
		Directory: DirectoryConfig{
			CacheTTL: 5 * time.Minute,
		},
		Understanding: UnderstandingConfig{Timeout: 10 * time.Second},
		Notify:        NotifyConfig{Backend: "log", Channel: "bursar:notifications"},
		Reminder:      ReminderConfig{Schedule: "0 8 * * 1"},
	}
}

// Load reads .env, the BURSAR_CONFIG file and the environment, then
// validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv("BURSAR_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = getEnv("BURSAR_ADDR", c.Server.Addr)
	c.Server.ReadTimeout = getEnvDuration("BURSAR_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("BURSAR_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("BURSAR_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)
	c.Server.Metrics = getEnvBool("BURSAR_METRICS_ENABLED", c.Server.Metrics)

	c.Log.Level = getEnv("BURSAR_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("BURSAR_LOG_FORMAT", c.Log.Format)

	c.Store.Driver = getEnv("BURSAR_STORE_DRIVER", c.Store.Driver)
	c.Store.DSN = getEnv("BURSAR_STORE_DSN", c.Store.DSN)
	c.Store.Database = getEnv("BURSAR_STORE_DATABASE", c.Store.Database)

	c.Redis.URL = getEnv("BURSAR_REDIS_URL", c.Redis.URL)

	c.Memory.Backend = getEnv("BURSAR_MEMORY_BACKEND", c.Memory.Backend)
	c.Memory.Size = getEnvInt("BURSAR_MEMORY_SIZE", c.Memory.Size)
	c.Memory.TTL = getEnvDuration("BURSAR_MEMORY_TTL", c.Memory.TTL)

	c.Engine.Currency = strings.ToLower(getEnv("BURSAR_CURRENCY", c.Engine.Currency))
	c.Engine.DueDays = getEnvInt("BURSAR_DUE_DAYS", c.Engine.DueDays)

	c.Directory.File = getEnv("BURSAR_DIRECTORY_FILE", c.Directory.File)
	c.Directory.CacheTTL = getEnvDuration("BURSAR_DIRECTORY_CACHE_TTL", c.Directory.CacheTTL)

	c.Understanding.BaseURL = getEnv("BURSAR_OPENAI_BASE_URL", c.Understanding.BaseURL)
	c.Understanding.APIKey = getEnv("BURSAR_OPENAI_API_KEY", getEnv("OPENAI_API_KEY", c.Understanding.APIKey))
	c.Understanding.Model = getEnv("BURSAR_OPENAI_MODEL", c.Understanding.Model)
	c.Understanding.Timeout = getEnvDuration("BURSAR_OPENAI_TIMEOUT", c.Understanding.Timeout)

	c.Notify.Backend = getEnv("BURSAR_NOTIFY_BACKEND", c.Notify.Backend)
	c.Notify.Channel = getEnv("BURSAR_NOTIFY_CHANNEL", c.Notify.Channel)

	c.Reminder.Enabled = getEnvBool("BURSAR_REMINDER_ENABLED", c.Reminder.Enabled)
	c.Reminder.Schedule = getEnv("BURSAR_REMINDER_SCHEDULE", c.Reminder.Schedule)
	c.Reminder.OverdueOnly = getEnvBool("BURSAR_REMINDER_OVERDUE_ONLY", c.Reminder.OverdueOnly)
	if v := os.Getenv("BURSAR_REMINDER_SCHOOLS"); v != "" {
		c.Reminder.Schools = splitList(v)
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q (must be json or text)", c.Log.Format)
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres", "mongo":
		if c.Store.DSN == "" {
			return fmt.Errorf("store dsn is required for the %s driver", c.Store.Driver)
		}
	default:
		return fmt.Errorf("invalid store driver %q (must be memory, sqlite, postgres or mongo)", c.Store.Driver)
	}

	switch c.Memory.Backend {
	case "memory":
		if c.Memory.Size <= 0 {
			return errors.New("memory size must be positive")
		}
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis url is required for the redis memory backend")
		}
	default:
		return fmt.Errorf("invalid memory backend %q (must be memory or redis)", c.Memory.Backend)
	}
	if c.Memory.TTL <= 0 {
		return errors.New("memory ttl must be positive")
	}

	switch c.Notify.Backend {
	case "log":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis url is required for the redis notify backend")
		}
	default:
		return fmt.Errorf("invalid notify backend %q (must be log or redis)", c.Notify.Backend)
	}

	if c.Engine.Currency == "" {
		return errors.New("engine currency is required")
	}
	if c.Engine.DueDays <= 0 {
		return errors.New("engine due_days must be positive")
	}
	if c.Reminder.Enabled && len(c.Reminder.Schools) == 0 {
		return errors.New("reminder schools are required when reminders are enabled")
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("invalid log level %q", l.Level)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		b, err := strconv.ParseBool(value)
		if err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		n, err := strconv.Atoi(value)
		if err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		d, err := time.ParseDuration(value)
		if err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
