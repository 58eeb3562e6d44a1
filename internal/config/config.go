package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// Default values for the server configuration.
const (
	DefaultPort           = 8080
	DefaultEnv            = "development"
	DefaultLogLevel       = "info"
	DefaultStoreDriver    = "memory"
	DefaultSQLitePath     = "./data/coderoom.db"
	DefaultRedisPrefix    = "coderoom:"
	DefaultMaxMessageSize = 1024 * 1024
	DefaultSendBuffer     = 512
	DefaultSweepInterval  = 5 * time.Minute
	DefaultIdleTTL        = 24 * time.Hour
)

type Config struct {
	// Env is "development" for console logs, anything else for JSON.
	Env string `yaml:"env"`

	Server    ServerConfig    `yaml:"server"`
	Store     StoreConfig     `yaml:"store"`
	Sweep     SweepConfig     `yaml:"sweep"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Port int `yaml:"port"`

	// AllowedOrigins applies to both CORS and the WebSocket upgrade. "*" allows all.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// MaxMessageSize bounds one inbound frame, and so one code buffer.
	MaxMessageSize int64 `yaml:"max_message_size"`

	// SendBuffer is the per-connection outbound queue length. A peer whose
	// queue fills is disconnected.
	SendBuffer int `yaml:"send_buffer"`
}

type StoreConfig struct {
	// Driver is one of: memory | sqlite | redis.
	Driver      string `yaml:"driver"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisURL    string `yaml:"redis_url"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`

	// IdleTTL is how long an empty room survives. Zero disables eviction.
	IdleTTL time.Duration `yaml:"idle_ttl"`
}

type RateLimitConfig struct {
	MessagesPerSecond float64 `yaml:"messages_per_second"`
	MessageBurst      int     `yaml:"message_burst"`
	ConnectsPerMinute float64 `yaml:"connects_per_minute"`
	ConnectBurst      int     `yaml:"connect_burst"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty), then .env and environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// LogLevel returns the parsed log level. Load has already validated it.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return level
}

func defaults() *Config {
	return &Config{
		Env: DefaultEnv,
		Server: ServerConfig{
			Port:           DefaultPort,
			AllowedOrigins: []string{"*"},
			MaxMessageSize: DefaultMaxMessageSize,
			SendBuffer:     DefaultSendBuffer,
		},
		Store: StoreConfig{
			Driver:      DefaultStoreDriver,
			SQLitePath:  DefaultSQLitePath,
			RedisPrefix: DefaultRedisPrefix,
		},
		Sweep: SweepConfig{
			Interval: DefaultSweepInterval,
			IdleTTL:  DefaultIdleTTL,
		},
		RateLimit: RateLimitConfig{
			MessagesPerSecond: 100,
			MessageBurst:      200,
			ConnectsPerMinute: 60,
			ConnectBurst:      20,
		},
		Log: LogConfig{
			Level: DefaultLogLevel,
		},
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT %q is not a number", v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("CODEROOM_DB_PATH"); v != "" {
		cfg.Store.SQLitePath = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Store.RedisURL = v
	}
	if v := os.Getenv("ALLOWED_ORIGINS"); v != "" {
		cfg.Server.AllowedOrigins = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port)
	}
	if cfg.Server.MaxMessageSize <= 0 {
		return fmt.Errorf("server.max_message_size must be positive")
	}
	if cfg.Server.SendBuffer <= 0 {
		return fmt.Errorf("server.send_buffer must be positive")
	}
	if len(cfg.Server.AllowedOrigins) == 0 {
		return fmt.Errorf("server.allowed_origins must not be empty")
	}

	switch cfg.Store.Driver {
	case "memory":
	case "sqlite":
		if cfg.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for the sqlite driver")
		}
	case "redis":
		if cfg.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("store.driver %q unknown: want memory|sqlite|redis", cfg.Store.Driver)
	}

	if cfg.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive")
	}
	if cfg.Sweep.IdleTTL < 0 {
		return fmt.Errorf("sweep.idle_ttl must not be negative")
	}

	if cfg.RateLimit.MessagesPerSecond <= 0 || cfg.RateLimit.MessageBurst <= 0 {
		return fmt.Errorf("rate_limit message rate and burst must be positive")
	}
	if cfg.RateLimit.ConnectsPerMinute <= 0 || cfg.RateLimit.ConnectBurst <= 0 {
		return fmt.Errorf("rate_limit connect rate and burst must be positive")
	}

	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level %q: %w", cfg.Log.Level, err)
	}
	return nil
}
