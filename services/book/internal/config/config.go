package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port               string   `yaml:"port"`
	LogLevel           string   `yaml:"logLevel"`
	RedisAddr          string   `yaml:"redisAddr"`
	RedisPassword      string   `yaml:"redisPassword"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
	EventStream        string   `yaml:"eventStream"`
	EventMaxLen        int64    `yaml:"eventMaxLen"`
	MaxBodyBytes       int64    `yaml:"maxBodyBytes"`
	TrustedProxies     []string `yaml:"trustedProxies"`
	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins"`
	ShutdownTimeout    string   `yaml:"shutdownTimeout"`
}

// Load reads config from path (defaults to config.yaml), applies environment
// overrides and defaults, then validates. A missing default config file is not
// an error; the service can be configured from the environment alone.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && path == ConfigPath:
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("BOOK_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("BOOK_EVENT_STREAM"); v != "" {
		cfg.EventStream = v
	}
	if v := os.Getenv("BOOK_MAX_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxBodyBytes = n
		}
	}
	if v := os.Getenv("BOOK_TRUSTED_PROXIES"); v != "" {
		cfg.TrustedProxies = splitCSV(v)
	}
	if v := os.Getenv("BOOK_CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "9000"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = 60
	}
	if cfg.EventStream == "" {
		cfg.EventStream = "bookshelf:events"
	}
	if cfg.EventMaxLen == 0 {
		cfg.EventMaxLen = 1000
	}
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ShutdownTimeout == "" {
		cfg.ShutdownTimeout = "10s"
	}
}

func validateConfig(cfg FileConfig) error {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("config: invalid port %q", cfg.Port)
	}
	if cfg.EventMaxLen < 0 {
		return errors.New("config: eventMaxLen must not be negative")
	}
	if cfg.MaxBodyBytes < 0 {
		return errors.New("config: maxBodyBytes must not be negative")
	}
	if _, err := ParseShutdownTimeout(cfg.ShutdownTimeout); err != nil {
		return err
	}
	return nil
}

// ParseShutdownTimeout parses the graceful shutdown budget.
func ParseShutdownTimeout(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("config: invalid shutdownTimeout %q: %w", raw, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: shutdownTimeout must be positive, got %s", d)
	}
	return d, nil
}

// Redacted returns a copy safe to print.
func (c FileConfig) Redacted() FileConfig {
	if c.RedisPassword != "" {
		c.RedisPassword = "******"
	}
	return c
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
