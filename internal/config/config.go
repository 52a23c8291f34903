// Package config loads server configuration from defaults, a YAML file,
// environment variables and explicit overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment variable. A double underscore separates
// sections: FOODTOKEN_STORE__BACKEND=redis sets store.backend.
const EnvPrefix = "FOODTOKEN_"

// Store backends.
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendBadger   = "badger"
	BackendMemory   = "memory"
)

// Config is the complete server configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Store   StoreConfig   `koanf:"store"`
	Auth    AuthConfig    `koanf:"auth"`
	Issue   IssueConfig   `koanf:"issue"`
	QR      QRConfig      `koanf:"qr"`
	SMTP    SMTPConfig    `koanf:"smtp"`
	Payment PaymentConfig `koanf:"payment"`
	Dev     bool          `koanf:"dev"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
}

type StoreConfig struct {
	Backend       string `koanf:"backend"`
	DSN           string `koanf:"dsn"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`
	BadgerDir     string `koanf:"badger_dir"` // empty keeps badger in memory
}

// OperatorEntry seeds an operator for backends without an operators table.
// PasswordHash is produced by `ft-server hash-password`.
type OperatorEntry struct {
	Username     string `koanf:"username"`
	PasswordHash string `koanf:"password_hash"`
}

type AuthConfig struct {
	SignKey   string          `koanf:"sign_key"`
	AccessTTL time.Duration   `koanf:"access_ttl"`
	Operators []OperatorEntry `koanf:"operators"`
	Window    time.Duration   `koanf:"limiter_window"`
	MaxFails  int             `koanf:"limiter_max_fails"`
	BlockFor  time.Duration   `koanf:"limiter_block_for"`
}

type IssueConfig struct {
	MaxAttempts int `koanf:"max_attempts"`
	MaxPerDay   int `koanf:"max_per_day"`
	MaxTotal    int `koanf:"max_total"`
}

type QRConfig struct {
	Size int `koanf:"size"`
}

// SMTPConfig configures delivery. An empty host logs notifications instead of sending.
type SMTPConfig struct {
	Host      string        `koanf:"host"`
	Port      int           `koanf:"port"`
	Username  string        `koanf:"username"`
	Password  string        `koanf:"password"`
	From      string        `koanf:"from"`
	Organiser string        `koanf:"organiser"`
	TLS       string        `koanf:"tls"`
	Timeout   time.Duration `koanf:"timeout"`
}

// PaymentConfig names who contributions are paid to. An empty upi_id omits the
// payment link from organiser mail.
type PaymentConfig struct {
	UPIID     string `koanf:"upi_id"`
	PayeeName string `koanf:"payee_name"`
	Currency  string `koanf:"currency"`
}

// Default returns the compiled-in defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RequestTimeout:  20 * time.Second,
		},
		Store: StoreConfig{
			Backend:     BackendPostgres,
			RedisAddr:   "localhost:6379",
			RedisPrefix: "foodtoken:",
		},
		Auth: AuthConfig{
			AccessTTL: 12 * time.Hour,
			Window:    15 * time.Minute,
			MaxFails:  5,
			BlockFor:  15 * time.Minute,
		},
		Issue:   IssueConfig{MaxAttempts: 3, MaxPerDay: 50, MaxTotal: 200},
		QR:      QRConfig{Size: 300},
		SMTP:    SMTPConfig{Port: 465, TLS: "ssl", Timeout: 15 * time.Second},
		Payment: PaymentConfig{Currency: "INR"},
	}
}

// Load reads path (optional) and the environment over defaults, then applies overrides
// keyed by dotted path (for example "store.backend").
func Load(path string, overrides map[string]any) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load env: %w", err)
	}
	if len(overrides) > 0 {
		if err := k.Load(confmap.Provider(overrides, "."), nil); err != nil {
			return Config{}, fmt.Errorf("load overrides: %w", err)
		}
	}
	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

// envKey maps FOODTOKEN_STORE__REDIS_ADDR to store.redis_addr.
func envKey(s string) string {
	s = strings.TrimPrefix(s, EnvPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "__", ".")
}

// Validate reports configuration that cannot serve requests.
func (c Config) Validate() error {
	var problems []error
	if c.Server.Addr == "" {
		problems = append(problems, errors.New("server.addr is empty"))
	}
	switch c.Store.Backend {
	case BackendPostgres:
		if c.Store.DSN == "" {
			problems = append(problems, errors.New("store.dsn is required for postgres"))
		}
	case BackendRedis:
		if c.Store.RedisAddr == "" {
			problems = append(problems, errors.New("store.redis_addr is required for redis"))
		}
	case BackendBadger, BackendMemory:
	default:
		problems = append(problems, fmt.Errorf("store.backend %q is unknown", c.Store.Backend))
	}
	if len(c.Auth.SignKey) < 16 {
		problems = append(problems, errors.New("auth.sign_key must be at least 16 bytes"))
	}
	if c.Auth.AccessTTL <= 0 {
		problems = append(problems, errors.New("auth.access_ttl must be positive"))
	}
	if c.Store.Backend != BackendPostgres {
		for i, o := range c.Auth.Operators {
			if o.Username == "" || o.PasswordHash == "" {
				problems = append(problems, fmt.Errorf("auth.operators[%d] needs username and password_hash", i))
			}
		}
	}
	if c.Issue.MaxAttempts < 1 {
		problems = append(problems, errors.New("issue.max_attempts must be at least 1"))
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" && c.SMTP.Username == "" {
		problems = append(problems, errors.New("smtp.from or smtp.username is required"))
	}
	return errors.Join(problems...)
}
