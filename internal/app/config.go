package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	EnvProduction  = "production"
	EnvDevelopment = "development"

	StoreMemory = "memory"
	StoreFile   = "file"
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"

	// devSessionSecret signs cookies when no secret is configured outside production.
	devSessionSecret = "dev_session_secret_change_me"
)

// ServerConfig defines how the auth server should run. Values are layered:
// defaults, then the optional YAML file, then environment variables, then
// command-line flags.
type ServerConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Port     int    `yaml:"port" env:"PORT"`
	AppEnv   string `yaml:"app_env" env:"APP_ENV"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"`

	SessionSecret string        `yaml:"session_secret" env:"SESSION_SECRET"`
	SessionTTL    time.Duration `yaml:"session_ttl" env:"SESSION_TTL"`
	SessionStore  string        `yaml:"session_store" env:"SESSION_STORE"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SESSION_SWEEP_INTERVAL"`

	UserStore string `yaml:"user_store" env:"USER_STORE"`
	UsersFile string `yaml:"users_file" env:"USERS_FILE"`
	DBPath    string `yaml:"db_path" env:"DB_PATH"`

	RedisAddr     string `yaml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" env:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db" env:"REDIS_DB"`

	GoogleClientID     string `yaml:"google_client_id" env:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `yaml:"google_client_secret" env:"GOOGLE_CLIENT_SECRET"`
	GoogleCallbackURL  string `yaml:"google_callback_url" env:"GOOGLE_CALLBACK_URL"`
}

// DefaultServerConfig returns the built-in defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Port:              3000,
		AppEnv:            EnvDevelopment,
		LogLevel:          "info",
		SessionTTL:        24 * time.Hour,
		SessionStore:      StoreMemory,
		SweepInterval:     10 * time.Minute,
		UserStore:         StoreFile,
		UsersFile:         "users.json",
		DBPath:            "onlineauth.db",
		RedisAddr:         "localhost:6379",
		GoogleCallbackURL: "http://localhost:3000/auth/google/callback",
	}
}

// LoadConfig layers the YAML file at path (optional) and the process
// environment over the defaults.
func LoadConfig(path string) (ServerConfig, error) {
	return loadConfig(path, env.Options{})
}

func loadConfig(path string, opts env.Options) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// Production reports whether secure cookies and proxy trust are enabled.
func (c ServerConfig) Production() bool {
	return strings.EqualFold(c.AppEnv, EnvProduction)
}

// ListenAddr is Addr when set, otherwise every interface on Port.
func (c ServerConfig) ListenAddr() string {
	if c.Addr != "" {
		return c.Addr
	}
	return ":" + strconv.Itoa(c.Port)
}

// Validate fills development fallbacks and rejects unusable settings.
func (c *ServerConfig) Validate() error {
	if c.SessionSecret == "" {
		if c.Production() {
			return errors.New("SESSION_SECRET is required in production")
		}
		c.SessionSecret = devSessionSecret
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session ttl must be positive, got %s", c.SessionTTL)
	}
	switch c.SessionStore {
	case StoreMemory, StoreSQLite, StoreRedis:
	default:
		return fmt.Errorf("unknown session store %q", c.SessionStore)
	}
	switch c.UserStore {
	case StoreFile:
		if c.UsersFile == "" {
			return errors.New("users file path is required")
		}
	case StoreSQLite:
	default:
		return fmt.Errorf("unknown user store %q", c.UserStore)
	}
	if c.needsSQLite() && c.DBPath == "" {
		return errors.New("database path is required")
	}
	if c.SessionStore == StoreRedis && c.RedisAddr == "" {
		return errors.New("redis address is required")
	}
	return nil
}

func (c ServerConfig) needsSQLite() bool {
	return c.UserStore == StoreSQLite || c.SessionStore == StoreSQLite
}

// UsingDevSecret reports whether cookies are signed with the built-in secret.
func (c ServerConfig) UsingDevSecret() bool {
	return c.SessionSecret == devSessionSecret
}
