package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/bigtreetc/tokenauth"
	"github.com/bigtreetc/tokenauth/internal/logging"
	"github.com/bigtreetc/tokenauth/provider"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TOKENAUTH_"

// Config is the full configuration of the server binary.
type Config struct {
	Server   ServerConfig          `yaml:"server"`
	Redis    RedisConfig           `yaml:"redis"`
	Database DatabaseConfig        `yaml:"database"`
	Logging  logging.Config        `yaml:"logging"`
	Users    []provider.StaticUser `yaml:"users"`
	// UsersFile is read after Users and appended to them.
	UsersFile string           `yaml:"users_file"`
	Auth      tokenauth.Config `yaml:"auth"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
}

// RedisConfig points at the refresh-token store. Embedded starts an
// in-process miniredis instead and is meant for local runs.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Embedded bool   `yaml:"embedded"`
}

// DatabaseConfig selects the SQL credential store. An empty DSN means the
// static user list is used instead.
type DatabaseConfig struct {
	Driver  string `yaml:"driver"`
	DSN     string `yaml:"dsn"`
	Migrate bool   `yaml:"migrate"`
}

// Enabled reports whether a SQL credential store is configured.
func (d DatabaseConfig) Enabled() bool {
	return d.DSN != ""
}

// Load builds a Config from defaults, the YAML file at path (skipped when
// path is empty), and TOKENAUTH_* environment variables, then validates it.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, lookup); err != nil {
		return nil, err
	}

	if cfg.UsersFile != "" {
		users, err := provider.LoadStaticFile(cfg.UsersFile)
		if err != nil {
			return nil, err
		}
		cfg.Users = append(cfg.Users, users...)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Database: DatabaseConfig{
			Driver:  provider.DriverSQLite,
			Migrate: true,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Auth: tokenauth.DefaultConfig(),
	}
}

func applyEnvOverrides(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	str("SERVER_ADDR", &cfg.Server.Addr)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_DSN", &cfg.Database.DSN)
	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
	str("USERS_FILE", &cfg.UsersFile)
	str("PROFILE", &cfg.Auth.Profile)

	if v, ok := lookup(EnvPrefix + "REDIS_DB"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_DB: %w", EnvPrefix, err)
		}
		cfg.Redis.DB = n
	}
	if v, ok := lookup(EnvPrefix + "REDIS_EMBEDDED"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sREDIS_EMBEDDED: %w", EnvPrefix, err)
		}
		cfg.Redis.Embedded = b
	}

	// The signing key is never read from the YAML file.
	if v, ok := lookup(EnvPrefix + "JWT_SIGNING_KEY"); ok {
		cfg.Auth.JWT.SigningKey = []byte(v)
	}
	return nil
}

// Validate checks the server sections and then the engine configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Addr == "" {
		errs = append(errs, "server.addr is required")
	}
	if c.Server.ShutdownTimeout <= 0 {
		errs = append(errs, "server.shutdown_timeout must be > 0")
	}
	if c.Server.MaxBodyBytes <= 0 {
		errs = append(errs, "server.max_body_bytes must be > 0")
	}

	if !c.Redis.Embedded && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr is required unless redis.embedded is set")
	}

	if c.Database.Enabled() {
		switch c.Database.Driver {
		case provider.DriverSQLite, provider.DriverPostgres:
		default:
			errs = append(errs, fmt.Sprintf("database.driver must be %q or %q", provider.DriverSQLite, provider.DriverPostgres))
		}
	} else if len(c.Users) == 0 {
		errs = append(errs, "either database.dsn or at least one user is required")
	}

	if !tokenauth.IsLocalOrTest(c.Auth.Profile) {
		for i, u := range c.Users {
			if u.Password != "" {
				errs = append(errs, fmt.Sprintf("users[%d]: plaintext password is only allowed in local or test profiles", i))
			}
		}
	}

	if len(c.Auth.JWT.SigningKey) == 0 {
		errs = append(errs, "auth signing key is required (set "+EnvPrefix+"JWT_SIGNING_KEY)")
	} else if err := c.Auth.Validate(); err != nil {
		errs = append(errs, "auth: "+err.Error())
	}

	if len(errs) > 0 {
		return errors.New("configuration errors: " + strings.Join(errs, "; "))
	}
	return nil
}
