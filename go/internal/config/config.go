// Package config loads server settings from an optional YAML file and the
// environment. Environment variables win over the file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/olympia/go/internal/dbconfig"
	"github.com/mcdev12/olympia/go/internal/gateway"
	"github.com/mcdev12/olympia/go/internal/notify"
	"github.com/mcdev12/olympia/go/internal/relay"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type TimerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	PersistEvery int           `yaml:"persist_every"`
}

type RescueConfig struct {
	DefaultSeconds       int  `yaml:"default_seconds"`
	ReinstateImmediately bool `yaml:"reinstate_immediately"`
}

type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type RelayConfig struct {
	relay.Config `yaml:",inline"`
	JetStream    relay.JetStreamConfig `yaml:"jetstream"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the full server configuration.
type Config struct {
	Port      string        `yaml:"port"`
	Store     string        `yaml:"store"`
	JWTSecret string        `yaml:"-"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
	// SeedFile is a demo match JSON loaded into the memory store.
	SeedFile  string        `yaml:"seed_file"`

	Log     LogConfig                `yaml:"log"`
	Timer   TimerConfig              `yaml:"timer"`
	Rescue  RescueConfig             `yaml:"rescue"`
	Gateway gateway.ConnectionConfig `yaml:"gateway"`
	Redis   RedisConfig              `yaml:"redis"`
	Relay   RelayConfig              `yaml:"relay"`
	Notify  notify.ListenerConfig    `yaml:"notify"`
	CORS    CORSConfig               `yaml:"cors"`

	// NATSEnabled is true when NATS_URL is set or the file names a url.
	NATSEnabled bool            `yaml:"-"`
	DB          dbconfig.Config `yaml:"-"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Port:     "8080",
		Store:    StoreMemory,
		TokenTTL: 12 * time.Hour,
		Log:      LogConfig{Level: "info", Format: "json"},
		Timer:    TimerConfig{Interval: time.Second, PersistEvery: 5},
		Rescue:   RescueConfig{DefaultSeconds: 30},
		Gateway:  gateway.DefaultConnectionConfig(),
		Redis:    RedisConfig{TTL: 6 * time.Hour},
		Relay: RelayConfig{
			Config:    relay.DefaultConfig(),
			JetStream: relay.DefaultJetStreamConfig(),
		},
		Notify: notify.DefaultListenerConfig(),
		CORS:   CORSConfig{AllowedOrigins: []string{"*"}},
	}
}

// Load reads .env, then the YAML file named by CONFIG_FILE (default
// config.yaml), then environment overrides. Missing files are not errors.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Err(err).Msg("could not load .env file")
	}

	cfg := Default()
	path := getEnv("CONFIG_FILE", "config.yaml")
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info().Str("path", path).Msg("no config file, using defaults")
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	default:
		if err := Parse(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Parse decodes YAML over cfg.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Relay.JetStream.URL != "" && cfg.Relay.JetStream.URL != relay.DefaultJetStreamConfig().URL {
		cfg.NATSEnabled = true
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Port = getEnv("PORT", c.Port)
	c.Store = strings.ToLower(getEnv("STORE", c.Store))
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.SeedFile = getEnv("SEED_FILE", c.SeedFile)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if url := os.Getenv("NATS_URL"); url != "" {
		c.Relay.JetStream.URL = url
		c.NATSEnabled = true
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		c.CORS.AllowedOrigins = splitList(origins)
	}
	if v := os.Getenv("TIMER_PERSIST_EVERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid TIMER_PERSIST_EVERY %q: %w", v, err)
		}
		c.Timer.PersistEvery = n
	}

	c.DB = dbconfig.NewConfigFromEnv()
	c.Notify.DatabaseURL = c.DB.DSN()
	return nil
}

// Validate rejects settings the server cannot run with.
func (c Config) Validate() error {
	if c.Store != StoreMemory && c.Store != StorePostgres {
		return fmt.Errorf("unknown store %q, expected %s or %s", c.Store, StoreMemory, StorePostgres)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.Timer.Interval <= 0 {
		return fmt.Errorf("timer interval must be positive, got %v", c.Timer.Interval)
	}
	if c.Rescue.DefaultSeconds <= 0 {
		return fmt.Errorf("rescue default_seconds must be positive, got %d", c.Rescue.DefaultSeconds)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
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
