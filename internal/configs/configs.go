/*
Package configs is responsible for loading and parsing the gateway's configuration settings.

Values are resolved with viper in the order defaults < optional YAML file < environment
variables. Environment variable names are the upper-case form of the keys below
(PORT, JWT_SECRET, DATABASE_URL, ...).
*/
package configs

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"

	// DevJWTSecret is only ever used when ENVIRONMENT is development.
	DevJWTSecret = "agora_insecure_development_secret_change_me"

	// DevDatabaseURL selects the in-memory store.
	DevDatabaseURL = "memory://"

	minPort = 1024
	maxPort = 65535

	// minIdleTimeout keeps the keepalive interval derived from IDLE_TIMEOUT positive.
	minIdleTimeout = time.Second
)

// AppConfig contains all configuration parameters required for the gateway to run.
type AppConfig struct {
	// General Server Settings
	Environment string `mapstructure:"environment" yaml:"environment"`
	Port        int    `mapstructure:"port" yaml:"port"`
	LogLevel    string `mapstructure:"log_level" yaml:"log_level"`

	// Security Settings
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	JWTSecret      string   `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer      string   `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	NotifierRole   string   `mapstructure:"notifier_role" yaml:"notifier_role"`
	HandshakeRate  float64  `mapstructure:"handshake_rate" yaml:"handshake_rate"`
	HandshakeBurst int      `mapstructure:"handshake_burst" yaml:"handshake_burst"`
	NotifyRate     float64  `mapstructure:"notify_rate" yaml:"notify_rate"`
	NotifyBurst    int      `mapstructure:"notify_burst" yaml:"notify_burst"`

	// Connection and persistence timing
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
	PersistTimeout time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`
	LookupTimeout  time.Duration `mapstructure:"lookup_timeout" yaml:"lookup_timeout"`

	// Database Settings
	DatabaseURL string `mapstructure:"database_url" yaml:"database_url"`
	RoomsFile   string `mapstructure:"rooms_file" yaml:"rooms_file"`

	// Cluster Settings
	PubSubURL string `mapstructure:"pubsub_url" yaml:"pubsub_url"`

	// Dead-letter archive (S3 compatible)
	DeadLetterBucket          string `mapstructure:"deadletter_bucket" yaml:"deadletter_bucket"`
	DeadLetterEndpoint        string `mapstructure:"deadletter_endpoint" yaml:"deadletter_endpoint"`
	DeadLetterAccessKeyID     string `mapstructure:"deadletter_access_key_id" yaml:"deadletter_access_key_id"`
	DeadLetterSecretAccessKey string `mapstructure:"deadletter_secret_access_key" yaml:"deadletter_secret_access_key"`
}

// Default returns the configuration used when nothing is overridden.
// JWTSecret and DatabaseURL stay empty; they are filled in for development only.
func Default() AppConfig {
	return AppConfig{
		Environment:    EnvDevelopment,
		Port:           8080,
		LogLevel:       "",
		AllowedOrigins: []string{},
		JWTIssuer:      "",
		NotifierRole:   "notifier",
		HandshakeRate:  1,
		HandshakeBurst: 10,
		NotifyRate:     20,
		NotifyBurst:    40,
		IdleTimeout:    60 * time.Second,
		PersistTimeout: 5 * time.Second,
		LookupTimeout:  5 * time.Second,
	}
}

// IsDevelopment reports whether the gateway runs in the development environment.
func (c *AppConfig) IsDevelopment() bool {
	return c.Environment == EnvDevelopment
}

// LoadConfig reads the configuration. path names an optional YAML file; when it is empty
// only defaults and environment variables are used. Env-dependent defaults are applied
// and the result is validated before it is returned.
func LoadConfig(path string) (*AppConfig, error) {
	v := newViper(Default())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration value: %w", err)
	}

	if err := cfg.finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper(def AppConfig) *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("environment", def.Environment)
	v.SetDefault("port", def.Port)
	v.SetDefault("log_level", def.LogLevel)
	v.SetDefault("allowed_origins", def.AllowedOrigins)
	v.SetDefault("jwt_secret", def.JWTSecret)
	v.SetDefault("jwt_issuer", def.JWTIssuer)
	v.SetDefault("notifier_role", def.NotifierRole)
	v.SetDefault("handshake_rate", def.HandshakeRate)
	v.SetDefault("handshake_burst", def.HandshakeBurst)
	v.SetDefault("notify_rate", def.NotifyRate)
	v.SetDefault("notify_burst", def.NotifyBurst)
	v.SetDefault("idle_timeout", def.IdleTimeout)
	v.SetDefault("persist_timeout", def.PersistTimeout)
	v.SetDefault("lookup_timeout", def.LookupTimeout)
	v.SetDefault("database_url", def.DatabaseURL)
	v.SetDefault("rooms_file", def.RoomsFile)
	v.SetDefault("pubsub_url", def.PubSubURL)
	v.SetDefault("deadletter_bucket", def.DeadLetterBucket)
	v.SetDefault("deadletter_endpoint", def.DeadLetterEndpoint)
	v.SetDefault("deadletter_access_key_id", def.DeadLetterAccessKeyID)
	v.SetDefault("deadletter_secret_access_key", def.DeadLetterSecretAccessKey)

	// Every key has a default, so AutomaticEnv resolves PORT, JWT_SECRET, ... on Unmarshal.
	v.AutomaticEnv()

	return v
}

func (c *AppConfig) finalize() error {
	c.Environment = strings.TrimSpace(c.Environment)
	if c.Environment == "" {
		c.Environment = EnvDevelopment
	}

	if c.Port < minPort || c.Port > maxPort {
		return fmt.Errorf("port number %d is outside the recommended range (%d-%d) to avoid privileged ports", c.Port, minPort, maxPort)
	}

	c.AllowedOrigins = splitList(c.AllowedOrigins)

	if c.JWTSecret == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("JWT_SECRET is required in %s environment for security", c.Environment)
		}
		c.JWTSecret = DevJWTSecret
	}

	if c.DatabaseURL == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("DATABASE_URL is required in %s environment", c.Environment)
		}
		c.DatabaseURL = DevDatabaseURL
	}

	c.NotifierRole = strings.TrimSpace(c.NotifierRole)
	if c.NotifierRole == "" && !c.IsDevelopment() {
		return fmt.Errorf("NOTIFIER_ROLE is required in %s environment", c.Environment)
	}

	if c.IdleTimeout < minIdleTimeout {
		return fmt.Errorf("IDLE_TIMEOUT must be at least %s", minIdleTimeout)
	}
	if c.PersistTimeout <= 0 {
		return errors.New("PERSIST_TIMEOUT must be positive")
	}
	if c.LookupTimeout <= 0 {
		return errors.New("LOOKUP_TIMEOUT must be positive")
	}
	if c.HandshakeRate <= 0 || c.HandshakeBurst <= 0 {
		return errors.New("HANDSHAKE_RATE and HANDSHAKE_BURST must be positive")
	}
	if c.NotifyRate <= 0 || c.NotifyBurst <= 0 {
		return errors.New("NOTIFY_RATE and NOTIFY_BURST must be positive")
	}

	return nil
}

// splitList trims entries and also splits entries that still contain commas,
// which is how a single ALLOWED_ORIGINS env value arrives.
func splitList(values []string) []string {
	out := []string{}
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
	}
	return out
}
