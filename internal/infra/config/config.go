// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Rotation counter backends.
const (
	BackendUpstash = "upstash"
	BackendRedis   = "redis"
	BackendNone    = "none"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Admission AdmissionConfig `yaml:"admission"`
	Rotation  RotationConfig  `yaml:"rotation"`
	Avatar    AvatarConfig    `yaml:"avatar"`
	Roles     RolesConfig     `yaml:"roles"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr            string        `yaml:"addr" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" default:"10s"`
	Hooks           HooksConfig   `yaml:"hooks"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// LogConfig represents log file rotation settings.
type LogConfig struct {
	MaxSizeMB  int  `yaml:"max_size_mb" default:"100" validate:"gte=1"`
	MaxBackups int  `yaml:"max_backups" default:"5" validate:"gte=0"`
	MaxAgeDays int  `yaml:"max_age_days" default:"14" validate:"gte=0"`
	Compress   bool `yaml:"compress"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// AdmissionConfig represents admission queue configuration.
type AdmissionConfig struct {
	MaxConcurrentSessions int           `yaml:"max_concurrent_sessions" default:"1" validate:"gte=1,lte=100"`
	WaitTimeout           time.Duration `yaml:"wait_timeout" default:"30s" validate:"gt=0"`
	StaleAfter            time.Duration `yaml:"stale_after" default:"10m" validate:"gt=0"`
	LeaseTTL              time.Duration `yaml:"lease_ttl" default:"30m" validate:"gt=0"`
	SweepInterval         time.Duration `yaml:"sweep_interval" default:"1m" validate:"gt=0"`
}

// RotationConfig represents credential rotation configuration.
type RotationConfig struct {
	Backend   string        `yaml:"backend" default:"upstash" validate:"oneof=upstash redis none"`
	Timeout   time.Duration `yaml:"timeout" default:"5s" validate:"gt=0"`
	KeyPrefix string        `yaml:"key_prefix" default:"rotor" validate:"required"`
	Upstash   UpstashConfig `yaml:"upstash"`
	Redis     RedisConfig   `yaml:"redis"`
}

// UpstashConfig represents Upstash REST API configuration.
type UpstashConfig struct {
	RestURL   string `yaml:"rest_url" validate:"omitempty,url"`
	RestToken string `yaml:"rest_token"`
}

// RedisConfig represents native Redis configuration.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// AvatarConfig represents the upstream avatar API configuration.
type AvatarConfig struct {
	AuthURI   string        `yaml:"auth_uri" validate:"required,url"`
	Timeout   time.Duration `yaml:"timeout" default:"10s" validate:"gt=0"`
	RateLimit float64       `yaml:"rate_limit" validate:"gte=0"` // token requests per second, 0 disables
	Burst     int           `yaml:"burst" default:"1" validate:"gte=1"`
}

// RolesConfig holds per-role upstream settings.
type RolesConfig struct {
	Investor RoleConfig `yaml:"investor"`
	Coach    RoleConfig `yaml:"coach"`
}

// RoleConfig represents the upstream settings of one role.
type RoleConfig struct {
	APIKey1  string `yaml:"api_key1"`
	APIKey2  string `yaml:"api_key2"`
	APIKey   string `yaml:"api_key"`
	AvatarID string `yaml:"avatar_id"`
	AgentID  string `yaml:"agent_id"`
}

// HasCredential reports whether any API key is configured.
func (r RoleConfig) HasCredential() bool {
	return r.APIKey1 != "" || r.APIKey2 != "" || r.APIKey != ""
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
// A missing file is allowed so that the service can run from environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, errors.Wrap(err, "failed to parse config file")
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, errors.Wrap(err, "failed to read config file")
	}

	// Override with environment variables
	if err := cfg.overrideFromEnv(); err != nil {
		return nil, err
	}

	// Set defaults using creasty/defaults
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() error {
	setString(&c.Admin.Token, "ADMIN_TOKEN")
	setString(&c.Server.Addr, "SERVER_ADDR")
	setString(&c.Avatar.AuthURI, "ANAM_AUTH_URI")
	setString(&c.Rotation.Backend, "ROTATION_BACKEND")
	setString(&c.Rotation.Upstash.RestURL, "UPSTASH_REDIS_REST_URL")
	setString(&c.Rotation.Upstash.RestToken, "UPSTASH_REDIS_REST_TOKEN")
	setString(&c.Rotation.Redis.Addr, "REDIS_ADDR")
	setString(&c.Rotation.Redis.Password, "REDIS_PASSWORD")

	if v := os.Getenv("MAX_CONCURRENT_SESSIONS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "invalid MAX_CONCURRENT_SESSIONS %q", v)
		}
		c.Admission.MaxConcurrentSessions = n
	}

	c.Roles.Investor.overrideFromEnv("INVESTOR")
	c.Roles.Coach.overrideFromEnv("COACH")

	// Backend names are matched exactly from here on.
	c.Rotation.Backend = strings.ToLower(strings.TrimSpace(c.Rotation.Backend))
	return nil
}

func (r *RoleConfig) overrideFromEnv(role string) {
	setString(&r.APIKey1, "ANAM_"+role+"_API_KEY1")
	setString(&r.APIKey2, "ANAM_"+role+"_API_KEY2")
	setString(&r.APIKey, "ANAM_"+role+"_API_KEY")
	setString(&r.AvatarID, "ANAM_"+role+"_AVATAR_ID")
	setString(&r.AgentID, "ELEVENLABS_"+role+"_AGENT_ID")
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}

	if err := c.validateRotationBackend(); err != nil {
		return err
	}

	return c.validateRoles()
}

// validateRotationBackend checks that the selected backend has its connection settings.
func (c *Config) validateRotationBackend() error {
	switch c.Rotation.Backend {
	case BackendUpstash:
		// Without both values rotation degrades to the local fallback.
		if (c.Rotation.Upstash.RestURL == "") != (c.Rotation.Upstash.RestToken == "") {
			return errors.New("upstash rest_url and rest_token must be set together")
		}
	case BackendRedis:
		if c.Rotation.Redis.Addr == "" {
			return errors.New("redis addr is required when rotation backend is redis")
		}
	}
	return nil
}

// validateRoles checks that at least one role can serve sessions.
func (c *Config) validateRoles() error {
	if !c.Roles.Investor.HasCredential() && !c.Roles.Coach.HasCredential() {
		return errors.New("no API key configured for any role")
	}
	return nil
}

// CounterEnabled reports whether a shared rotation counter is configured.
func (c *Config) CounterEnabled() bool {
	switch c.Rotation.Backend {
	case BackendUpstash:
		return c.Rotation.Upstash.RestURL != "" && c.Rotation.Upstash.RestToken != ""
	case BackendRedis:
		return c.Rotation.Redis.Addr != ""
	default:
		return false
	}
}
