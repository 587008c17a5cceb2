// Package config provides configuration loading and validation for
// shardrelay components: a small EnvConfig/Validator scaffolding for ad-hoc
// lookups (kept from the teacher's common config patterns), and FleetConfig,
// the viper-backed shard fleet definition cmd/shardctl loads at startup the
// way the teacher's cli package loads its own service config (see
// _examples/evalgo-org-eve/cli/root.go) — file, environment, and flag
// sources merged with flags taking precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvConfig provides utilities for loading configuration from environment variables
type EnvConfig struct {
	prefix string // Optional prefix for all environment variables
}

// NewEnvConfig creates a new environment configuration loader
func NewEnvConfig(prefix string) *EnvConfig {
	return &EnvConfig{
		prefix: prefix,
	}
}

// GetString retrieves a string value from environment with optional default
func (ec *EnvConfig) GetString(key, defaultValue string) string {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		return value
	}
	return defaultValue
}

// MustGetString retrieves a required string value from environment or panics
func (ec *EnvConfig) MustGetString(key string) string {
	fullKey := ec.buildKey(key)
	value := os.Getenv(fullKey)
	if value == "" {
		panic(fmt.Sprintf("required environment variable %s not set", fullKey))
	}
	return value
}

// GetInt retrieves an integer value from environment with optional default
func (ec *EnvConfig) GetInt(key string, defaultValue int) int {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetBool retrieves a boolean value from environment with optional default
func (ec *EnvConfig) GetBool(key string, defaultValue bool) bool {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		boolValue, err := strconv.ParseBool(value)
		if err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// GetDuration retrieves a duration value from environment with optional default
func (ec *EnvConfig) GetDuration(key string, defaultValue time.Duration) time.Duration {
	fullKey := ec.buildKey(key)
	if value := os.Getenv(fullKey); value != "" {
		duration, err := time.ParseDuration(value)
		if err == nil {
			return duration
		}
	}
	return defaultValue
}

// buildKey builds the full environment variable key with optional prefix
func (ec *EnvConfig) buildKey(key string) string {
	if ec.prefix != "" {
		return ec.prefix + "_" + key
	}
	return key
}

// Validator provides configuration validation utilities
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator
func NewValidator() *Validator {
	return &Validator{
		errors: make([]string, 0),
	}
}

// RequireString validates that a string field is not empty
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequirePositiveInt validates that an integer field is positive
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

// RequireOneOf validates that a value is one of the allowed options
func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// IsValid returns true if there are no validation errors
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// Errors returns all validation errors
func (v *Validator) Errors() []string {
	return v.errors
}

// ErrorString returns all validation errors as a single string
func (v *Validator) ErrorString() string {
	if len(v.errors) == 0 {
		return ""
	}
	return strings.Join(v.errors, "; ")
}

// Validate runs validation and returns error if invalid
func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", v.ErrorString())
	}
	return nil
}

// ShardDSN names one shard's connection string and logical name. Name must
// be unique across a fleet; it is what router.validateFleet rejects
// duplicates of and what every observer.Record.ShardName reports.
type ShardDSN struct {
	Name string `mapstructure:"name"`
	DSN  string `mapstructure:"dsn"`
}

// FleetConfig is the full shard fleet definition cmd/shardctl boots from:
// the ordered shard list (shard 0..N-1, matching scatter.Gather's
// iteration order), the server/observability surface, and the two
// documented behavioral toggles (spec.md §6): SkipReadOnlyTransaction
// (readonlyctx.ReadOnlyContext.SkipTransaction) and LockWaitTimeout.
// LockWaitTimeout is loaded from configuration only: no gateway reads it,
// and WRITE_NOWAIT acquisition is not retried.
type FleetConfig struct {
	Shards                  []ShardDSN    `mapstructure:"shards"`
	SortField               string        `mapstructure:"sort_field"`
	SkipReadOnlyTransaction bool          `mapstructure:"skip_read_only_transaction"`
	LockWaitTimeout         time.Duration `mapstructure:"lock_wait_timeout"`
	HTTPPort                int           `mapstructure:"http_port"`
	LogLevel                string        `mapstructure:"log_level"`
}

// envPrefix is the environment-variable namespace FleetConfig binds under,
// e.g. SHARDRELAY_HTTP_PORT for the http_port key.
const envPrefix = "SHARDRELAY"

// NewViper builds a viper.Viper pre-populated with FleetConfig's defaults,
// bound to envPrefix, and ready for flag binding by the caller (cmd/shardctl
// binds its pflag.FlagSet on top before calling Load), mirroring the
// teacher's file+env+flag precedence in cli/root.go's initConfig.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("sort_field", "ID")
	v.SetDefault("skip_read_only_transaction", false)
	v.SetDefault("lock_wait_timeout", 5*time.Second)
	v.SetDefault("http_port", 8080)
	v.SetDefault("log_level", "info")

	v.SetConfigType("yaml")
	v.SetConfigName("shardrelay")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/shardrelay")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads v's config file if present (a missing file is not an error;
// a malformed one is), unmarshals into FleetConfig, and validates it.
func Load(v *viper.Viper) (*FleetConfig, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg FleetConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *FleetConfig) validate() error {
	validator := NewValidator()
	validator.RequirePositiveInt("http_port", c.HTTPPort)
	validator.RequireOneOf("log_level", c.LogLevel, []string{"debug", "info", "warn", "error"})
	if len(c.Shards) == 0 {
		validator.RequireString("shards", "")
	}
	seen := make(map[string]bool, len(c.Shards))
	for _, s := range c.Shards {
		validator.RequireString("shards[].name", s.Name)
		validator.RequireString("shards[].dsn", s.DSN)
		if seen[s.Name] {
			return fmt.Errorf("duplicate shard name in fleet config: %s", s.Name)
		}
		seen[s.Name] = true
	}
	return validator.Validate()
}
