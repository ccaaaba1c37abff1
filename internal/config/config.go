// Package config wraps viper to give modules a narrow, nil-safe view of
// their configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides, e.g.
// NETCORRELATE_DATABASE_PATH.
const EnvPrefix = "NETCORRELATE"

// Config is a read-only view over a viper instance.
type Config struct {
	v *viper.Viper
}

// New wraps v. A nil v yields a Config that returns zero values.
func New(v *viper.Viper) *Config {
	if v == nil {
		v = viper.New()
	}
	return &Config{v: v}
}

// GetString returns the value for key as a string.
func (c *Config) GetString(key string) string { return c.v.GetString(key) }

// GetInt returns the value for key as an int.
func (c *Config) GetInt(key string) int { return c.v.GetInt(key) }

// GetFloat64 returns the value for key as a float64.
func (c *Config) GetFloat64(key string) float64 { return c.v.GetFloat64(key) }

// GetBool returns the value for key as a bool.
func (c *Config) GetBool(key string) bool { return c.v.GetBool(key) }

// GetDuration returns the value for key as a time.Duration.
func (c *Config) GetDuration(key string) time.Duration { return c.v.GetDuration(key) }

// GetStringSlice returns the value for key as a []string.
func (c *Config) GetStringSlice(key string) []string { return c.v.GetStringSlice(key) }

// IsSet reports whether key has a value from any source.
func (c *Config) IsSet(key string) bool { return c.v.IsSet(key) }

// Sub returns the subtree rooted at key. A missing subtree yields an
// empty Config, never nil.
func (c *Config) Sub(key string) *Config {
	sub := c.v.Sub(key)
	if sub == nil {
		return New(nil)
	}
	return New(sub)
}

// Unmarshal decodes the whole config into target using mapstructure tags.
func (c *Config) Unmarshal(target any) error {
	return c.v.Unmarshal(target)
}

// Viper exposes the wrapped instance for plugin registration.
func (c *Config) Viper() *viper.Viper { return c.v }

// Load builds the application configuration from defaults, an optional
// YAML file, and NETCORRELATE_* environment variables, in rising priority.
func Load(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	return New(v), nil
}

// SetDefaults registers the default value of every known key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.path", "netcorrelate.db")
	v.SetDefault("database.busy_timeout", "5s")

	v.SetDefault("plugins.correlation.enabled", true)
	v.SetDefault("plugins.correlation.lock_stale_after", "30m")
	v.SetDefault("plugins.correlation.ambiguous_hostnames", []string{
		"localhost", "localhost.localdomain", "localhost.local",
	})
	v.SetDefault("plugins.correlation.ipv4_prefix", 24)
	v.SetDefault("plugins.correlation.ipv6_prefix", 64)
	v.SetDefault("plugins.correlation.trigger_rate", 0.2)
	v.SetDefault("plugins.correlation.trigger_burst", 2)
}
