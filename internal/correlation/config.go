package correlation

import (
	"strings"
	"time"

	"github.com/HerbHall/netcorrelate/internal/config"
)

// Config holds the correlation module settings.
type Config struct {
	// LockStaleAfter is the age after which a persisted run lock is presumed
	// abandoned and taken over.
	LockStaleAfter time.Duration

	// AmbiguousHostnames are hostname or FQDN values never used as a merge key.
	AmbiguousHostnames []string

	IPv4Prefix int
	IPv6Prefix int

	// TriggerRate and TriggerBurst limit POST /runs (requests per second).
	TriggerRate  float64
	TriggerBurst int
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		LockStaleAfter:     30 * time.Minute,
		AmbiguousHostnames: []string{"localhost", "localhost.localdomain", "localhost.local"},
		IPv4Prefix:         24,
		IPv6Prefix:         64,
		TriggerRate:        0.2,
		TriggerBurst:       2,
	}
}

// ConfigFrom reads the plugin subtree, falling back to DefaultConfig for
// unset or invalid values.
func ConfigFrom(c *config.Config) Config {
	cfg := DefaultConfig()
	if c == nil {
		return cfg
	}
	if c.IsSet("lock_stale_after") {
		if d := c.GetDuration("lock_stale_after"); d > 0 {
			cfg.LockStaleAfter = d
		}
	}
	if c.IsSet("ambiguous_hostnames") {
		cfg.AmbiguousHostnames = c.GetStringSlice("ambiguous_hostnames")
	}
	if n := c.GetInt("ipv4_prefix"); n > 0 && n <= 32 {
		cfg.IPv4Prefix = n
	}
	if n := c.GetInt("ipv6_prefix"); n > 0 && n <= 128 {
		cfg.IPv6Prefix = n
	}
	if c.IsSet("trigger_rate") {
		if r := c.GetFloat64("trigger_rate"); r > 0 {
			cfg.TriggerRate = r
		}
	}
	if n := c.GetInt("trigger_burst"); n > 0 {
		cfg.TriggerBurst = n
	}
	return cfg
}

// ambiguousSet returns the lower-cased ambiguous values as a set.
func (c Config) ambiguousSet() map[string]struct{} {
	set := make(map[string]struct{}, len(c.AmbiguousHostnames))
	for _, h := range c.AmbiguousHostnames {
		h = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(h)), ".")
		if h != "" {
			set[h] = struct{}{}
		}
	}
	return set
}
