// Package config loads the optional HCL configuration file and applies
// defaults. Command-line flags override file values; file values override
// defaults.
package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/hashicorp/hcl/v2/hclsimple"
)

// DefaultFilename is consulted when no -config flag is given.
const DefaultFilename = "reliquary.hcl"

// Config is the tool configuration.
type Config struct {
	// Root is the working directory the standard layout is derived from.
	Root string `hcl:"root,optional"`

	// QuiescenceAttempts bounds the size-stability poll per document.
	QuiescenceAttempts int `hcl:"quiescence_attempts,optional"`
	// QuiescenceInterval is the poll spacing, e.g. "300ms".
	QuiescenceInterval string `hcl:"quiescence_interval,optional"`

	// PollInterval is the watch-mode polling fallback cadence, e.g. "5s".
	PollInterval string `hcl:"poll_interval,optional"`
	// Debounce coalesces rapid filesystem events per file, e.g. "500ms".
	Debounce string `hcl:"debounce,optional"`

	// StaleGuardTTL is the age past which a leaked in-flight guard is
	// reclaimed, e.g. "1h". "0" disables reclamation.
	StaleGuardTTL string `hcl:"stale_guard_ttl,optional"`

	Tools *ToolsConfig `hcl:"tools,block"`
}

// ToolsConfig overrides external tool names or paths.
type ToolsConfig struct {
	Mutool   string `hcl:"mutool,optional"`
	Pdfsig   string `hcl:"pdfsig,optional"`
	Exiftool string `hcl:"exiftool,optional"`
	Otfinfo  string `hcl:"otfinfo,optional"`
	FcScan   string `hcl:"fc_scan,optional"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Root:               ".",
		QuiescenceAttempts: 10,
		QuiescenceInterval: "300ms",
		PollInterval:       "5s",
		Debounce:           "500ms",
		StaleGuardTTL:      "1h",
	}
}

// Load reads path when it exists and overlays it on the defaults. An empty
// path falls back to DefaultFilename in the current directory; a missing
// file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if path == "" {
		path = DefaultFilename
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s", path)
		}
		return nil, fmt.Errorf("stat configuration file: %w", err)
	}

	var file Config
	if err := hclsimple.DecodeFile(path, nil, &file); err != nil {
		return nil, fmt.Errorf("parse configuration file: %w", err)
	}
	cfg.merge(&file)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) merge(o *Config) {
	if o.Root != "" {
		c.Root = o.Root
	}
	if o.QuiescenceAttempts != 0 {
		c.QuiescenceAttempts = o.QuiescenceAttempts
	}
	if o.QuiescenceInterval != "" {
		c.QuiescenceInterval = o.QuiescenceInterval
	}
	if o.PollInterval != "" {
		c.PollInterval = o.PollInterval
	}
	if o.Debounce != "" {
		c.Debounce = o.Debounce
	}
	if o.StaleGuardTTL != "" {
		c.StaleGuardTTL = o.StaleGuardTTL
	}
	if o.Tools != nil {
		c.Tools = o.Tools
	}
}

// Validate checks field ranges and duration syntax.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Root, validation.Required),
		validation.Field(&c.QuiescenceAttempts, validation.Min(1)),
		validation.Field(&c.QuiescenceInterval, validation.Required, validation.By(validDuration)),
		validation.Field(&c.PollInterval, validation.Required, validation.By(validDuration)),
		validation.Field(&c.Debounce, validation.By(validDuration)),
		validation.Field(&c.StaleGuardTTL, validation.By(validDuration)),
	)
}

func validDuration(value interface{}) error {
	s, _ := value.(string)
	if s == "" || s == "0" {
		return nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return fmt.Errorf("must be a duration such as 300ms or 5s")
	}
	return nil
}

// mustDuration parses a validated duration string; "0" and "" are zero.
func mustDuration(s string) time.Duration {
	if s == "" || s == "0" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// QuiescenceIntervalDuration returns the parsed poll spacing.
func (c *Config) QuiescenceIntervalDuration() time.Duration { return mustDuration(c.QuiescenceInterval) }

// PollIntervalDuration returns the parsed polling cadence.
func (c *Config) PollIntervalDuration() time.Duration { return mustDuration(c.PollInterval) }

// DebounceDuration returns the parsed debounce window.
func (c *Config) DebounceDuration() time.Duration { return mustDuration(c.Debounce) }

// StaleGuardTTLDuration returns the parsed guard TTL.
func (c *Config) StaleGuardTTLDuration() time.Duration { return mustDuration(c.StaleGuardTTL) }
