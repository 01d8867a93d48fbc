// Copyright 2025 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

// Package config holds the daemon configuration, read from a YAML
// file.
package config

import (
	"os"
	"time"

	"github.com/juju/errors"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so configuration files can use the
// familiar "30s" / "5m" forms.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return errors.Trace(err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return errors.NotValidf("duration %q", s)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the wrapped time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config is the full daemon configuration.
type Config struct {
	// DatabasePath locates the SQLite database file.
	DatabasePath string `yaml:"database-path"`

	// CycleInterval is the pause between task cycles.
	CycleInterval Duration `yaml:"cycle-interval"`

	// CycleWorkers caps how many packages are processed concurrently
	// within one cycle.
	CycleWorkers int `yaml:"cycle-workers"`

	// SourceSlots caps concurrent fetches per source kind, keyed by
	// the source's Kind string. Kinds not listed are unbounded.
	SourceSlots map[string]int `yaml:"source-slots,omitempty"`

	// FetchTimeout bounds a single fetch attempt.
	FetchTimeout Duration `yaml:"fetch-timeout"`

	// FetchRetries is the number of attempts for transient fetch
	// failures.
	FetchRetries       int      `yaml:"fetch-retries"`
	FetchRetryDelay    Duration `yaml:"fetch-retry-delay"`
	FetchRetryMaxDelay Duration `yaml:"fetch-retry-max-delay"`

	// DispatchWindow is how long outbound notifications are held back
	// to coalesce into per-recipient digests.
	DispatchWindow Duration `yaml:"dispatch-window"`

	// SendRetries is the number of attempts for transient mail
	// transport failures.
	SendRetries       int      `yaml:"send-retries"`
	SendRetryDelay    Duration `yaml:"send-retry-delay"`
	SendRetryMaxDelay Duration `yaml:"send-retry-max-delay"`

	// BounceLimit is the number of consecutive permanent delivery
	// failures after which a recipient is deactivated.
	BounceLimit int64 `yaml:"bounce-limit"`
}

// DefaultConfig returns the configuration used when the file leaves
// values unset.
func DefaultConfig() Config {
	return Config{
		DatabasePath:       "tracker.db",
		CycleInterval:      Duration(time.Hour),
		CycleWorkers:       8,
		FetchTimeout:       Duration(30 * time.Second),
		FetchRetries:       3,
		FetchRetryDelay:    Duration(time.Second),
		FetchRetryMaxDelay: Duration(30 * time.Second),
		DispatchWindow:     Duration(2 * time.Minute),
		SendRetries:        3,
		SendRetryDelay:     Duration(5 * time.Second),
		SendRetryMaxDelay:  Duration(time.Minute),
		BounceLimit:        5,
	}
}

// Read loads the configuration file at path over the defaults.
func Read(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Annotatef(err, "reading config %q", path)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Annotatef(err, "parsing config %q", path)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Trace(err)
	}
	return cfg, nil
}

// Validate checks the configuration for obvious mistakes.
func (c Config) Validate() error {
	if c.DatabasePath == "" {
		return errors.NotValidf("empty database-path")
	}
	if c.CycleInterval <= 0 {
		return errors.NotValidf("non-positive cycle-interval")
	}
	if c.CycleWorkers < 1 {
		return errors.NotValidf("cycle-workers below 1")
	}
	for kind, slots := range c.SourceSlots {
		if slots < 1 {
			return errors.NotValidf("source-slots for %q below 1", kind)
		}
	}
	if c.FetchTimeout <= 0 {
		return errors.NotValidf("non-positive fetch-timeout")
	}
	if c.FetchRetries < 1 {
		return errors.NotValidf("fetch-retries below 1")
	}
	if c.FetchRetryDelay <= 0 {
		return errors.NotValidf("non-positive fetch-retry-delay")
	}
	if c.FetchRetryMaxDelay < c.FetchRetryDelay {
		return errors.NotValidf("fetch-retry-max-delay below fetch-retry-delay")
	}
	if c.DispatchWindow <= 0 {
		return errors.NotValidf("non-positive dispatch-window")
	}
	if c.SendRetries < 1 {
		return errors.NotValidf("send-retries below 1")
	}
	if c.SendRetryDelay <= 0 {
		return errors.NotValidf("non-positive send-retry-delay")
	}
	if c.SendRetryMaxDelay < c.SendRetryDelay {
		return errors.NotValidf("send-retry-max-delay below send-retry-delay")
	}
	if c.BounceLimit < 1 {
		return errors.NotValidf("bounce-limit below 1")
	}
	return nil
}
