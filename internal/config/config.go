// Package config reads and parses the eirenewatch configuration file
// and derives the per-slot data vector from it (spec §6.3). It is one
// of the core's external collaborators: internal/tasklifecycle only
// ever sees the *Config and []any values this package produces.
package config

import (
	"fmt"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

// RetryConfig mirrors tasklifecycle.RetryPolicy in the on-disk format,
// with fields optional so zero-value detection can apply the spec's
// defaults (factor 2, minTimeout 1s, maxTimeout 30s).
type RetryConfig struct {
	Retries    *int     `mapstructure:"retries"`
	Factor     *float64 `mapstructure:"factor"`
	MinTimeout *int     `mapstructure:"minTimeoutMs"`
	MaxTimeout *int     `mapstructure:"maxTimeoutMs"`
}

// TaskConfig is one entry in the configuration's `tasks` list. Each
// entry produces exactly one slot in the derived data vector. The
// template-level policy (retry, interruptible, persistent, initialRun)
// is shared by the whole pool (spec §3: "ManagerPool ... template: the
// shared TaskTemplate") — only the per-slot payload varies here.
type TaskConfig struct {
	Name    string         `mapstructure:"name"`
	Cwd     string         `mapstructure:"cwd"`
	Command string         `mapstructure:"command"`
	Args    []string       `mapstructure:"args"`
	Enabled *bool          `mapstructure:"enabled"`
	Data    map[string]any `mapstructure:"data"`
}

// Config is the typed, decoded form of the eirenewatch configuration
// file.
type Config struct {
	Wait          int          `mapstructure:"waitMs"`
	InitialRun    *bool        `mapstructure:"initialRun"`
	Interruptible *bool        `mapstructure:"interruptible"`
	Persistent    *bool        `mapstructure:"persistent"`
	Retry         RetryConfig  `mapstructure:"retry"`
	Tasks         []TaskConfig `mapstructure:"tasks"`
}

// DefaultWaitMs is applied when the configuration omits `waitMs`.
const DefaultWaitMs = 300

// Parse decodes raw YAML bytes into a Config, per spec §6.3's
// "parseConfig(raw) → Config". It never panics; malformed YAML or an
// irreconcilable shape is returned as an error for the supervisor to
// log and skip, never to crash the process.
func Parse(raw []byte) (*Config, error) {
	var loose map[string]any
	if err := yaml.Unmarshal(raw, &loose); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("config: build decoder: %w", err)
	}
	if err := decoder.Decode(loose); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}

	if cfg.Wait <= 0 {
		cfg.Wait = DefaultWaitMs
	}

	return &cfg, nil
}

// boolOr returns *p if p is non-nil, otherwise def.
func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// InitialRunOr returns the configured InitialRun flag, or def if unset.
func (c *Config) InitialRunOr(def bool) bool { return boolOr(c.InitialRun, def) }

// InterruptibleOr returns the configured Interruptible flag, or def if unset.
func (c *Config) InterruptibleOr(def bool) bool { return boolOr(c.Interruptible, def) }

// PersistentOr returns the configured Persistent flag, or def if unset.
func (c *Config) PersistentOr(def bool) bool { return boolOr(c.Persistent, def) }
