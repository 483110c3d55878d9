// Package config loads the daemon's configuration once at start, per
// spec.md §6. The source of the values is deliberately not specified by
// spec.md; this package picks a concrete, conventional one (YAML file +
// environment overrides via viper) the way fibratus loads its own
// configuration, since a complete daemon needs a real answer even where
// the distilled spec stays silent.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/hashicorp/go-version"
	"github.com/spf13/viper"

	"github.com/ryoha000/proctail/pkg/kevent"
)

// SupportedConfigVersion is compared against an optional ConfigVersion key
// so operators get an early, clear error on a config file written for a
// future schema.
const SupportedConfigVersion = "1.0.0"

// Config holds every key of spec.md §6.
type Config struct {
	ConfigVersion string `mapstructure:"config_version"`

	PipeName                 string   `mapstructure:"pipe_name"`
	MaxConcurrentConnections int      `mapstructure:"max_concurrent_connections"`
	ResponseTimeoutSeconds   int      `mapstructure:"response_timeout_seconds"`
	BufferSize               int      `mapstructure:"buffer_size"`
	EnabledProviders         []string `mapstructure:"enabled_providers"`
	EnabledEventNames        []string `mapstructure:"enabled_event_names"`
	ExcludeSystemProcesses   bool     `mapstructure:"exclude_system_processes"`
	MinimumProcessID         uint32   `mapstructure:"minimum_process_id"`
	ExcludedProcessNames     []string `mapstructure:"excluded_process_names"`
	IncludeFileExtensions    []string `mapstructure:"include_file_extensions"`
	ExcludeFilePatterns      []string `mapstructure:"exclude_file_patterns"`
	MaxEventsPerTag          int      `mapstructure:"max_events_per_tag"`
	EventRetentionHours      int      `mapstructure:"event_retention_hours"`
}

// ResponseTimeout returns ResponseTimeoutSeconds as a time.Duration.
func (c *Config) ResponseTimeout() time.Duration {
	return time.Duration(c.ResponseTimeoutSeconds) * time.Second
}

// EventRetention returns EventRetentionHours as a time.Duration.
func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionHours) * time.Hour
}

// defaultExcludedProcessNames is the system set of image names the
// daemon never attributes events to, matching fibratus's own posture of
// silencing itself and well-known noisy system processes.
var defaultExcludedProcessNames = []string{"proctaild.exe", "System", "Registry"}

// defaultExcludeFilePatterns is the system set of blocklist patterns.
var defaultExcludeFilePatterns = []string{
	`*\$Recycle.Bin\*`,
	`*\pagefile.sys`,
	`*\swapfile.sys`,
}

// Default returns the table of §6 with every key at its documented
// default.
func Default() *Config {
	return &Config{
		ConfigVersion:            SupportedConfigVersion,
		PipeName:                 "ProcTail",
		MaxConcurrentConnections: 20,
		ResponseTimeoutSeconds:   60,
		BufferSize:               64 * 1024,
		EnabledProviders:         kevent.DefaultEnabledProviders,
		EnabledEventNames:        kevent.DefaultEnabledEventNames,
		ExcludeSystemProcesses:   true,
		MinimumProcessID:         100,
		ExcludedProcessNames:     defaultExcludedProcessNames,
		IncludeFileExtensions:    nil, // unset => allow-all
		ExcludeFilePatterns:      defaultExcludeFilePatterns,
		MaxEventsPerTag:          10000,
		EventRetentionHours:      24,
	}
}

// Load reads configuration from path (if non-empty and present) layered
// under environment variables prefixed PROCTAIL_, which in turn layer
// over Default(). Pattern/extension lists are expanded through a
// text/template pass with sprig's function map, so entries may reference
// e.g. {{env "TEMP"}}.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PROCTAIL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := Default()
	setViperDefaults(v, cfg)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	out := Default()
	if err := v.Unmarshal(out); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	if err := validateVersion(out.ConfigVersion); err != nil {
		return nil, err
	}

	if err := expandPatterns(out); err != nil {
		return nil, err
	}

	return out, nil
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("config_version", cfg.ConfigVersion)
	v.SetDefault("pipe_name", cfg.PipeName)
	v.SetDefault("max_concurrent_connections", cfg.MaxConcurrentConnections)
	v.SetDefault("response_timeout_seconds", cfg.ResponseTimeoutSeconds)
	v.SetDefault("buffer_size", cfg.BufferSize)
	v.SetDefault("enabled_providers", cfg.EnabledProviders)
	v.SetDefault("enabled_event_names", cfg.EnabledEventNames)
	v.SetDefault("exclude_system_processes", cfg.ExcludeSystemProcesses)
	v.SetDefault("minimum_process_id", cfg.MinimumProcessID)
	v.SetDefault("excluded_process_names", cfg.ExcludedProcessNames)
	v.SetDefault("exclude_file_patterns", cfg.ExcludeFilePatterns)
	v.SetDefault("max_events_per_tag", cfg.MaxEventsPerTag)
	v.SetDefault("event_retention_hours", cfg.EventRetentionHours)
}

func validateVersion(configured string) error {
	if configured == "" {
		return nil
	}
	want, err := version.NewVersion(SupportedConfigVersion)
	if err != nil {
		return err
	}
	got, err := version.NewVersion(configured)
	if err != nil {
		return fmt.Errorf("invalid config_version %q: %w", configured, err)
	}
	if got.GreaterThan(want) {
		return fmt.Errorf("config_version %s is newer than the supported schema %s", got, want)
	}
	return nil
}

func expandPatterns(cfg *Config) error {
	var err error
	cfg.ExcludeFilePatterns, err = expandAll(cfg.ExcludeFilePatterns)
	if err != nil {
		return err
	}
	cfg.IncludeFileExtensions, err = expandAll(cfg.IncludeFileExtensions)
	return err
}

func expandAll(entries []string) ([]string, error) {
	if len(entries) == 0 {
		return entries, nil
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		expanded, err := expandOne(e)
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", e, err)
		}
		out[i] = expanded
	}
	return out, nil
}

func expandOne(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	tmpl, err := template.New("pattern").Funcs(sprig.TxtFuncMap()).Parse(s)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, nil); err != nil {
		return "", err
	}
	return buf.String(), nil
}
