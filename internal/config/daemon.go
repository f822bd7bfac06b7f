// Package config loads the optional daemon tuning file ~/.hl/daemon.yaml.
// Everything has a sane default; a missing or broken file never stops the
// daemon from starting.
package config

import (
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Daemon tunes daemon internals. All fields are optional.
type Daemon struct {
	// RefreshInterval is the perp-metadata re-fetch cadence.
	RefreshInterval Duration `yaml:"refresh_interval"`
	// MetricsAddr enables the localhost debug listener when set,
	// e.g. "127.0.0.1:9091".
	MetricsAddr string `yaml:"metrics_addr"`
	// WSURL and HTTPURL override the network-derived upstream endpoints,
	// for local gateways.
	WSURL   string `yaml:"ws_url"`
	HTTPURL string `yaml:"http_url"`
}

// DefaultDaemon returns the built-in tuning.
func DefaultDaemon() Daemon {
	return Daemon{RefreshInterval: Duration(time.Minute)}
}

// LoadDaemon reads the tuning file, falling back to defaults on any error.
func LoadDaemon(path string) Daemon {
	cfg := DefaultDaemon()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("ignoring unparseable daemon config")
		return DefaultDaemon()
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = Duration(time.Minute)
	}
	return cfg
}

// Duration parses "60s"-style YAML strings into a time.Duration.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }
