// Package userconfig persists user preferences as JSON under ~/.hl.
// Loading is a total function: a missing, empty or corrupt file yields the
// defaults, never an error. Ordering flows read it on every invocation.
package userconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config is the user preference record.
type Config struct {
	// Slippage in percent applied when converting market intent into an
	// IOC limit order: mid * (1 +- slippage/100).
	Slippage float64 `json:"slippage"`
}

// Defaults returns the built-in preferences.
func Defaults() Config {
	return Config{Slippage: 1.0}
}

// Load reads the config file, overlaying recognized keys onto defaults.
// Unknown keys are ignored; any I/O or parse failure collapses to defaults.
func Load(path string) Config {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Defaults()
	}
	return cfg
}

// Save writes the full record as pretty-printed JSON via a temp file and
// rename, so a crashed write cannot corrupt a subsequent load.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replacing config: %w", err)
	}
	return nil
}

// Update loads, applies fn, and saves. This is the path `config set` uses.
func Update(path string, fn func(*Config)) (Config, error) {
	cfg := Load(path)
	fn(&cfg)
	if err := Save(path, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
