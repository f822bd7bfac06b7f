// Package paths centralizes the per-user file layout under ~/.hl.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const dirName = ".hl"

var (
	once sync.Once
	base string
)

// Dir returns the per-user state directory (~/.hl). The path is resolved
// once per process; the directory itself is created lazily by Ensure.
func Dir() string {
	once.Do(func() {
		home, err := os.UserHomeDir()
		if err != nil {
			// Fall back to CWD-relative; only hit in degenerate environments.
			home = "."
		}
		base = filepath.Join(home, dirName)
	})
	return base
}

// Ensure creates the state directory if it does not exist yet.
func Ensure() error {
	if err := os.MkdirAll(Dir(), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", Dir(), err)
	}
	return nil
}

func Socket() string     { return filepath.Join(Dir(), "server.sock") }
func PIDFile() string    { return filepath.Join(Dir(), "server.pid") }
func LogFile() string    { return filepath.Join(Dir(), "server.log") }
func ServerJSON() string { return filepath.Join(Dir(), "server.json") }
func UserConfig() string { return filepath.Join(Dir(), "user-config.json") }
func DaemonYAML() string { return filepath.Join(Dir(), "daemon.yaml") }
