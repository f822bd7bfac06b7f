package daemon

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// readPID parses the PID file, returning 0 when it is absent.
func readPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return pid, nil
}

// pidAlive interrogates the OS: file presence alone proves nothing after a
// crash.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}

// acquirePIDFile claims the PID file for the current process. A live PID
// fails with "already running"; a stale one is removed first.
func acquirePIDFile(path string) error {
	pid, err := readPID(path)
	if err != nil {
		return err
	}
	if pid != 0 {
		if pidAlive(pid) {
			return fmt.Errorf("daemon already running (pid %d)", pid)
		}
		// Stale: the recorded process is gone.
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing stale pid file: %w", err)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}
