package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperdrift/hl/internal/ipc"
	"github.com/hyperdrift/hl/internal/paths"
)

// StartDetached spawns the daemon as a detached child of the current binary
// and waits until its socket appears. The caller's process does not become
// the daemon.
func StartDetached(opts Options) error {
	if err := paths.Ensure(); err != nil {
		return err
	}

	if pid, err := readPID(paths.PIDFile()); err == nil && pid != 0 && pidAlive(pid) {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	// A socket with no live PID behind it is stale; the child unlinks it.

	self, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	args := []string{"server", "run"}
	if opts.Testnet {
		args = append(args, "--testnet")
	}

	logFile, err := os.OpenFile(paths.LogFile(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer logFile.Close()

	cmd := exec.Command(self, args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawning daemon: %w", err)
	}
	// The child re-parents to init; Release drops our handle on it.
	pid := cmd.Process.Pid
	_ = cmd.Process.Release()

	deadline := time.Now().Add(readyTimeout)
	for time.Now().Before(deadline) {
		if ipc.ServerRunning(paths.Socket()) {
			log.Debug().Int("pid", pid).Msg("daemon socket appeared")
			return nil
		}
		if !pidAlive(pid) {
			return fmt.Errorf("daemon exited during startup, see %s", paths.LogFile())
		}
		time.Sleep(readyPollInterval)
	}
	return fmt.Errorf("daemon did not become ready within %s, see %s", readyTimeout, paths.LogFile())
}

// StopRunning stops a running daemon: graceful shutdown over IPC first, then
// SIGTERM, then SIGKILL. Returns an error only when no daemon could be
// found.
func StopRunning() error {
	sock := paths.Socket()
	pidPath := paths.PIDFile()

	if c := ipc.TryConnect(sock); c != nil {
		err := c.Shutdown()
		_ = c.Close()
		if err == nil && waitGone(sock, 3*time.Second) {
			return nil
		}
		log.Warn().Err(err).Msg("graceful shutdown failed, falling back to signals")
	}

	pid, err := readPID(pidPath)
	if err != nil || pid == 0 || !pidAlive(pid) {
		// Nothing alive; clear any leftovers so the next start is clean.
		cleanupFiles()
		if pid == 0 {
			return errors.New("daemon is not running")
		}
		return nil
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err == nil {
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			if !pidAlive(pid) {
				cleanupFiles()
				return nil
			}
			time.Sleep(50 * time.Millisecond)
		}
	}

	_ = syscall.Kill(pid, syscall.SIGKILL)
	cleanupFiles()
	return nil
}

func waitGone(sock string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !ipc.ServerRunning(sock) {
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

// cleanupFiles removes socket and PID file after a forced stop. Errors are
// swallowed: stop must be idempotent.
func cleanupFiles() {
	_ = os.Remove(paths.Socket())
	_ = os.Remove(paths.PIDFile())
}
