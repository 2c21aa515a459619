// Package process tracks the running gateway instance through a PID file.
package process

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrNotRunning is returned when no live instance owns the PID file.
var ErrNotRunning = errors.New("service is not running")

// PIDFile is a PID file at a fixed path.
type PIDFile struct {
	Path string
}

// Write records pid, creating parent directories as needed.
func (f PIDFile) Write(pid int) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return fmt.Errorf("process: create pid dir: %w", err)
	}
	return os.WriteFile(f.Path, []byte(strconv.Itoa(pid)), 0o644)
}

// Read returns the recorded pid.
func (f PIDFile) Read() (int, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("process: malformed pid file %s: %w", f.Path, err)
	}
	return pid, nil
}

// Remove deletes the file; a missing file is not an error.
func (f PIDFile) Remove() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Running returns the pid of a live process owning the file. A stale file
// left by a dead process is removed.
func (f PIDFile) Running() (int, bool) {
	pid, err := f.Read()
	if err != nil {
		return 0, false
	}
	if !Alive(pid) {
		_ = f.Remove()
		return 0, false
	}
	return pid, true
}

// Stop sends SIGTERM to the recorded process and removes the file.
func (f PIDFile) Stop() (int, error) {
	pid, ok := f.Running()
	if !ok {
		return 0, ErrNotRunning
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, err
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return pid, fmt.Errorf("process: signal %d: %w", pid, err)
	}
	return pid, f.Remove()
}

// Alive reports whether a process with pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
