// Package lock implements the single-instance guard on a supervisor's
// state directory.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/orbitsup/supervisor/internal/supervisorerrors"
)

// ProcessLock guards a state directory against more than one active
// supervisor instance.
type ProcessLock struct {
	path    string
	held    bool
	retried bool
}

// New returns a lock bound to path, which is not yet acquired.
func New(path string) *ProcessLock {
	return &ProcessLock{path: path}
}

// processAlive reports whether pid names a live process. Overridable in
// tests.
var processAlive = func(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; the zero signal is the
	// standard liveness probe and delivers no signal to the target.
	return proc.Signal(syscall.Signal(0)) == nil
}

// Acquire implements the §4.1 acquisition protocol: exclusive-create the
// LOCK file and write the current PID; on collision, read the existing
// PID and fail if alive, otherwise treat it as stale and retry once.
func (l *ProcessLock) Acquire() error {
	pid := os.Getpid()
	if err := l.tryCreate(pid); err == nil {
		l.held = true
		return nil
	} else if !os.IsExist(err) {
		return &supervisorerrors.ProcessLockIO{Path: l.path, Err: err}
	}

	existing, err := ReadPID(l.path)
	if err != nil {
		if _, ok := err.(*supervisorerrors.ProcessLockCorrupt); ok {
			return l.retryStale(pid)
		}
		return err
	}

	if processAlive(existing) {
		return &supervisorerrors.ProcessLocked{PID: existing}
	}
	return l.retryStale(pid)
}

func (l *ProcessLock) retryStale(pid int) error {
	if l.retried {
		return &supervisorerrors.ProcessLockIO{Path: l.path, Err: fmt.Errorf("lock still contended after stale retry")}
	}
	l.retried = true
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return &supervisorerrors.ProcessLockIO{Path: l.path, Err: err}
	}
	return l.Acquire()
}

func (l *ProcessLock) tryCreate(pid int) error {
	f, err := os.OpenFile(l.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(strconv.Itoa(pid) + "\n")
	return err
}

// Release performs a best-effort unlink of the lock file on clean shutdown.
func (l *ProcessLock) Release() {
	if !l.held {
		return
	}
	_ = os.Remove(l.path)
	l.held = false
}

// ReadPID reads and parses the PID from the lock file at path. A missing
// file is returned as a *ProcessLockIO wrapping the underlying
// *os.PathError (an unparsable one as *ProcessLockCorrupt), so callers
// distinguish "no instance running" from corruption.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, &supervisorerrors.ProcessLockIO{Path: path, Err: err}
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, &supervisorerrors.ProcessLockCorrupt{Path: path}
	}
	return pid, nil
}
