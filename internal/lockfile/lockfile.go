// Package lockfile keeps two AvatarStudy servers from sharing one state
// directory, and with it one SQLite store.
//
// The lock is an flock on a file in the state directory, so the kernel drops
// it when the process exits, gracefully or not.
package lockfile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "avatarstudy.lock"

// Owner describes the process holding the lock. It is written into the lock
// file so a second server can report who it collided with.
type Owner struct {
	PID     int
	Addr    string
	Started time.Time
}

// CurrentOwner returns an Owner for this process serving addr.
func CurrentOwner(addr string) Owner {
	return Owner{PID: os.Getpid(), Addr: addr, Started: time.Now()}
}

func (o Owner) encode() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pid=%d\n", o.PID)
	if o.Addr != "" {
		fmt.Fprintf(&b, "addr=%s\n", o.Addr)
	}
	if !o.Started.IsZero() {
		fmt.Fprintf(&b, "started=%s\n", o.Started.UTC().Format(time.RFC3339))
	}
	return b.String()
}

// parseOwner reads the key=value lines written by encode. Unknown or
// malformed lines are skipped.
func parseOwner(content string) Owner {
	var o Owner
	for _, line := range strings.Split(content, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "pid":
			if pid, err := strconv.Atoi(v); err == nil && pid > 0 {
				o.PID = pid
			}
		case "addr":
			o.Addr = v
		case "started":
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				o.Started = t
			}
		}
	}
	return o
}

// Lock represents an active directory lock
type Lock struct {
	file  *os.File
	path  string
	owner Owner
}

// Acquire takes the exclusive lock on stateDir, creating the directory if
// needed. It fails immediately with a *LockError when another process holds it.
func Acquire(stateDir string, owner Owner) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	slog.Debug("Lock.Acquire: acquiring state directory lock", "lock_path", lockPath)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC is not used: truncating before the flock would wipe the
	// holder's owner information.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lockErr := &LockError{LockPath: lockPath, Holder: describeHolder(lockPath), Cause: err}
		slog.Error("Lock.Acquire: state directory is locked by another server", "lock_path", lockPath, "holder", lockErr.Holder)
		return nil, lockErr
	}

	if err := writeOwner(file, owner); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("Lock.Acquire: state directory locked", "lock_path", lockPath, "pid", owner.PID)
	return &Lock{file: file, path: lockPath, owner: owner}, nil
}

func writeOwner(file *os.File, owner Owner) error {
	if err := file.Truncate(0); err != nil {
		return err
	}
	if _, err := file.WriteAt([]byte(owner.encode()), 0); err != nil {
		return err
	}
	if err := file.Sync(); err != nil {
		slog.Warn("Lock: failed to sync lock file", "error", err)
	}
	return nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Owner returns the owner recorded in the lock file.
func (l *Lock) Owner() Owner {
	return l.owner
}

// Release drops the lock and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l.file == nil {
		return nil
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Error("Lock.Release: failed to release flock", "error", err, "lock_path", l.path)
	}
	if err := l.file.Close(); err != nil {
		slog.Error("Lock.Release: failed to close lock file", "error", err, "lock_path", l.path)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	l.file = nil
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// LockError is returned when another process holds the state directory lock.
type LockError struct {
	LockPath string
	Holder   string
	Cause    error
}

func (e *LockError) Error() string {
	msg := fmt.Sprintf("another AvatarStudy server is already using this state directory (lock file %s)", e.LockPath)
	if e.Holder != "" {
		msg += "; holder: " + e.Holder
	}
	msg += ". Stop that server or choose another -state-dir; remove the lock file only if its process is gone"
	return msg
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

// describeHolder summarises the owner recorded in an existing lock file.
func describeHolder(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unknown (lock file unreadable)"
	}
	o := parseOwner(string(data))
	if o.PID == 0 {
		return "unknown (no owner information)"
	}
	state := "running"
	if !isProcessRunning(o.PID) {
		state = "not running"
	}
	desc := fmt.Sprintf("PID %d (%s)", o.PID, state)
	if o.Addr != "" {
		desc += " serving " + o.Addr
	}
	if !o.Started.IsZero() {
		desc += " since " + o.Started.Format(time.RFC3339)
	}
	return desc
}

// isProcessRunning sends signal 0 to pid, which checks for existence without
// delivering a signal.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
