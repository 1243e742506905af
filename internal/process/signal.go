// Package process terminates individual processes.
// On macOS/Linux, it sends POSIX signals to a single PID, never to its
// process group.
package process

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// SignalType represents the type of signal to send to a process.
type SignalType int

const (
	// SignalTerminate sends SIGTERM for graceful termination.
	SignalTerminate SignalType = iota
	// SignalKill sends SIGKILL to terminate a process.
	SignalKill
)

func (s SignalType) String() string {
	switch s {
	case SignalTerminate:
		return "SIGTERM"
	case SignalKill:
		return "SIGKILL"
	default:
		return fmt.Sprintf("signal(%d)", int(s))
	}
}

var (
	// ErrNoSuchProcess is returned when the target process does not exist.
	ErrNoSuchProcess = errors.New("no such process")

	// ErrPermission is returned when the caller may not signal the target.
	ErrPermission = errors.New("permission denied")
)

// SendSignal sends sig to the given PID only.
// It returns ErrNoSuchProcess if the process has already exited (ESRCH) and
// ErrPermission if the caller lacks the privilege to signal it (EPERM).
func SendSignal(pid int32, sig SignalType) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}

	sysSig, ok := toUnixSignal(sig)
	if !ok {
		return fmt.Errorf("unknown signal type: %d", sig)
	}

	err := unix.Kill(int(pid), sysSig)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, unix.ESRCH):
		return ErrNoSuchProcess
	case errors.Is(err, unix.EPERM):
		return fmt.Errorf("sending %s to PID %d: %w", sig, pid, ErrPermission)
	default:
		return fmt.Errorf("sending %s to PID %d: %w", sig, pid, err)
	}
}

// IsNoSuchProcess returns true if the error indicates the process does not exist.
func IsNoSuchProcess(err error) bool {
	return errors.Is(err, ErrNoSuchProcess)
}

// IsPermission returns true if the error indicates missing privileges.
func IsPermission(err error) bool {
	return errors.Is(err, ErrPermission)
}

func toUnixSignal(sig SignalType) (unix.Signal, bool) {
	switch sig {
	case SignalTerminate:
		return unix.SIGTERM, true
	case SignalKill:
		return unix.SIGKILL, true
	default:
		return 0, false
	}
}

// CheckProcess checks if a process with the given PID exists.
// Returns nil if the process exists, ErrNoSuchProcess if it doesn't.
// A zombie still exists by this definition.
func CheckProcess(pid int32) error {
	if pid <= 0 {
		return fmt.Errorf("invalid PID: %d", pid)
	}

	err := unix.Kill(int(pid), 0)
	if err == nil {
		return nil
	}

	// EPERM means process exists but we don't have permission to signal it.
	if errors.Is(err, unix.EPERM) {
		return nil
	}

	return ErrNoSuchProcess
}
