package tui

import (
	"time"

	"github.com/nixlim/idle-reaper/internal/config"
)

const (
	// DefaultDrainTimeout covers one termination with the default waits.
	DefaultDrainTimeout = 15 * time.Second

	// scanAllowance bounds the process table capture of a cycle.
	scanAllowance = 10 * time.Second
	// terminationSlack covers identity checks and signal delivery on top of
	// the grace and kill waits.
	terminationSlack = time.Second
)

// ShutdownManager coordinates graceful shutdown of idle-reaper components.
// It stops the monitor, waits for an in-flight cycle to finish, and closes
// the log.
type ShutdownManager struct {
	// DrainTimeout bounds how long to wait for the in-flight cycle. Zero or
	// less waits until the cycle finishes.
	DrainTimeout time.Duration

	// StopMonitor asks the monitor loop to stop. An error (typically
	// "not running") is ignored.
	StopMonitor func() error

	// WaitMonitor blocks until the monitor loop has exited.
	WaitMonitor func()

	// Cleanup performs any additional cleanup (e.g., flushing the log).
	Cleanup func()
}

// NewShutdownManager creates a ShutdownManager with DefaultDrainTimeout.
// Use DrainTimeoutFor to size it for a specific configuration.
func NewShutdownManager() *ShutdownManager {
	return &ShutdownManager{
		DrainTimeout: DefaultDrainTimeout,
	}
}

// DrainTimeoutFor returns how long one cycle under cfg can take: the scan
// plus every termination it may select, each running its full grace and
// kill waits. A batch cycle without a global limit has no upper bound, so
// it returns 0.
func DrainTimeoutFor(cfg config.MonitorConfig) time.Duration {
	selections := 1
	if cfg.BatchMode {
		if cfg.GlobalLimit <= 0 {
			return 0
		}
		selections = cfg.GlobalLimit
	}
	perTermination := cfg.TermGrace + cfg.KillWait + terminationSlack
	return scanAllowance + time.Duration(selections)*perTermination
}

// Shutdown performs a graceful shutdown in the correct order:
// 1. Stop scheduling new cycles
// 2. Wait for the in-flight cycle (up to DrainTimeout when positive)
// 3. Run cleanup
//
// It reports whether the monitor finished within the drain timeout.
func (sm *ShutdownManager) Shutdown() bool {
	if sm.StopMonitor != nil {
		_ = sm.StopMonitor()
	}

	drained := true
	if sm.WaitMonitor != nil {
		if sm.DrainTimeout <= 0 {
			sm.WaitMonitor()
		} else {
			done := make(chan struct{})
			go func() {
				sm.WaitMonitor()
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(sm.DrainTimeout):
				drained = false
			}
		}
	}

	if sm.Cleanup != nil {
		sm.Cleanup()
	}

	return drained
}
