package scanner

import (
	"context"
	"errors"
	"time"
)

// ErrTransient marks a per-process read failure: the process exited mid-scan
// or its attributes are not readable at the current privilege level. The
// process is left out of the snapshot; the scan itself continues.
var ErrTransient = errors.New("process unreadable this cycle")

// NoConnections is the Connections value when network monitoring is off.
const NoConnections = -1

// Identity distinguishes a live process from a later process that reuses
// the same PID. StartedUnixMilli is the process start time in Unix
// milliseconds, which keeps Identity comparable and usable as a map key.
type Identity struct {
	PID              int32
	StartedUnixMilli int64
}

// Snapshot is the state of one process at one scan instant.
// It is produced fresh by every Capture and never mutated.
//
// OwnerKnown is false when the owning account could not be resolved, and
// Connections is NoConnections unless network monitoring is enabled.
type Snapshot struct {
	PID         int32
	PPID        int32
	Name        string
	Exe         string
	Cmdline     string
	Owner       string
	OwnerKnown  bool
	Elevated    bool
	CPUTime     time.Duration // cumulative user+system
	MemoryRSS   uint64
	StartedAt   time.Time
	Connections int
}

// Identity returns the (pid, start time) key for the snapshot.
func (s Snapshot) Identity() Identity {
	return Identity{PID: s.PID, StartedUnixMilli: s.StartedAt.UnixMilli()}
}

// RawProcessInfo is what a ProcessAPI reports for one PID. Optional fields
// are best-effort; see ProcessAPI.ReadProcess.
type RawProcessInfo struct {
	PID          int32
	PPID         int32
	Name         string
	Exe          string
	Cmdline      string
	Username     string
	UsernameErr  error
	EffectiveUID int32
	UIDKnown     bool
	CPUTime      time.Duration
	MemoryRSS    uint64
	CreateTime   time.Time
	Connections  int
	// Zombie is set for a process that has exited but not been reaped.
	Zombie bool
}

// ProcessAPI abstracts the OS process table so the reader can be exercised
// with fakes in tests.
type ProcessAPI interface {
	// ListPIDs returns every PID visible at the current privilege level.
	ListPIDs(ctx context.Context) ([]int32, error)

	// ReadProcess returns attributes for one PID. It returns an error
	// wrapping ErrTransient when the process is gone or the attributes
	// needed for identity and activity (name, CPU time, start time) are
	// unreadable. Owner, UID, exe, cmdline and memory are best-effort.
	// Connections are only counted when withNetwork is true.
	ReadProcess(ctx context.Context, pid int32, withNetwork bool) (*RawProcessInfo, error)
}
