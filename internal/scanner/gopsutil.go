package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// psutilAPI implements ProcessAPI with gopsutil, which covers /proc on Linux
// and libproc/sysctl on macOS without CGO.
type psutilAPI struct{}

// newPsutilAPI returns the production ProcessAPI.
func newPsutilAPI() ProcessAPI {
	return psutilAPI{}
}

// NewDefaultReader creates a Reader over the live process table.
// This is the production constructor.
func NewDefaultReader(logger *zap.Logger, withNetwork bool) *Reader {
	return NewReader(newPsutilAPI(), WithLogger(logger), WithNetwork(withNetwork))
}

// ListPIDs returns all PIDs in the process table.
func (psutilAPI) ListPIDs(ctx context.Context) ([]int32, error) {
	pids, err := process.PidsWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate pids: %w", err)
	}
	return pids, nil
}

// ReadProcess collects the attributes for one PID. Name, CPU times and
// create time are mandatory; everything else is filled in when readable.
func (psutilAPI) ReadProcess(ctx context.Context, pid int32, withNetwork bool) (*RawProcessInfo, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil, fmt.Errorf("open pid %d: %w: %v", pid, ErrTransient, err)
	}

	name, err := p.NameWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("name for pid %d: %w: %v", pid, ErrTransient, err)
	}
	times, err := p.TimesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("cpu times for pid %d: %w: %v", pid, ErrTransient, err)
	}
	createMS, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("create time for pid %d: %w: %v", pid, ErrTransient, err)
	}

	info := &RawProcessInfo{
		PID:        pid,
		Name:       name,
		CPUTime:    time.Duration((times.User + times.System) * float64(time.Second)),
		CreateTime: time.UnixMilli(createMS),
	}

	if status, err := p.StatusWithContext(ctx); err == nil {
		for _, st := range status {
			if st == process.Zombie {
				info.Zombie = true
			}
		}
	}
	if ppid, err := p.PpidWithContext(ctx); err == nil {
		info.PPID = ppid
	}
	if exe, err := p.ExeWithContext(ctx); err == nil {
		info.Exe = exe
	}
	if cmdline, err := p.CmdlineWithContext(ctx); err == nil {
		info.Cmdline = cmdline
	}
	info.Username, info.UsernameErr = p.UsernameWithContext(ctx)

	// Uids is [real, effective, saved, fs]; unsupported on Windows.
	if uids, err := p.UidsWithContext(ctx); err == nil && len(uids) >= 2 {
		info.EffectiveUID = uids[1]
		info.UIDKnown = true
	}
	if mem, err := p.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		info.MemoryRSS = mem.RSS
	}
	if withNetwork {
		if conns, err := p.ConnectionsWithContext(ctx); err == nil {
			info.Connections = len(conns)
		}
	}

	return info, nil
}
