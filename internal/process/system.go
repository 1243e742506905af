package process

import (
	"context"
	"errors"
	"fmt"

	psprocess "github.com/shirou/gopsutil/v3/process"
)

// systemAPI implements API with kill(2) for signals and gopsutil for start
// time and run state.
type systemAPI struct{}

func newSystemAPI() API {
	return systemAPI{}
}

func (systemAPI) CreateTime(ctx context.Context, pid int32) (int64, error) {
	p, err := psprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, psprocess.ErrorProcessNotRunning) {
			return 0, ErrNoSuchProcess
		}
		return 0, fmt.Errorf("open pid %d: %w", pid, err)
	}
	ms, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		// The process may have exited between the two reads.
		if CheckProcess(pid) != nil {
			return 0, ErrNoSuchProcess
		}
		return 0, fmt.Errorf("create time for pid %d: %w", pid, err)
	}
	return ms, nil
}

func (systemAPI) Alive(ctx context.Context, pid int32) bool {
	if CheckProcess(pid) != nil {
		return false
	}
	p, err := psprocess.NewProcessWithContext(ctx, pid)
	if err != nil {
		return !errors.Is(err, psprocess.ErrorProcessNotRunning)
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		// Unreadable state counts as alive so exit is never over-reported.
		return true
	}
	for _, s := range status {
		if s == psprocess.Zombie {
			return false
		}
	}
	return true
}

func (systemAPI) Signal(pid int32, sig SignalType) error {
	return SendSignal(pid, sig)
}
