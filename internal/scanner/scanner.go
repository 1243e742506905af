// Package scanner reads the OS process table into immutable snapshots.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// Reader captures process snapshots through a ProcessAPI.
// Each Capture is independent; the Reader holds no per-scan state.
type Reader struct {
	api         ProcessAPI
	withNetwork bool
	logger      *zap.Logger
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithNetwork enables per-process connection counting.
func WithNetwork(enabled bool) ReaderOption {
	return func(r *Reader) { r.withNetwork = enabled }
}

// WithLogger sets the logger used for skipped-process diagnostics.
func WithLogger(l *zap.Logger) ReaderOption {
	return func(r *Reader) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReader creates a Reader backed by the given ProcessAPI.
func NewReader(api ProcessAPI, opts ...ReaderOption) *Reader {
	r := &Reader{api: api, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetNetwork toggles connection counting for subsequent captures.
func (r *Reader) SetNetwork(enabled bool) {
	r.withNetwork = enabled
}

// Capture enumerates all visible processes. Zombies and processes whose
// attributes cannot be read are skipped; only a failure to list PIDs is
// returned.
// The result is ordered by PID.
func (r *Reader) Capture(ctx context.Context) ([]Snapshot, error) {
	pids, err := r.api.ListPIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}

	snaps := make([]Snapshot, 0, len(pids))
	skipped, zombies := 0, 0
	for _, pid := range pids {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, err := r.api.ReadProcess(ctx, pid, r.withNetwork)
		if err != nil {
			skipped++
			if !errors.Is(err, ErrTransient) {
				r.logger.Debug("unexpected process read error", zap.Int32("pid", pid), zap.Error(err))
			}
			continue
		}
		if raw.Zombie {
			// Already exited; there is nothing left to terminate.
			zombies++
			continue
		}
		snaps = append(snaps, toSnapshot(raw, r.withNetwork))
	}

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].PID < snaps[j].PID })

	if skipped > 0 {
		r.logger.Debug("skipped unreadable processes", zap.Int("count", skipped), zap.Int("captured", len(snaps)))
	}
	if zombies > 0 {
		r.logger.Debug("skipped zombie processes", zap.Int("count", zombies))
	}
	return snaps, nil
}

func toSnapshot(raw *RawProcessInfo, withNetwork bool) Snapshot {
	s := Snapshot{
		PID:         raw.PID,
		PPID:        raw.PPID,
		Name:        raw.Name,
		Exe:         raw.Exe,
		Cmdline:     raw.Cmdline,
		CPUTime:     raw.CPUTime,
		MemoryRSS:   raw.MemoryRSS,
		StartedAt:   raw.CreateTime,
		Connections: NoConnections,
	}
	if raw.UsernameErr == nil && raw.Username != "" {
		s.Owner = raw.Username
		s.OwnerKnown = true
	}
	if raw.UIDKnown {
		s.Elevated = raw.EffectiveUID == 0
	} else {
		// Unknown privilege is treated as elevated so daemon-name matching
		// still protects the process.
		s.Elevated = true
	}
	if withNetwork {
		s.Connections = raw.Connections
	}
	return s
}
