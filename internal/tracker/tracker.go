// Package tracker keeps per-process activity state across scan cycles.
//
// CPU-time progression is the only activity signal: a process whose
// cumulative CPU time grew since the previous scan is considered active at
// the time of that scan. I/O and network activity are not consulted.
package tracker

import (
	"time"

	"github.com/nixlim/idle-reaper/internal/scanner"
)

// Idle is the idle state reported for one identity after an Update.
type Idle struct {
	Duration    time.Duration
	FirstSeenAt time.Time
}

type record struct {
	firstSeenAt  time.Time
	lastActiveAt time.Time
	lastCPU      time.Duration
}

// Tracker maps process identities to activity records.
// It is not safe for concurrent use; the monitor loop owns it.
type Tracker struct {
	records map[scanner.Identity]*record
}

func New() *Tracker {
	return &Tracker{records: make(map[scanner.Identity]*record)}
}

// Update merges one cycle's snapshots into the tracked state and returns the
// idle duration of every identity present in snaps. Identities tracked from
// earlier cycles but absent from snaps are dropped.
func (t *Tracker) Update(snaps []scanner.Snapshot, now time.Time) map[scanner.Identity]Idle {
	seen := make(map[scanner.Identity]bool, len(snaps))
	out := make(map[scanner.Identity]Idle, len(snaps))

	for _, s := range snaps {
		id := s.Identity()
		if seen[id] {
			continue
		}
		seen[id] = true

		rec, ok := t.records[id]
		switch {
		case !ok:
			rec = &record{firstSeenAt: now, lastActiveAt: now, lastCPU: s.CPUTime}
			t.records[id] = rec
		case s.CPUTime > rec.lastCPU:
			rec.lastActiveAt = now
			rec.lastCPU = s.CPUTime
		default:
			// No progress. A CPU counter that went backwards is recorded so
			// the next increase is measured from the new baseline.
			rec.lastCPU = s.CPUTime
		}

		out[id] = Idle{Duration: idleSince(rec.lastActiveAt, now), FirstSeenAt: rec.firstSeenAt}
	}

	for id := range t.records {
		if !seen[id] {
			delete(t.records, id)
		}
	}

	return out
}

// Forget drops an identity, e.g. after it was terminated.
func (t *Tracker) Forget(id scanner.Identity) {
	delete(t.records, id)
}

// Len returns the number of tracked identities.
func (t *Tracker) Len() int {
	return len(t.records)
}

// idleSince never returns a negative duration, even if the clock stepped
// backwards between cycles.
func idleSince(lastActive, now time.Time) time.Duration {
	d := now.Sub(lastActive)
	if d < 0 {
		return 0
	}
	return d
}
