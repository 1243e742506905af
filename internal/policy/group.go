// Package policy turns a cycle's snapshots and idle durations into an ordered
// list of processes to terminate.
//
// Both steps are pure: grouping filters and buckets eligible processes by
// name, and Select applies the batch, per-name and global limits. Given the
// same inputs they always produce the same ordered output.
package policy

import (
	"sort"
	"strings"
	"time"

	"github.com/nixlim/idle-reaper/internal/config"
	"github.com/nixlim/idle-reaper/internal/scanner"
	"github.com/nixlim/idle-reaper/internal/tracker"
)

// Classifier reports whether a process must never be terminated.
type Classifier interface {
	IsProtected(s scanner.Snapshot) bool
}

// Candidate is an eligible process together with its idle state.
type Candidate struct {
	Snapshot    scanner.Snapshot
	Idle        time.Duration
	FirstSeenAt time.Time
}

// Identity returns the candidate's process identity.
func (c Candidate) Identity() scanner.Identity {
	return c.Snapshot.Identity()
}

// Group holds the eligible processes sharing one exact name, longest idle
// first.
type Group struct {
	Name    string
	Members []Candidate

	// Terminated counts members chosen by Select.
	Terminated int
}

// BuildGroups filters out protected processes, processes idle for less than
// cfg.IdleTimeout and processes not matching cfg.Watch, then buckets the rest
// by name. Snapshots without an entry in idle are skipped.
func BuildGroups(snaps []scanner.Snapshot, idle map[scanner.Identity]tracker.Idle, cls Classifier, cfg config.MonitorConfig) map[string]*Group {
	groups := make(map[string]*Group)

	for _, s := range snaps {
		st, ok := idle[s.Identity()]
		if !ok {
			continue
		}
		if cls.IsProtected(s) {
			continue
		}
		if st.Duration < cfg.IdleTimeout {
			continue
		}
		if !Watched(s, cfg.Watch) {
			continue
		}

		g, ok := groups[s.Name]
		if !ok {
			g = &Group{Name: s.Name}
			groups[s.Name] = g
		}
		g.Members = append(g.Members, Candidate{
			Snapshot:    s,
			Idle:        st.Duration,
			FirstSeenAt: st.FirstSeenAt,
		})
	}

	for _, g := range groups {
		sort.SliceStable(g.Members, func(i, j int) bool {
			return lessIdle(g.Members[i], g.Members[j])
		})
	}

	return groups
}

// Watched reports whether s matches one of the watch patterns. Patterns are
// case-insensitive substrings of the name, executable path or command line.
// An empty watch list matches everything.
func Watched(s scanner.Snapshot, watch []string) bool {
	if len(watch) == 0 {
		return true
	}
	name := strings.ToLower(s.Name)
	exe := strings.ToLower(s.Exe)
	cmd := strings.ToLower(s.Cmdline)
	for _, w := range watch {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			continue
		}
		if strings.Contains(name, w) || strings.Contains(exe, w) || strings.Contains(cmd, w) {
			return true
		}
	}
	return false
}

// SortedNames returns the group names in lexicographic order.
func SortedNames(groups map[string]*Group) []string {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lessIdle orders by idle descending, then earlier first sighting, then PID.
func lessIdle(a, b Candidate) bool {
	if a.Idle != b.Idle {
		return a.Idle > b.Idle
	}
	if !a.FirstSeenAt.Equal(b.FirstSeenAt) {
		return a.FirstSeenAt.Before(b.FirstSeenAt)
	}
	return a.Snapshot.PID < b.Snapshot.PID
}
