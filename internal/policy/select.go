package policy

import "github.com/nixlim/idle-reaper/internal/config"

// Select chooses the processes to terminate this cycle.
//
// Names with a per-name limit of 0 are never chosen. Without batch mode the
// result holds at most the single longest-idle candidate across all groups.
// In batch mode groups are visited in name order and each contributes up to
// its per-name limit (all members when unset); visiting stops once the global
// limit, when nonzero, is reached.
//
// Select increments Terminated on every group it takes members from.
func Select(groups map[string]*Group, cfg config.MonitorConfig) []Candidate {
	names := SortedNames(groups)

	if !cfg.BatchMode {
		return selectOne(groups, names, cfg)
	}

	var out []Candidate
	for _, name := range names {
		limit, hasLimit := cfg.LimitFor(name)
		if hasLimit && limit == 0 {
			continue
		}

		g := groups[name]
		take := len(g.Members)
		if hasLimit && limit < take {
			take = limit
		}

		for _, c := range g.Members[:take] {
			if cfg.GlobalLimit > 0 && len(out) >= cfg.GlobalLimit {
				return out
			}
			out = append(out, c)
			g.Terminated++
		}
	}
	return out
}

func selectOne(groups map[string]*Group, names []string, cfg config.MonitorConfig) []Candidate {
	var (
		best     Candidate
		bestName string
		found    bool
	)
	for _, name := range names {
		if limit, ok := cfg.LimitFor(name); ok && limit == 0 {
			continue
		}
		g := groups[name]
		if len(g.Members) == 0 {
			continue
		}
		// Members are already ordered, so only the head can win. Names are
		// visited in order, so a strict comparison keeps the earlier name on
		// an exact tie.
		head := g.Members[0]
		if !found || beats(head, best) {
			best, bestName, found = head, name, true
		}
	}
	if !found {
		return nil
	}
	groups[bestName].Terminated++
	return []Candidate{best}
}

// beats is lessIdle without the PID tie-break, which is applied after the
// name order.
func beats(a, b Candidate) bool {
	if a.Idle != b.Idle {
		return a.Idle > b.Idle
	}
	return a.FirstSeenAt.Before(b.FirstSeenAt)
}
