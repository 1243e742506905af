package history

import (
	"fmt"
	"time"

	"github.com/nixlim/idle-reaper/internal/monitor"
	"github.com/nixlim/idle-reaper/internal/process"
)

// Entry is a report with its display line.
type Entry struct {
	Report    monitor.Report
	Formatted string
	// Success is nil for dry runs, where nothing was attempted.
	Success *bool
}

// NewEntry builds the display form of r.
func NewEntry(r monitor.Report) Entry {
	e := Entry{Report: r, Formatted: FormatReport(r)}
	switch r.Outcome {
	case process.OutcomeDryRun:
	case process.OutcomeSucceeded, process.OutcomeAlreadyExited:
		ok := true
		e.Success = &ok
	default:
		ok := false
		e.Success = &ok
	}
	return e
}

// FormatReport renders a report on one line:
//
//	worker (pid 4242) idle 45s: succeeded
//	worker (pid 4242) idle 45s: succeeded after SIGKILL
//	worker (pid 4242) idle 45s: permissionDenied (sending SIGTERM to PID 4242: permission denied)
func FormatReport(r monitor.Report) string {
	line := fmt.Sprintf("%s (pid %d) idle %s: %s", r.Name, r.PID, FormatIdle(r.Idle), r.Outcome)
	if r.Forced && r.Outcome == process.OutcomeSucceeded {
		line += " after SIGKILL"
	}
	if r.Err != nil {
		line += fmt.Sprintf(" (%v)", r.Err)
	}
	return line
}

// FormatIdle rounds d for display: whole seconds below an hour, minutes
// above.
func FormatIdle(d time.Duration) string {
	if d >= time.Hour {
		return d.Round(time.Minute).String()
	}
	return d.Round(time.Second).String()
}
