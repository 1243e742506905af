package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/nixlim/idle-reaper/internal/history"
	"github.com/nixlim/idle-reaper/internal/monitor"
	"github.com/nixlim/idle-reaper/internal/process"
)

// outcomeOrder fixes the order of outcome totals in the status panel.
var outcomeOrder = []process.Outcome{
	process.OutcomeSucceeded,
	process.OutcomeAlreadyExited,
	process.OutcomePermissionDenied,
	process.OutcomeUnknown,
	process.OutcomeDryRun,
}

func stateStyle(s monitor.State) lipgloss.Style {
	switch s {
	case monitor.StateRunning:
		return runningStyle
	case monitor.StateStopping:
		return stoppingStyle
	default:
		return stoppedStyle
	}
}

func row(label, value string) string {
	return labelStyle.Render(fmt.Sprintf("%-16s", label)) + value
}

// renderStatusPanel shows the monitor state and lifetime outcome totals.
func (m Model) renderStatusPanel(w, h int) string {
	st := m.status
	lines := []string{panelTitleStyle.Render("Monitor")}

	lines = append(lines, row("State", stateStyle(st.State).Render(st.State.String())))
	lastCycle := "never"
	if !st.LastCycleAt.IsZero() {
		lastCycle = humanize.Time(st.LastCycleAt)
	}
	lines = append(lines, row("Last cycle", lastCycle))
	lines = append(lines, row("Tracked", humanize.Comma(int64(st.ProcessesTracked))))
	lines = append(lines, row("Terminated", fmt.Sprintf("%d last cycle", st.LastCycleTerminations)))

	if m.history != nil {
		lines = append(lines, row("History", fmt.Sprintf("%d of %d kept", m.history.Len(), m.history.Cap())))
		totals := m.history.Totals()
		var parts []string
		for _, o := range outcomeOrder {
			if n := totals[o]; n > 0 {
				parts = append(parts, fmt.Sprintf("%s %s", o, humanize.Comma(int64(n))))
			}
		}
		if len(parts) > 0 {
			lines = append(lines, row("Session totals", strings.Join(parts, ", ")))
		}
	}

	return renderBorderedPanel(strings.Join(lines, "\n"), w, h)
}

// renderConfigPanel shows the configuration the monitor will use.
func (m Model) renderConfigPanel(w, h int) string {
	cfg := m.status.Config
	lines := []string{panelTitleStyle.Render("Configuration")}

	lines = append(lines, row("Idle timeout", cfg.IdleTimeout.String()))
	lines = append(lines, row("Scan interval", cfg.ScanInterval.String()))

	mode := "single (1 per cycle)"
	if cfg.BatchMode {
		mode = "batch"
	}
	lines = append(lines, row("Mode", mode))

	global := "unlimited"
	if cfg.GlobalLimit > 0 {
		global = fmt.Sprintf("%d per cycle", cfg.GlobalLimit)
	}
	lines = append(lines, row("Global limit", global))
	lines = append(lines, row("Per-name limits", formatLimits(cfg.PerNameLimit)))
	lines = append(lines, row("Dry run", onOff(cfg.DryRun)))
	lines = append(lines, row("Network", onOff(cfg.NetworkMonitoring)))

	watch := "all processes"
	if len(cfg.Watch) > 0 {
		watch = strings.Join(cfg.Watch, ", ")
	}
	lines = append(lines, row("Watch", watch))

	return renderBorderedPanel(strings.Join(lines, "\n"), w, h)
}

func formatLimits(limits map[string]int) string {
	if len(limits) == 0 {
		return "none"
	}
	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, limits[name])
	}
	return strings.Join(parts, ", ")
}

// renderReportsPanel lists recent termination reports, newest first.
func (m Model) renderReportsPanel(w, h int) string {
	contentW := w - 4
	if contentW < 10 {
		contentW = 10
	}
	contentH := h - 3 // borders + title
	if contentH < 1 {
		contentH = 1
	}

	title := "Recent terminations"
	outcome, filtered := m.filterOutcome()
	if filtered {
		title += " [" + outcome.String() + "]"
	}
	lines := []string{panelTitleStyle.Render(title)}

	var entries []history.Entry
	if m.history != nil {
		if filtered {
			entries = m.history.RecentByOutcome(outcome, m.cfg.Display.HistorySize)
		} else {
			entries = m.history.Recent(m.cfg.Display.HistorySize)
		}
	}
	if len(entries) == 0 {
		placeholder := "No idle processes terminated yet"
		if filtered {
			placeholder = "No " + outcome.String() + " reports"
		}
		lines = append(lines, "", dimStyle.Render(placeholder))
		return renderBorderedPanel(strings.Join(lines, "\n"), w, h)
	}

	offset := m.reportScrollPos
	if maxOffset := len(entries) - contentH; offset > maxOffset {
		offset = maxOffset
	}
	if offset < 0 {
		offset = 0
	}
	end := offset + contentH
	if end > len(entries) {
		end = len(entries)
	}

	for _, e := range entries[offset:end] {
		lines = append(lines, formatEntryLine(e, contentW))
	}

	return renderBorderedPanel(strings.Join(lines, "\n"), w, h)
}

func formatEntryLine(e history.Entry, maxW int) string {
	ts := e.Report.At.Format("15:04:05")
	text := e.Formatted
	if avail := maxW - len(ts) - 1; avail > 3 && len(text) > avail {
		text = text[:avail-3] + "..."
	}

	var style lipgloss.Style
	switch {
	case e.Success == nil:
		style = dryRunStyle
	case *e.Success:
		style = successStyle
	default:
		style = failureStyle
	}
	return dimStyle.Render(ts) + " " + style.Render(text)
}
