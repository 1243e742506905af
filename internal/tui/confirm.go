package tui

import (
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
)

// initiateDryRunToggle switches dry run on immediately. Switching it off
// means processes will really be signalled, so that asks for confirmation
// first.
func (m Model) initiateDryRunToggle() (tea.Model, tea.Cmd) {
	if m.monitor == nil {
		return m, nil
	}

	cfg := m.status.Config.Clone()
	if !cfg.DryRun {
		cfg.DryRun = true
		if m.configure(cfg) {
			m.message = "Dry run on: idle processes are reported, not terminated"
		}
		return m, nil
	}

	m.confirmLive = true
	return m, nil
}

// handleConfirmLiveKey handles Y/N/Esc in the live-mode confirmation dialog.
func (m Model) handleConfirmLiveKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Confirm):
		m.confirmLive = false
		cfg := m.status.Config.Clone()
		cfg.DryRun = false
		if m.configure(cfg) {
			m.message = "Dry run off: idle processes will be terminated"
		}
		return m, nil

	case key.Matches(msg, m.keys.Deny), key.Matches(msg, m.keys.Escape):
		m.confirmLive = false
		m.message = "Dry run unchanged"
		return m, nil
	}

	return m, nil
}
