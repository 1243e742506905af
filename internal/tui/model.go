package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/nixlim/idle-reaper/internal/config"
	"github.com/nixlim/idle-reaper/internal/history"
	"github.com/nixlim/idle-reaper/internal/monitor"
	"github.com/nixlim/idle-reaper/internal/process"
)

type tickMsg time.Time

// cycleDoneMsg carries the result of a manual RunOnce.
type cycleDoneMsg struct {
	reports int
	err     error
}

// Controller is the monitor surface the dashboard drives.
type Controller interface {
	Start() error
	Stop() error
	Status() monitor.Status
	Configure(cfg config.MonitorConfig) error
	RunOnce(ctx context.Context) ([]monitor.Report, error)
}

// HistoryProvider supplies recent termination reports.
type HistoryProvider interface {
	Recent(n int) []history.Entry
	RecentByOutcome(o process.Outcome, n int) []history.Entry
	Totals() map[process.Outcome]int
	Len() int
	Cap() int
}

type Model struct {
	width    int
	height   int
	keys     KeyMap
	quitting bool

	cfg config.Config

	monitor Controller
	history HistoryProvider

	status  monitor.Status
	message string

	confirmLive   bool
	cycleInFlight bool

	reportScrollPos int
	// reportFilter is 0 for all outcomes, else outcomeOrder[reportFilter-1].
	reportFilter int

	refreshRate time.Duration

	onShutdown func()
}

func NewModel(cfg config.Config, opts ...ModelOption) Model {
	m := Model{
		keys:        DefaultKeyMap(),
		cfg:         cfg,
		refreshRate: time.Duration(cfg.Display.RefreshRateMS) * time.Millisecond,
	}

	for _, opt := range opts {
		opt(&m)
	}
	m.refreshStatus()

	return m
}

type ModelOption func(*Model)

func WithController(c Controller) ModelOption {
	return func(m *Model) { m.monitor = c }
}

func WithHistoryProvider(h HistoryProvider) ModelOption {
	return func(m *Model) { m.history = h }
}

func WithOnShutdown(fn func()) ModelOption {
	return func(m *Model) { m.onShutdown = fn }
}

func (m Model) Init() tea.Cmd {
	return m.tickCmd()
}

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshRate, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m *Model) refreshStatus() {
	if m.monitor != nil {
		m.status = m.monitor.Status()
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.refreshStatus()
		return m, m.tickCmd()

	case cycleDoneMsg:
		m.cycleInFlight = false
		m.refreshStatus()
		if msg.err != nil {
			m.message = "Cycle failed: " + msg.err.Error()
		} else {
			m.message = fmt.Sprintf("Cycle complete: %d report(s)", msg.reports)
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.quitting {
		return m, nil
	}
	if m.confirmLive {
		return m.handleConfirmLiveKey(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, shutdownCmd(m.onShutdown)

	case key.Matches(msg, m.keys.StartStop):
		return m.toggleRunning()

	case key.Matches(msg, m.keys.Batch):
		cfg := m.status.Config.Clone()
		cfg.BatchMode = !cfg.BatchMode
		if m.configure(cfg) {
			m.message = "Batch mode " + onOff(cfg.BatchMode)
		}
		return m, nil

	case key.Matches(msg, m.keys.DryRun):
		return m.initiateDryRunToggle()

	case key.Matches(msg, m.keys.RunOnce):
		return m.runOnce()

	case key.Matches(msg, m.keys.Filter):
		m.reportFilter = (m.reportFilter + 1) % (len(outcomeOrder) + 1)
		m.reportScrollPos = 0
		m.message = "Showing " + m.filterLabel() + " reports"
		return m, nil

	case key.Matches(msg, m.keys.Up):
		if m.reportScrollPos > 0 {
			m.reportScrollPos--
		}
		return m, nil

	case key.Matches(msg, m.keys.Down):
		m.reportScrollPos++
		return m, nil
	}

	return m, nil
}

func (m Model) toggleRunning() (tea.Model, tea.Cmd) {
	if m.monitor == nil {
		return m, nil
	}

	var err error
	if m.status.State == monitor.StateRunning {
		err = m.monitor.Stop()
		if err == nil {
			m.message = "Stopping after the current cycle"
		}
	} else {
		err = m.monitor.Start()
		if err == nil {
			m.message = "Monitoring started"
		}
	}
	if err != nil {
		m.message = "Error: " + err.Error()
	}
	m.refreshStatus()
	return m, nil
}

// shutdownCmd runs fn off the update loop, then quits.
func shutdownCmd(fn func()) tea.Cmd {
	return func() tea.Msg {
		if fn != nil {
			fn()
		}
		return tea.Quit()
	}
}

func (m Model) runOnce() (tea.Model, tea.Cmd) {
	if m.monitor == nil || m.cycleInFlight {
		return m, nil
	}
	m.cycleInFlight = true
	m.message = "Running one cycle..."

	ctrl := m.monitor
	return m, func() tea.Msg {
		reports, err := ctrl.RunOnce(context.Background())
		return cycleDoneMsg{reports: len(reports), err: err}
	}
}

// configure applies cfg and reports whether it was accepted.
func (m *Model) configure(cfg config.MonitorConfig) bool {
	if m.monitor == nil {
		return false
	}
	if err := m.monitor.Configure(cfg); err != nil {
		m.message = "Error: " + err.Error()
		return false
	}
	m.refreshStatus()
	return true
}

func (m Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	output := m.renderDashboard()

	if m.height > 0 {
		lines := strings.Split(output, "\n")
		if len(lines) > m.height {
			lines = lines[:m.height]
			output = strings.Join(lines, "\n")
		}
	}

	return output
}

// filterOutcome returns the outcome the reports panel is limited to.
func (m Model) filterOutcome() (process.Outcome, bool) {
	if m.reportFilter == 0 {
		return 0, false
	}
	return outcomeOrder[m.reportFilter-1], true
}

func (m Model) filterLabel() string {
	if o, ok := m.filterOutcome(); ok {
		return o.String()
	}
	return "all"
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
