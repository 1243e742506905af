package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type panelDimensions struct {
	statusW, statusH   int
	configW, configH   int
	reportsW, reportsH int
	headerH, footerH   int
}

const (
	minWidth  = 40
	minHeight = 10

	headerHeight = 1
	footerHeight = 1

	topPanelMinHeight = 6
	topPanelMaxHeight = 11
)

func computeDimensions(totalW, totalH int) panelDimensions {
	if totalW < minWidth {
		totalW = minWidth
	}
	if totalH < minHeight {
		totalH = minHeight
	}

	d := panelDimensions{
		headerH: headerHeight,
		footerH: footerHeight,
	}

	usableH := totalH - headerHeight - footerHeight
	if usableH < 6 {
		usableH = 6
	}

	topH := usableH / 2
	if topH < topPanelMinHeight {
		topH = topPanelMinHeight
	}
	if topH > topPanelMaxHeight {
		topH = topPanelMaxHeight
	}

	d.statusW = totalW / 2
	d.statusH = topH
	d.configW = totalW - d.statusW
	d.configH = topH

	d.reportsW = totalW
	d.reportsH = usableH - topH
	if d.reportsH < 3 {
		d.reportsH = 3
	}

	return d
}

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62"))

	panelBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("240"))

	panelTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("69"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	runningStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("82"))

	stoppingStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("226"))

	stoppedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82"))

	failureStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	dryRunStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("117"))

	warningBadgeStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("196"))

	confirmDialogStyle = lipgloss.NewStyle().
				Border(lipgloss.DoubleBorder()).
				BorderForeground(lipgloss.Color("196")).
				Padding(1, 3).
				Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))
)

func renderBorderedPanel(content string, w, h int) string {
	contentH := h - 2
	if contentH < 1 {
		contentH = 1
	}

	lines := strings.Split(content, "\n")
	if len(lines) > contentH {
		lines = lines[:contentH]
		content = strings.Join(lines, "\n")
	}

	return panelBorderStyle.
		Width(w - 2).
		Height(contentH).
		Render(content)
}

func (m Model) renderDashboard() string {
	dims := computeDimensions(m.width, m.height)

	header := m.renderHeader()
	statusPanel := m.renderStatusPanel(dims.statusW, dims.statusH)
	configPanel := m.renderConfigPanel(dims.configW, dims.configH)
	reportsPanel := m.renderReportsPanel(dims.reportsW, dims.reportsH)
	footer := m.renderFooter()

	top := lipgloss.JoinHorizontal(lipgloss.Top, statusPanel, configPanel)
	layout := lipgloss.JoinVertical(lipgloss.Left, header, top, reportsPanel, footer)

	if m.confirmLive {
		layout = m.overlayConfirmDialog(layout)
	}

	return layout
}

func (m Model) renderHeader() string {
	title := " idle-reaper"
	stateLabel := " [" + m.status.State.String() + "]"
	var badges string
	if m.status.Config.DryRun {
		badges = " " + dryRunStyle.Render("[dry run]")
	} else {
		badges = " " + warningBadgeStyle.Render("[live]")
	}
	help := m.headerHelp()

	padding := m.width - lipgloss.Width(title) - lipgloss.Width(stateLabel) - lipgloss.Width(badges) - lipgloss.Width(help)
	if padding < 0 {
		padding = 0
	}

	return headerStyle.Width(m.width).Render(title + stateLabel + badges + strings.Repeat(" ", padding) + help)
}

func (m Model) headerHelp() string {
	if m.confirmLive {
		return "y:Confirm  n/Esc:Cancel "
	}
	return "s:Start/Stop  b:Batch  d:Dry run  r:Run once  f:Filter  q:Quit "
}

func (m Model) renderFooter() string {
	if m.message == "" {
		return statusBarStyle.Render(" Ready")
	}
	return statusBarStyle.Render(" " + m.message)
}

func (m Model) overlayConfirmDialog(base string) string {
	dialog := confirmDialogStyle.Render(
		"Disable dry run?\n\n" +
			"Idle processes will receive SIGTERM,\n" +
			"then SIGKILL if they do not exit.\n\n" +
			"[y] Terminate for real  [n/Esc] Keep dry run")

	return placeOverlay(dialog, base)
}

func placeOverlay(fg, bg string) string {
	return lipgloss.Place(
		lipgloss.Width(bg),
		lipgloss.Height(bg),
		lipgloss.Center,
		lipgloss.Center,
		fg,
		lipgloss.WithWhitespaceChars(" "),
	)
}
