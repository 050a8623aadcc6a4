// Package tui provides the interactive terminal UI for dqmote.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/dqmote/internal/models"
)

// recentRounds is how many of the latest rounds the detail view shows.
const recentRounds = 50

var (
	// Colors
	primaryColor   = lipgloss.Color("#7C3AED")
	secondaryColor = lipgloss.Color("#6366F1")
	successColor   = lipgloss.Color("#10B981")
	warningColor   = lipgloss.Color("#F59E0B")
	errorColor     = lipgloss.Color("#EF4444")
	mutedColor     = lipgloss.Color("#6B7280")
	fgColor        = lipgloss.Color("#F9FAFB")
	cyanColor      = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	inputBoxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	itemStyle = lipgloss.NewStyle().
			Padding(0, 2)

	selectedStyle = lipgloss.NewStyle().
			Background(primaryColor).
			Foreground(fgColor).
			Bold(true).
			Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(secondaryColor).
			MarginTop(1)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)
)

// App is the main TUI application model.
type App struct {
	client       *Client
	experiments  []models.Experiment
	selectedIdx  int
	input        textinput.Model
	viewport     viewport.Model
	width        int
	height       int
	mode         string // "list" or "detail"
	current      *models.Experiment
	stats        *models.Stats
	rounds       []models.Round
	message      string
	filter       string
	filterIdx    int
	loading      bool
	daemonOnline bool
	suggestions  *Suggestions
}

var filters = []string{"", "running", "finished", "failed"}
var filterNames = []string{"ALL", "RUNNING", "FINISHED", "FAILED"}

// New creates a new TUI application.
func New(apiAddr string) *App {
	ti := textinput.New()
	ti.Placeholder = "Type: start dq slots=4 rounds=200 | stop | open @id | filter running"
	ti.Focus()
	ti.CharLimit = 256
	ti.Width = 80

	vp := viewport.New(80, 20)

	return &App{
		client:      NewClient(apiAddr),
		input:       ti,
		viewport:    vp,
		mode:        "list",
		suggestions: NewSuggestions(),
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		a.fetchExperiments(),
		a.checkDaemon(),
		a.tickCmd(),
	)
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			return a, tea.Quit

		case "esc":
			if a.mode == "detail" {
				a.mode = "list"
				a.current = nil
				a.stats = nil
				a.rounds = nil
				return a, a.fetchExperiments()
			}

		case "up":
			if a.suggestions.IsVisible() {
				a.suggestions.Prev()
			} else if a.mode == "list" && a.selectedIdx > 0 {
				a.selectedIdx--
			} else if a.mode == "detail" {
				a.viewport.LineUp(1)
			}
			return a, nil

		case "down":
			if a.suggestions.IsVisible() {
				a.suggestions.Next()
			} else if a.mode == "list" && a.selectedIdx < len(a.experiments)-1 {
				a.selectedIdx++
			} else if a.mode == "detail" {
				a.viewport.LineDown(1)
			}
			return a, nil

		case "tab":
			if a.suggestions.IsVisible() {
				if selected := a.suggestions.Selected(); selected != nil {
					a.acceptSuggestion(selected)
				}
				return a, nil
			}
			if a.mode == "list" {
				a.filterIdx = (a.filterIdx + 1) % len(filters)
				a.filter = filters[a.filterIdx]
				return a, a.fetchExperiments()
			}

		case "enter":
			if a.suggestions.IsVisible() {
				if selected := a.suggestions.Selected(); selected != nil {
					a.acceptSuggestion(selected)
				}
				return a, nil
			}
			line := strings.TrimSpace(a.input.Value())
			if line != "" {
				a.input.SetValue("")
				a.suggestions.Update("")
				return a, a.executeCommand(line)
			} else if a.mode == "list" && len(a.experiments) > 0 {
				return a, a.openExperiment(a.experiments[a.selectedIdx].ID)
			}
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.input.Width = msg.Width - 4
		a.viewport.Width = msg.Width
		a.viewport.Height = max(5, msg.Height-18)

	case experimentsLoadedMsg:
		a.loading = false
		a.experiments = msg.experiments
		if a.selectedIdx >= len(a.experiments) {
			a.selectedIdx = max(0, len(a.experiments)-1)
		}

	case experimentLoadedMsg:
		a.mode = "detail"
		a.current = msg.experiment
		a.stats = msg.stats
		a.rounds = msg.rounds
		a.viewport.SetContent(renderRounds(a.rounds))
		a.viewport.GotoBottom()

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case tickMsg:
		cmds = append(cmds, a.checkDaemon(), a.tickCmd())
		if a.mode == "detail" && a.current != nil && a.current.Status == models.ExperimentStatusRunning {
			cmds = append(cmds, a.fetchExperiment(a.current.ID))
		} else if a.mode == "list" && a.hasRunning() {
			cmds = append(cmds, a.fetchExperiments())
		}

	case commandResultMsg:
		a.message = msg.message
		if msg.open != "" {
			return a, a.openExperiment(msg.open)
		}
		if a.mode == "detail" && a.current != nil {
			return a, a.fetchExperiment(a.current.ID)
		}
		return a, a.fetchExperiments()

	case filterMsg:
		a.filter = msg.status
		a.filterIdx = 0
		for i, f := range filters {
			if f == msg.status {
				a.filterIdx = i
			}
		}
		return a, a.fetchExperiments()

	case errMsg:
		a.loading = false
		a.message = "Error: " + msg.err.Error()
	}

	// Update input
	var cmd tea.Cmd
	a.input, cmd = a.input.Update(msg)
	cmds = append(cmds, cmd)

	// Update suggestions based on input
	a.suggestions.Update(a.input.Value())
	if strings.HasPrefix(a.input.Value(), "@") {
		ids := make([]string, len(a.experiments))
		names := make([]string, len(a.experiments))
		for i, e := range a.experiments {
			ids[i] = e.ID
			names[i] = e.Name
		}
		a.suggestions.SetExperiments(ids, names)
	}

	return a, tea.Batch(cmds...)
}

func (a *App) acceptSuggestion(selected *SuggestionItem) {
	if selected.Type == "experiment" {
		a.input.SetValue("open " + selected.Text)
	} else {
		a.input.SetValue(selected.Text + " ")
	}
	a.input.CursorEnd()
	a.suggestions.Update("")
}

func (a *App) hasRunning() bool {
	for _, e := range a.experiments {
		if e.Status == models.ExperimentStatusRunning {
			return true
		}
	}
	return false
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	running := 0
	for _, e := range a.experiments {
		if e.Status == models.ExperimentStatusRunning {
			running++
		}
	}

	header := titleStyle.Render("📡 dqmote")
	header += "  " + daemonStatus
	header += "  " + lipgloss.NewStyle().Foreground(cyanColor).Render(fmt.Sprintf("[%d running]", running))

	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", a.width) + "\n")

	contentHeight := a.height - 8
	if contentHeight < 5 {
		contentHeight = 5
	}

	switch a.mode {
	case "list":
		filterLabel := fmt.Sprintf(" Filter: [%s]", filterNames[a.filterIdx])
		b.WriteString(labelStyle.Render(filterLabel) + "\n")
		b.WriteString(a.renderExperimentList(contentHeight - 1))
	case "detail":
		b.WriteString(a.renderExperimentDetail())
	}

	// Message bar
	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(inputBoxStyle.Render(a.input.View()))

	if a.suggestions.IsVisible() {
		b.WriteString("\n")
		b.WriteString(a.suggestions.Render(a.width))
	}
	b.WriteString("\n")

	var status string
	switch a.mode {
	case "list":
		status = fmt.Sprintf(" Experiments: %d | ↑↓:nav | Enter:open | Tab:filter | /:commands | Ctrl+C:quit", len(a.experiments))
	default:
		status = " ↑↓:scroll rounds | Esc:back | stop | Ctrl+C:quit"
	}
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}

func (a *App) renderExperimentList(height int) string {
	if a.loading && len(a.experiments) == 0 {
		return "\n  Loading experiments...\n"
	}
	if len(a.experiments) == 0 {
		return "\n  No experiments found. Type: start dq rounds=200 to run one.\n"
	}

	var lines []string
	for i, e := range a.experiments {
		summary := fmt.Sprintf("%-24s %-6s %-3s %2d slots %3d nodes", e.Name, e.Source, e.Protocol, e.Slots, e.Nodes)
		if i == a.selectedIdx {
			lines = append(lines, selectedStyle.Render(fmt.Sprintf("▶ %s  %s", formatStatusPlain(e.Status), summary)))
		} else {
			lines = append(lines, itemStyle.Render(fmt.Sprintf("  %s  %s", formatStatus(e.Status), summary)))
		}
	}

	// Limit visible lines
	if len(lines) > height {
		start := a.selectedIdx - height/2
		if start < 0 {
			start = 0
		}
		end := start + height
		if end > len(lines) {
			end = len(lines)
			start = max(0, end-height)
		}
		lines = lines[start:end]
	}

	return strings.Join(lines, "\n")
}

func (a *App) renderExperimentDetail() string {
	if a.current == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	e := a.current

	b.WriteString(fmt.Sprintf("\n  %s\n", lipgloss.NewStyle().Bold(true).Render(e.Name)))
	b.WriteString(renderField("ID", e.ID))
	b.WriteString(renderField("Status", formatStatus(e.Status)))
	b.WriteString(renderField("Setup", fmt.Sprintf("%s on %s, %d slots, %d nodes", e.Protocol, e.Source, e.Slots, e.Nodes)))
	if e.Duration > 0 {
		b.WriteString(renderField("Duration", fmt.Sprintf("%ds", e.Duration)))
	}
	if e.Error != "" {
		b.WriteString(renderField("Error", lipgloss.NewStyle().Foreground(errorColor).Render(e.Error)))
	}

	if st := a.stats; st != nil {
		b.WriteString(sectionStyle.Render("  Statistics"))
		b.WriteString("\n")
		b.WriteString(renderField("Rounds", fmt.Sprintf("%d (throughput %.2f)", st.Rounds, st.Throughput)))
		if e.Protocol == "dq" {
			b.WriteString(renderField("Access", fmt.Sprintf("%d success, %d collision, %d empty", st.ARPSuccess, st.ARPCollision, st.ARPEmpty)))
			b.WriteString(renderField("Queues", fmt.Sprintf("CRQ max %d mean %.2f, DTQ max %d mean %.2f", st.MaxCRQ, st.MeanCRQ, st.MaxDTQ, st.MeanDTQ)))
		}
		b.WriteString(renderField("Data", fmt.Sprintf("%d success, %d error, %d empty", st.DataSuccess, st.DataError, st.DataEmpty)))
		b.WriteString(renderField("Nodes heard", fmt.Sprintf("%d", st.Nodes)))
	}

	b.WriteString(sectionStyle.Render(fmt.Sprintf("  Last %d rounds", len(a.rounds))))
	b.WriteString("\n")
	b.WriteString(a.viewport.View())
	return b.String()
}

func renderField(label, value string) string {
	return fmt.Sprintf("  %s %s\n", labelStyle.Render(label+":"), value)
}

// renderRounds formats rounds as a fixed-width table.
func renderRounds(rounds []models.Round) string {
	var b strings.Builder
	b.WriteString(fmt.Sprintf("  %5s  %-26s %-8s %6s %5s %4s %4s\n", "SEQ", "ACCESS", "DATA", "ADDR", "RSSI", "CRQ", "DTQ"))
	for _, r := range rounds {
		access := strings.Join(r.ARP, ",")
		if r.Protocol == "fsa" {
			access = fmt.Sprintf("slot %d", r.Slot)
		}
		data := r.Data
		switch data {
		case "success":
			data = lipgloss.NewStyle().Foreground(successColor).Render(fmt.Sprintf("%-8s", data))
		case "error", "collision":
			data = lipgloss.NewStyle().Foreground(errorColor).Render(fmt.Sprintf("%-8s", data))
		default:
			data = fmt.Sprintf("%-8s", data)
		}
		b.WriteString(fmt.Sprintf("  %5d  %-26s %s %#6x %5d %4d %4d\n", r.Seq, access, data, r.Address, r.RSSI, r.CRQ, r.DTQ))
	}
	return b.String()
}

func formatStatus(status models.ExperimentStatus) string {
	switch status {
	case models.ExperimentStatusRunning:
		return lipgloss.NewStyle().Foreground(warningColor).Render("◑ RUNNING")
	case models.ExperimentStatusFinished:
		return lipgloss.NewStyle().Foreground(successColor).Render("● DONE")
	case models.ExperimentStatusFailed:
		return lipgloss.NewStyle().Foreground(errorColor).Render("✗ FAILED")
	default:
		return string(status)
	}
}

func formatStatusPlain(status models.ExperimentStatus) string {
	switch status {
	case models.ExperimentStatusRunning:
		return "◑"
	case models.ExperimentStatusFinished:
		return "●"
	case models.ExperimentStatusFailed:
		return "✗"
	default:
		return "?"
	}
}

func (a *App) fetchExperiments() tea.Cmd {
	a.loading = true
	filter := a.filter
	return func() tea.Msg {
		experiments, err := a.client.ListExperiments(filter)
		if err != nil {
			return errMsg{err}
		}
		return experimentsLoadedMsg{experiments}
	}
}

func (a *App) fetchExperiment(id string) tea.Cmd {
	return func() tea.Msg {
		exp, err := a.client.GetExperiment(id)
		if err != nil {
			return errMsg{err}
		}
		stats, err := a.client.GetStats(id)
		if err != nil {
			return errMsg{err}
		}
		offset := max(0, stats.Rounds-recentRounds)
		rounds, _ := a.client.ListRounds(id, offset, recentRounds)
		return experimentLoadedMsg{exp, stats, rounds}
	}
}

func (a *App) openExperiment(id string) tea.Cmd {
	a.mode = "detail"
	return a.fetchExperiment(id)
}

func (a *App) checkDaemon() tea.Cmd {
	return func() tea.Msg {
		ok, err := a.client.CheckHealth()
		return daemonStatusMsg{online: err == nil && ok}
	}
}

// target resolves the experiment a command without an argument applies to.
func (a *App) target(arg string) string {
	if arg != "" {
		return arg
	}
	if a.mode == "detail" && a.current != nil {
		return a.current.ID
	}
	if len(a.experiments) > 0 {
		return a.experiments[a.selectedIdx].ID
	}
	return ""
}

func (a *App) executeCommand(input string) tea.Cmd {
	cmd, err := parseCommand(input)
	if err != nil {
		return func() tea.Msg { return commandResultMsg{message: "Error: " + err.Error()} }
	}

	switch cmd.name {
	case "q", "quit", "exit":
		return tea.Quit
	case "filter":
		return func() tea.Msg { return filterMsg{cmd.arg} }
	}

	id := a.target(cmd.arg)
	return func() tea.Msg {
		switch cmd.name {
		case "start":
			exp, err := a.client.StartExperiment(cmd.start)
			if err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			return commandResultMsg{message: fmt.Sprintf("✓ Started %s", exp.Name), open: exp.ID}

		case "stop":
			if id == "" {
				return commandResultMsg{message: "No experiment selected"}
			}
			if err := a.client.StopExperiment(id); err != nil {
				return commandResultMsg{message: "Error: " + err.Error()}
			}
			return commandResultMsg{message: "✓ Stopping experiment"}

		case "open":
			if id == "" {
				return commandResultMsg{message: "No experiment selected"}
			}
			return commandResultMsg{open: id}
		}
		return commandResultMsg{message: "✓ Refreshed"}
	}
}

type commandResultMsg struct {
	message string
	open    string
}

type errMsg struct {
	err error
}

type experimentsLoadedMsg struct {
	experiments []models.Experiment
}

type experimentLoadedMsg struct {
	experiment *models.Experiment
	stats      *models.Stats
	rounds     []models.Round
}

type daemonStatusMsg struct {
	online bool
}

type filterMsg struct {
	status string
}

type tickMsg time.Time

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(2*time.Second, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
