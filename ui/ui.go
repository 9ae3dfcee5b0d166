// Package ui renders a live status board of running tasks.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ZacxDev/assetooni/executor"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	boardWidth  = 160
	boardHeight = 40
	logHeight   = 20
	tickEvery   = 100 * time.Millisecond
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	helpStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("243"))
	statusColors = map[string]lipgloss.Color{
		executor.StatusQueued:    lipgloss.Color("243"),
		executor.StatusRunning:   lipgloss.Color("86"),
		executor.StatusCompleted: lipgloss.Color("82"),
		executor.StatusFailed:    lipgloss.Color("160"),
	}
)

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(tickEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Model is the bubbletea model of the board. Task rows come from the status
// manager as tasks get queued.
type Model struct {
	status        executor.StatusManager
	title         string
	viewport      viewport.Model
	logView       viewport.Model
	selectedIdx   int
	showingLogs   bool
	logAutoscroll bool
	done          bool
}

func NewModel(title string, status executor.StatusManager) *Model {
	m := &Model{
		status:        status,
		title:         title,
		viewport:      viewport.New(boardWidth, boardHeight),
		logView:       viewport.New(boardWidth, logHeight),
		logAutoscroll: true,
	}
	m.viewport.SetContent(m.statusView())
	return m
}

func (m *Model) Init() tea.Cmd {
	return tickCmd()
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)
	count := len(m.status.Names())

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.done = true
			return m, tea.Quit
		case "up", "k":
			if m.showingLogs {
				m.logAutoscroll = false
				m.logView, cmd = m.logView.Update(msg)
				cmds = append(cmds, cmd)
			} else if count > 0 {
				m.selectedIdx = (m.selectedIdx - 1 + count) % count
			}
		case "down", "j":
			if m.showingLogs {
				m.logView, cmd = m.logView.Update(msg)
				cmds = append(cmds, cmd)
			} else if count > 0 {
				m.selectedIdx = (m.selectedIdx + 1) % count
			}
		case "enter", " ":
			m.showingLogs = !m.showingLogs
			m.logAutoscroll = true
		case "esc":
			m.showingLogs = false
		}
	case tea.WindowSizeMsg:
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - 1
		m.logView.Width = msg.Width
		m.logView.Height = msg.Height / 2
	case tickMsg:
		if !m.done {
			cmds = append(cmds, tickCmd())
		}
	}

	m.viewport.SetContent(m.statusView())
	if m.showingLogs && m.logAutoscroll {
		m.updateLogView()
	}
	return m, tea.Batch(cmds...)
}

func (m *Model) View() string {
	if m.done {
		return "Exiting...\n"
	}
	var sb strings.Builder
	sb.WriteString(m.viewport.View())
	if m.showingLogs {
		sb.WriteString("\n\nOutput:\n")
		sb.WriteString(m.logView.View())
	}
	sb.WriteString("\n" + helpStyle.Render("Press q to quit, enter/space to toggle logs, up/down or j/k to navigate"))
	return sb.String()
}

func (m *Model) statusView() string {
	snapshot := m.status.Snapshot()
	names := m.status.Names()

	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.title) + "\n\n")

	for i, name := range names {
		st, ok := snapshot[name]
		if !ok {
			continue
		}

		progress := ""
		if st.Status == executor.StatusRunning {
			progress = strings.Repeat("=", int(st.Duration()/time.Second)%20) + ">"
		}

		style := lipgloss.NewStyle().Foreground(statusColors[st.Status])

		prefix := "  "
		if i == m.selectedIdx {
			prefix = "> "
		}

		sb.WriteString(fmt.Sprintf(
			"%s%-20s | %-10s | %-20s | %-10s | Files: %d | Runs: %d\n",
			prefix,
			name,
			style.Render(st.Status),
			progress,
			st.Duration().Round(time.Millisecond),
			st.Files,
			st.Runs,
		))
	}

	return sb.String()
}

func (m *Model) updateLogView() {
	names := m.status.Names()
	if m.selectedIdx >= len(names) {
		m.logView.SetContent("")
		return
	}

	st := m.status.Snapshot()[names[m.selectedIdx]]
	content := strings.Join(st.LogLines, "\n")
	if st.LastError != "" {
		if content != "" {
			content += "\n"
		}
		content += st.LastError
	}
	if content == "" {
		content = "Nothing logged yet"
	}
	m.logView.SetContent(content)
	if m.logAutoscroll {
		m.logView.GotoBottom()
	}
}

// Run shows the board until ctx is done or the user quits. Quitting cancels
// nothing by itself; callers decide what q means.
func Run(ctx context.Context, title string, status executor.StatusManager) error {
	p := tea.NewProgram(NewModel(title, status), tea.WithAltScreen())
	go func() {
		<-ctx.Done()
		p.Quit()
	}()
	_, err := p.Run()
	return err
}
