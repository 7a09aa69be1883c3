package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/braindock/braindock/internal/events"
)

// FeedPaneModel renders the scrolling activity feed built from
// pipeline events.
type FeedPaneModel struct {
	lines    []string
	viewport viewport.Model
	width    int
	height   int
	focused  bool
}

// NewFeedPaneModel creates an empty feed pane.
func NewFeedPaneModel() FeedPaneModel {
	return FeedPaneModel{viewport: viewport.New(0, 0)}
}

// Update handles messages for the feed pane.
func (m FeedPaneModel) Update(msg tea.Msg) (FeedPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		m.viewport, cmd = m.viewport.Update(msg)

	case events.ModeChangedEvent:
		line := StyleMode.Render("mode") + "  " + msg.To
		if msg.Task != "" {
			line += "  (" + msg.Task + ")"
		}
		m.appendLine(msg.Timestamp.Format("15:04:05") + "  " + line)

	case events.TaskStartedEvent:
		m.appendLine(fmt.Sprintf("%s  %s  wave %d: %s",
			msg.Timestamp.Format("15:04:05"), StyleStatusRunning.Render("●"), msg.Wave, msg.Title))

	case events.TaskCompletedEvent:
		m.appendLine(fmt.Sprintf("%s  %s  %s done (%s)",
			msg.Timestamp.Format("15:04:05"), StyleStatusComplete.Render("✓"), msg.ID, msg.Output))

	case events.TaskFailedEvent:
		m.appendLine(fmt.Sprintf("%s  %s  %s failed: %s",
			msg.Timestamp.Format("15:04:05"), StyleStatusFailed.Render("✗"), msg.ID, msg.Reason))

	case events.GateEvaluatedEvent:
		m.appendLine(fmt.Sprintf("%s  %s  %s -> %s (%s)",
			msg.Timestamp.Format("15:04:05"), StyleGate.Render("gate"), msg.GateName, msg.Action, msg.Reason))

	case events.EscalationRaisedEvent:
		m.appendLine(fmt.Sprintf("%s  %s  %s: %s",
			msg.Timestamp.Format("15:04:05"), StyleEscalation.Render("escalation"), msg.Task, msg.Reason))

	case events.RunFinishedEvent:
		summary := fmt.Sprintf("run finished: %s, %d completed, %d failed",
			msg.FinalMode, msg.Completed, msg.Failed)
		if msg.Err != "" {
			summary += " (" + msg.Err + ")"
		}
		m.appendLine(msg.Timestamp.Format("15:04:05") + "  " + StyleTitle.Render(summary))
	}

	return m, cmd
}

func (m *FeedPaneModel) appendLine(line string) {
	m.lines = append(m.lines, line)
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

// View renders the feed pane.
func (m FeedPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	content := m.viewport.View()
	if len(m.lines) == 0 {
		content = StyleStatusPending.Render("Waiting for pipeline events...")
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// SetSize updates the pane dimensions.
func (m *FeedPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.viewport.Width = max(w-4, 10)
	m.viewport.Height = max(h-4, 5)
}

// SetFocused updates the focus state.
func (m *FeedPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
