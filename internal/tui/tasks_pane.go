package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/braindock/braindock/internal/events"
)

// taskRow tracks one task's display state.
type taskRow struct {
	id     string
	title  string
	wave   int
	status string // "running", "completed", "failed"
}

// TasksPaneModel lists tasks in start order with their wave and status.
type TasksPaneModel struct {
	rows        []taskRow
	index       map[string]int
	selectedIdx int
	width       int
	height      int
	focused     bool
}

// NewTasksPaneModel creates an empty task list.
func NewTasksPaneModel() TasksPaneModel {
	return TasksPaneModel{index: make(map[string]int)}
}

// Update handles messages for the task list.
func (m TasksPaneModel) Update(msg tea.Msg) (TasksPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.rows)-1 {
				m.selectedIdx++
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		}

	case events.TaskStartedEvent:
		if _, exists := m.index[msg.ID]; !exists {
			m.index[msg.ID] = len(m.rows)
			m.rows = append(m.rows, taskRow{id: msg.ID, title: msg.Title, wave: msg.Wave, status: "running"})
		} else {
			m.rows[m.index[msg.ID]].status = "running"
		}

	case events.TaskCompletedEvent:
		if i, exists := m.index[msg.ID]; exists {
			m.rows[i].status = "completed"
		}

	case events.TaskFailedEvent:
		if i, exists := m.index[msg.ID]; exists {
			m.rows[i].status = "failed"
		}
	}

	return m, nil
}

// View renders the task list.
func (m TasksPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(StyleTitle.Render("Tasks"))
	b.WriteString("\n\n")

	if len(m.rows) == 0 {
		b.WriteString(StyleStatusPending.Render("No tasks yet"))
	}
	for i, row := range m.rows {
		title := row.title
		if maxLen := m.width - 12; maxLen > 3 && len(title) > maxLen {
			title = title[:maxLen-3] + "..."
		}
		line := fmt.Sprintf("%s w%d %s", statusIcon(row.status), row.wave, title)
		if i == m.selectedIdx && m.focused {
			line = StyleSelectedOption.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(lipgloss.NewStyle().Width(m.width - 4).Render(b.String()))
}

func statusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SetSize updates the pane dimensions.
func (m *TasksPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *TasksPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
