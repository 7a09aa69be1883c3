package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/braindock/braindock/internal/events"
	"github.com/braindock/braindock/internal/session"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneFeed
)

// pollMsg triggers a session status poll; the form handshake rides on
// the same polling loop the HTTP dashboard uses.
type pollMsg struct{}

const pollInterval = 200 * time.Millisecond

// Model is the root Bubble Tea model for the terminal dashboard.
type Model struct {
	sess        *session.Session
	tasksPane   TasksPaneModel
	feedPane    FeedPaneModel
	formPane    FormPaneModel
	focusedPane PaneID
	eventSub    <-chan events.Event
	status      session.Status
	width       int
	height      int
	quitting    bool
}

// New creates the dashboard model, subscribed to all pipeline events.
func New(sess *session.Session, bus *events.Bus) Model {
	return Model{
		sess:        sess,
		tasksPane:   NewTasksPaneModel(),
		feedPane:    NewFeedPaneModel(),
		formPane:    NewFormPaneModel(),
		focusedPane: PaneFeed,
		eventSub:    bus.SubscribeAll(256),
	}
}

// Init starts the event wait and the status polling loop.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.eventSub), pollTick())
}

func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

func pollTick() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// The form is modal while questions are pending.
		if m.formPane.IsVisible() {
			if msg.String() == KeyCtrlC {
				m.quitting = true
				return m, tea.Quit
			}
			var cmd tea.Cmd
			m.formPane, cmd = m.formPane.Update(msg)
			return m, cmd
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			m.sess.Stop()
			return m, tea.Quit

		case KeyTab, KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % 2
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneFeed
			m.updateFocusStates()

		default:
			switch m.focusedPane {
			case PaneTasks:
				var cmd tea.Cmd
				m.tasksPane, cmd = m.tasksPane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneFeed:
				var cmd tea.Cmd
				m.feedPane, cmd = m.feedPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case pollMsg:
		m.status = m.sess.Status()
		if len(m.status.PendingQuestions) > 0 && !m.formPane.IsVisible() {
			cmds = append(cmds, m.formPane.Open(m.status.PendingQuestions, m.status.PendingUnderstanding))
		}
		cmds = append(cmds, pollTick())

	case answersMsg:
		m.sess.SubmitAnswers(msg.answers)

	case events.TaskStartedEvent, events.TaskCompletedEvent, events.TaskFailedEvent:
		var cmd tea.Cmd
		m.tasksPane, cmd = m.tasksPane.Update(msg)
		cmds = append(cmds, cmd)
		m.feedPane, cmd = m.feedPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case events.ModeChangedEvent, events.GateEvaluatedEvent, events.EscalationRaisedEvent, events.RunFinishedEvent:
		var cmd tea.Cmd
		m.feedPane, cmd = m.feedPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	default:
		// The Huh form drives itself with internal messages.
		if m.formPane.IsVisible() {
			var cmd tea.Cmd
			m.formPane, cmd = m.formPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.formPane.IsVisible() {
		return m.formPane.View()
	}

	left := m.tasksPane.View()
	right := m.feedPane.View()
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	return lipgloss.JoinVertical(lipgloss.Left, m.headerView(), mainContent, HelpView())
}

// headerView renders the one-line run summary.
func (m Model) headerView() string {
	mode := "idle"
	detail := ""
	if m.status.State != nil {
		mode = string(m.status.State.CurrentMode)
		detail = fmt.Sprintf("  %d done / %d failed",
			len(m.status.State.CompletedTasks), len(m.status.State.FailedTasks))
	}
	running := ""
	if m.status.Running {
		running = StyleStatusRunning.Render(" ●")
	}
	errText := ""
	if m.status.Error != "" {
		errText = "  " + StyleStatusFailed.Render(m.status.Error)
	}
	return StyleTitle.Render("braindock") + "  " + StyleMode.Render(mode) + running + detail + errText
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 35) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 2

	m.tasksPane.SetSize(leftWidth, availableHeight)
	m.feedPane.SetSize(rightWidth, availableHeight)
	m.formPane.SetSize(m.width, m.height)
	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.tasksPane.SetFocused(m.focusedPane == PaneTasks)
	m.feedPane.SetFocused(m.focusedPane == PaneFeed)
}
