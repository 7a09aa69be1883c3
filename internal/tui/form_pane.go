package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/braindock/braindock/internal/agents"
)

// answersMsg carries the completed answer set out of the form.
type answersMsg struct {
	answers map[string]string
}

// FormPaneModel is the modal question form shown while the pipeline
// blocks on the operator. It wraps a Huh form built from the pending
// question set: fixed-choice questions become selects, free-text
// questions become inputs.
type FormPaneModel struct {
	understanding string
	questions     []agents.Question
	form          *huh.Form
	width         int
	height        int
	visible       bool
}

// NewFormPaneModel creates a hidden form.
func NewFormPaneModel() FormPaneModel {
	return FormPaneModel{}
}

// Open populates the form with a fresh question set and shows it.
func (m *FormPaneModel) Open(questions []agents.Question, understanding string) tea.Cmd {
	m.understanding = understanding
	m.questions = questions
	m.visible = true
	if len(questions) == 0 {
		// Nothing to answer; Enter acknowledges and submits empty.
		m.form = nil
		return nil
	}
	m.buildForm()
	return m.form.Init()
}

// buildForm constructs the Huh form from the pending questions.
func (m *FormPaneModel) buildForm() {
	fields := make([]huh.Field, 0, len(m.questions))
	for _, q := range m.questions {
		if len(q.Options) > 0 {
			opts := make([]huh.Option[string], 0, len(q.Options))
			for _, opt := range q.Options {
				opts = append(opts, huh.NewOption(opt, opt))
			}
			fields = append(fields,
				huh.NewSelect[string]().
					Key(q.ID).
					Title(q.Question).
					Description(q.Why).
					Options(opts...))
		} else {
			fields = append(fields,
				huh.NewInput().
					Key(q.ID).
					Title(q.Question).
					Description(q.Why).
					Placeholder("type an answer"))
		}
	}

	m.form = huh.NewForm(
		huh.NewGroup(fields...).
			Title("The pipeline needs your input").
			Description(m.understanding),
	)
	m.applySize()
}

// IsVisible reports whether the form is showing.
func (m FormPaneModel) IsVisible() bool { return m.visible }

// Update handles messages for the form.
func (m FormPaneModel) Update(msg tea.Msg) (FormPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	if m.form == nil {
		if key, ok := msg.(tea.KeyMsg); ok && key.String() == KeyEnter {
			m.visible = false
			return m, func() tea.Msg { return answersMsg{answers: map[string]string{}} }
		}
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		answers := make(map[string]string, len(m.questions))
		for _, q := range m.questions {
			answers[q.ID] = m.form.GetString(q.ID)
		}
		m.visible = false
		m.form = nil
		m.questions = nil
		return m, func() tea.Msg { return answersMsg{answers: answers} }
	}

	return m, cmd
}

// View renders the form full-screen.
func (m FormPaneModel) View() string {
	body := StyleTitle.Render("The pipeline needs your input") + "\n\nPress Enter to continue."
	if m.form != nil {
		body = m.form.View()
	}

	content := StyleFocusedBorder.
		Width(max(m.width-4, 20)).
		Render(body)
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, content)
}

// SetSize updates the form dimensions.
func (m *FormPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.applySize()
}

func (m *FormPaneModel) applySize() {
	if m.form != nil && m.width > 0 {
		m.form.WithWidth(m.width - 8).WithHeight(m.height - 6)
	}
}
