package preview

import (
	"fmt"
	"strings"

	"texclaw/pkg/latex"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const mouseScrollLines = 3

// evaluation is what the pipeline made of one input line.
type evaluation struct {
	input    string
	steps    []latex.Step
	result   latex.Result
	bypassed bool
	err      error
}

func evaluate(pipeline *latex.Pipeline, rules latex.Rules, input string) evaluation {
	eval := evaluation{input: input}
	if input == "" {
		return eval
	}

	bypassed, err := pipeline.Bypassed(input)
	if err != nil {
		eval.err = err
		return eval
	}
	eval.bypassed = bypassed

	if eval.steps, err = pipeline.Trace(input, rules); err != nil {
		eval.err = err
		return eval
	}
	if eval.result, err = pipeline.Convert(input, rules); err != nil {
		eval.err = err
	}

	return eval
}

type model struct {
	pipeline *latex.Pipeline
	rules    RulesFunc

	theme     theme
	input     textinput.Model
	viewport  viewport.Model
	current   evaluation
	pinned    []evaluation
	width     int
	height    int
	isReady   bool
	followLog bool
}

func newModel(pipeline *latex.Pipeline, rules RulesFunc) *model {
	in := textinput.New()
	in.Prompt = ""
	in.Placeholder = "Type math like sqrt(x)/2 or alpha^2 ..."
	in.Focus()
	in.CharLimit = 0

	return &model{
		pipeline:  pipeline,
		rules:     rules,
		theme:     defaultTheme(),
		input:     in,
		viewport:  viewport.New(80, 12),
		width:     100,
		height:    28,
		followLog: true,
	}
}

func (m *model) Init() tea.Cmd {
	return textinput.Blink
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.resizeComponents()
		m.refreshViewport(false)
		m.isReady = true
		return m, nil
	case tea.MouseMsg:
		m.handleViewportMouse(typed)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			m.pin()
			return m, nil
		}

		if m.handleViewportKey(typed) {
			return m, nil
		}
	}

	var cmd tea.Cmd
	previous := m.input.Value()
	m.input, cmd = m.input.Update(msg)
	if value := m.input.Value(); value != previous {
		m.current = evaluate(m.pipeline, m.rules(), value)
		m.refreshViewport(true)
	}

	return m, cmd
}

// pin keeps the current evaluation in the scrollback and clears the input.
func (m *model) pin() {
	if m.current.input == "" {
		return
	}

	m.pinned = append(m.pinned, m.current)
	m.current = evaluation{}
	m.input.SetValue("")
	m.refreshViewport(true)
}

func (m *model) View() string {
	if !m.isReady {
		m.resizeComponents()
		m.refreshViewport(false)
	}

	header := m.theme.header.Width(m.width - 2).Render("🧮 texclaw Render Preview")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"grammar:%s · rules on:%d/%d · endpoint:%s",
		m.pipeline.Grammar(),
		enabledCount(m.rules()),
		len(latex.KnownRules()),
		m.pipeline.Encoder().Endpoint,
	))
	line := m.theme.divider.Width(m.width - 2).Render(strings.Repeat("═", max(8, m.width-2)))
	status := m.theme.status.Render("💡 Enter pin  ·  PgUp/PgDn scroll  ·  🛑 Ctrl+C/Esc quit")

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		meta,
		line,
		m.theme.viewport.Width(m.width-2).Render(m.viewport.View()),
		status,
		m.theme.inputLabel.Render("✏️  Message"),
		m.theme.input.Width(m.width-2).Render(m.input.View()),
	)
}

func (m *model) resizeComponents() {
	w := max(50, m.width-6)
	h := max(8, m.height-10)

	m.viewport.Width = w
	m.viewport.Height = h
	m.input.Width = w - 2
}

func (m *model) refreshViewport(forceBottom bool) {
	previousOffset := m.viewport.YOffset

	sections := make([]string, 0, len(m.pinned)+1)
	for _, eval := range m.pinned {
		sections = append(sections, m.renderCard(
			m.theme.pinnedTitle.Render("▛▚ [PINNED] ▞▜"),
			m.theme.pinnedBox.Width(m.viewport.Width).Render(m.renderEvaluation(eval)),
		))
	}
	if m.current.input != "" {
		title, box := m.theme.resultTitle, m.theme.resultBox
		if m.current.err != nil {
			title, box = m.theme.errorTitle, m.theme.errorBox
		}
		sections = append(sections, m.renderCard(
			title.Render("▛▚ [LIVE] ▞▜"),
			box.Width(m.viewport.Width).Render(m.renderEvaluation(m.current)),
		))
	}

	m.viewport.SetContent(strings.Join(sections, "\n\n"))
	if m.followLog || forceBottom {
		m.viewport.GotoBottom()
		m.followLog = true
		return
	}

	maxOffset := max(0, m.viewport.TotalLineCount()-m.viewport.Height)
	m.viewport.SetYOffset(min(previousOffset, maxOffset))
}

func (m *model) renderEvaluation(eval evaluation) string {
	lines := []string{m.theme.hint.Render("input") + "  " + eval.input}

	if eval.err != nil {
		lines = append(lines, "", "conversion failed, message is sent as typed:", eval.err.Error())
		return strings.Join(lines, "\n")
	}
	if eval.bypassed {
		lines = append(lines, "", m.theme.hint.Render("contains a link, sent unchanged"))
		return strings.Join(lines, "\n")
	}

	for _, step := range eval.steps {
		label := m.theme.stageTitle
		text := step.Text
		switch {
		case step.Skipped:
			label = m.theme.stageSkipped
			text = "(off)"
		case step.Changed:
			label = m.theme.stageChanged
		}
		lines = append(lines, label.Render(string(step.Stage))+m.theme.stageText.Render(text))
	}

	lines = append(lines, "")
	if eval.result.Rewritten {
		lines = append(lines, m.theme.hint.Render("latex")+"  "+eval.result.LaTeX, m.theme.hint.Render("url")+"    "+eval.result.URL)
	} else {
		lines = append(lines, m.theme.hint.Render("no math found, sent unchanged"))
	}

	return strings.Join(lines, "\n")
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func (m *model) handleViewportKey(msg tea.KeyMsg) bool {
	switch msg.String() {
	case "pgup", "ctrl+b", "alt+up", "ctrl+up":
		m.viewport.PageUp()
		m.followLog = false
		return true
	case "pgdown", "ctrl+f", "alt+down", "ctrl+down":
		m.viewport.PageDown()
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func (m *model) handleViewportMouse(msg tea.MouseMsg) bool {
	if msg.Action != tea.MouseActionPress {
		return false
	}

	switch msg.Button {
	case tea.MouseButtonWheelUp:
		m.viewport.ScrollUp(mouseScrollLines)
		m.followLog = false
		return true
	case tea.MouseButtonWheelDown:
		m.viewport.ScrollDown(mouseScrollLines)
		if m.viewport.AtBottom() {
			m.followLog = true
		}
		return true
	default:
		return false
	}
}

func enabledCount(rules latex.Rules) int {
	count := 0
	for _, id := range latex.KnownRules() {
		if rules.Enabled(id) {
			count++
		}
	}

	return count
}
