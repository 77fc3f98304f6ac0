package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ---------- messages sent from the chat goroutine via program.Send() ----------

type readInputMsg struct{}

type inputResult struct {
	text string
	err  error
}

type userMsg struct{ text string }
type thinkingStartMsg struct{}
type textDeltaMsg struct{ delta string }
type textDoneMsg struct{ fullText string }
type systemMsg struct{ text string }
type errorMsg struct{ text string }
type tokensMsg struct{ used, limit int }
type chatDoneMsg struct{ err error }

// ---------- styles ----------

var (
	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	systemStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			Italic(true)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	spinnerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")) // gray spinner
)

// TUIConfig carries the static bits shown in the status bar.
type TUIConfig struct {
	Model        string
	Conversation string
}

// ---------- Model ----------

const statusBarHeight = 1
const inputHeight = 1

// Model is the bubbletea model managing the full TUI state.
type Model struct {
	viewport  viewport.Model
	textinput textinput.Model
	spinner   spinner.Model
	width     int
	height    int

	content     *strings.Builder // accumulated output, shared across model copies
	streaming   bool             // text deltas are arriving
	streamStart int              // byte offset in content where current stream began
	inputMode   bool             // text input is active (waiting for user)
	thinking    bool             // request sent, no text yet

	inputCh chan inputResult // send user input back to ReadInput()

	// cancelLoopFn interrupts the in-flight turn (Ctrl+C while answering).
	cancelLoopFn func() bool

	quitting bool

	// status bar
	cfg         TUIConfig
	tokensUsed  int
	tokensLimit int
}

// NewModel creates the initial bubbletea model.
func NewModel(inputCh chan inputResult, cfg TUIConfig) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.CharLimit = 16384

	vp := viewport.New(defaultWidth, 24)

	sp := spinner.New()
	sp.Spinner = spinner.Globe
	sp.Style = spinnerStyle

	return Model{
		viewport:  vp,
		textinput: ti,
		spinner:   sp,
		content:   &strings.Builder{},
		inputCh:   inputCh,
		cfg:       cfg,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spinner.Tick)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := m.height - statusBarHeight - inputHeight
		if vpHeight < 1 {
			vpHeight = 1
		}
		m.viewport.Width = m.width
		m.viewport.Height = vpHeight
		m.textinput.Width = m.width - 4 // account for prompt

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		cmds = append(cmds, cmd)

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			// While answering, Ctrl+C only stops the answer.
			if !m.inputMode && m.cancelLoopFn != nil && m.cancelLoopFn() {
				m.thinking = false
				return m, nil
			}
			if m.inputMode {
				m.inputCh <- inputResult{err: io.EOF}
				m.inputMode = false
				m.textinput.Blur()
			}
			m.quitting = true
			return m, tea.Quit
		case "enter":
			if m.inputMode {
				text := strings.TrimSpace(m.textinput.Value())
				m.textinput.SetValue("")
				m.inputCh <- inputResult{text: text}
				m.inputMode = false
				m.textinput.Blur()
			}
			return m, nil
		}

		if m.inputMode {
			var cmd tea.Cmd
			m.textinput, cmd = m.textinput.Update(msg)
			cmds = append(cmds, cmd)
		}

	// ---------- custom messages from the chat goroutine ----------

	case readInputMsg:
		m.inputMode = true
		m.textinput.Focus()
		cmds = append(cmds, textinput.Blink)

	case userMsg:
		m.appendLine(userStyle.Render("You: " + msg.text))

	case thinkingStartMsg:
		m.thinking = true
		m.streaming = false

	case textDeltaMsg:
		m.thinking = false
		if !m.streaming {
			// Record where this response starts so TextDone can replace it
			m.streamStart = m.content.Len()
			m.streaming = true
		}
		m.content.WriteString(msg.delta)

	case textDoneMsg:
		m.thinking = false
		if !m.streaming {
			m.streamStart = m.content.Len()
		}
		m.replaceStreamWithMarkdown(msg.fullText)
		m.streaming = false

	case systemMsg:
		m.thinking = false
		m.endStream()
		m.appendLine(systemStyle.Render(msg.text))

	case errorMsg:
		m.thinking = false
		m.endStream()
		m.appendLine(errorStyle.Render("Error: " + msg.text))

	case tokensMsg:
		m.tokensUsed, m.tokensLimit = msg.used, msg.limit

	case chatDoneMsg:
		m.quitting = true
		return m, tea.Quit
	}

	// Update viewport
	m.viewport.SetContent(m.renderContent())
	m.viewport.GotoBottom()

	var vpCmd tea.Cmd
	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	bar := statusBarStyle.Width(m.width).Render(m.statusLine())

	var input string
	if m.inputMode {
		input = m.textinput.View()
	}
	return m.viewport.View() + "\n" + bar + "\n" + input
}

// statusLine shows the model, conversation name and token usage.
func (m Model) statusLine() string {
	parts := []string{}
	if m.cfg.Model != "" {
		parts = append(parts, m.cfg.Model)
	}
	if m.cfg.Conversation != "" {
		parts = append(parts, m.cfg.Conversation)
	}
	if m.tokensLimit > 0 {
		parts = append(parts, fmt.Sprintf("tokens: %d/%d", m.tokensUsed, m.tokensLimit))
	} else {
		parts = append(parts, fmt.Sprintf("tokens: %d", m.tokensUsed))
	}
	return " " + strings.Join(parts, " | ")
}

// renderContent returns the viewport content plus the spinner line, which is
// not persisted in the content builder.
func (m *Model) renderContent() string {
	base := m.content.String()
	if m.thinking {
		return base + "\n" + m.spinner.View() + " Thinking..."
	}
	return base
}

// replaceStreamWithMarkdown replaces the raw streamed text (from streamStart
// to end of content) with glamour-rendered markdown.
func (m *Model) replaceStreamWithMarkdown(fullText string) {
	rendered := renderMarkdown(fullText, m.width)
	before := m.content.String()[:m.streamStart]
	m.content.Reset()
	m.content.WriteString(before)
	m.content.WriteString(rendered)
	m.content.WriteString("\n")
}

// endStream terminates a partially streamed answer (e.g. after
// cancellation) so following lines start fresh.
func (m *Model) endStream() {
	if !m.streaming {
		return
	}
	m.streaming = false
	if s := m.content.String(); len(s) > 0 && s[len(s)-1] != '\n' {
		m.content.WriteString("\n")
	}
}

func (m *Model) appendLine(text string) {
	m.content.WriteString(text)
	m.content.WriteString("\n")
}
