package tui

import (
	"fmt"
	"strings"

	bspinner "github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/BlocUnited-LLC/mozaiks-ai-sub004/pkg/chatwire"
)

// Sender carries user replies back to the server. *client.StreamClient
// satisfies it.
type Sender interface {
	SendInputResponse(requestID string, values map[string]string, text string) error
}

type toolEntry struct {
	id     string
	name   string
	input  string
	result string
	errMsg string
}

// Model is the terminal chat UI. Events arrive over a channel pump and are
// folded into a transcript; input requests surface as huh forms.
type Model struct {
	spinner  bspinner.Model
	viewport viewport.Model
	input    textarea.Model
	uiEvents <-chan chatwire.Event
	sender   Sender

	transcript []string
	live       map[string]string
	liveOrder  []string

	toolIndex   map[string]int
	toolEntries []toolEntry

	activeForm    *huh.Form
	formRequestID string
	formKeys      []string

	status      string
	isStreaming bool
	done        bool
	width       int

	renderer *glamour.TermRenderer
}

func NewModel(uiCh <-chan chatwire.Event, sender Sender) Model {
	sp := bspinner.New()
	sp.Spinner = bspinner.Line
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("63")).Bold(true)

	vp := viewport.New(80, 20)

	ta := textarea.New()
	ta.Placeholder = "Waiting for the workflow to ask for input…"
	ta.SetHeight(3)
	ta.Focus()

	return Model{
		spinner:   sp,
		viewport:  vp,
		input:     ta,
		uiEvents:  uiCh,
		sender:    sender,
		live:      map[string]string{},
		toolIndex: map[string]int{},
		width:     80,
	}
}

func waitForUIEvent(ch <-chan chatwire.Event) tea.Cmd {
	return func() tea.Msg {
		e, ok := <-ch
		if !ok {
			return nil
		}
		return e
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, textarea.Blink, waitForUIEvent(m.uiEvents))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.activeForm != nil {
		fm, cmd := m.activeForm.Update(msg)
		if f, ok := fm.(*huh.Form); ok {
			m.activeForm = f
		}
		if m.activeForm.State == huh.StateCompleted {
			m.submitForm()
		}
		if key, ok := msg.(tea.KeyMsg); ok && key.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, tea.Batch(cmd, waitForUIEvent(m.uiEvents))
	}

	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = ev.Width
		m.viewport.Width = ev.Width
		m.viewport.Height = maxInt(4, ev.Height-6)
		m.input.SetWidth(ev.Width - 2)
		m.renderer = nil
		m.refreshViewport()
		return m, nil
	case tea.KeyMsg:
		switch ev.String() {
		case "ctrl+c", "esc":
			return m, tea.Quit
		case "enter":
			text := strings.TrimSpace(m.input.Value())
			if text != "" && m.formRequestID != "" {
				m.answerPending(text)
			}
			m.input.Reset()
			return m, nil
		}
	case chatwire.Event:
		cmd := m.applyEvent(ev)
		return m, tea.Batch(cmd, waitForUIEvent(m.uiEvents))
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	m.spinner, cmd = m.spinner.Update(msg)
	cmds = append(cmds, cmd)
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

// applyEvent folds one chat event into the UI state.
func (m *Model) applyEvent(ev chatwire.Event) tea.Cmd {
	switch e := ev.(type) {
	case *chatwire.EventStream:
		m.isStreaming = true
		if _, ok := m.live[e.MessageID]; !ok {
			m.liveOrder = append(m.liveOrder, e.MessageID)
		}
		if e.Cumulative != "" {
			m.live[e.MessageID] = e.Cumulative
		} else {
			m.live[e.MessageID] += e.Delta
		}
		m.refreshViewport()
		return m.spinner.Tick
	case *chatwire.EventText:
		m.dropLive(e.MessageID)
		speaker := e.Metadata().Agent
		if speaker == "" {
			speaker = e.Role
		}
		m.transcript = append(m.transcript,
			agentStyle.Render(speaker+":")+"\n"+m.renderMarkdown(e.Content))
		m.isStreaming = len(m.live) > 0
		m.refreshViewport()
	case *chatwire.EventPrint:
		m.transcript = append(m.transcript, printStyle.Render(e.Message))
		m.refreshViewport()
	case *chatwire.EventToolCall:
		idx, ok := m.toolIndex[e.ToolCallID]
		if !ok {
			idx = len(m.toolEntries)
			m.toolIndex[e.ToolCallID] = idx
			m.toolEntries = append(m.toolEntries, toolEntry{id: e.ToolCallID})
		}
		m.toolEntries[idx].name = e.Name
		m.toolEntries[idx].input = e.Arguments
		m.status = "Tool: " + e.Name
		m.refreshViewport()
	case *chatwire.EventToolResponse:
		idx, ok := m.toolIndex[e.ToolCallID]
		if !ok {
			idx = len(m.toolEntries)
			m.toolIndex[e.ToolCallID] = idx
			m.toolEntries = append(m.toolEntries, toolEntry{id: e.ToolCallID})
		}
		m.toolEntries[idx].result = e.Content
		m.toolEntries[idx].errMsg = e.Error
		m.status = ""
		m.refreshViewport()
	case *chatwire.EventInputRequest:
		form, keys := buildInputForm(e)
		m.activeForm = form
		m.formRequestID = e.RequestID
		m.formKeys = keys
		return form.Init()
	case *chatwire.EventSelectSpeaker:
		form, keys := buildSpeakerForm(e)
		m.activeForm = form
		m.formRequestID = e.RequestID
		m.formKeys = keys
		return form.Init()
	case *chatwire.EventUITool:
		label := e.Component
		if label == "" {
			label = "unknown"
		}
		m.transcript = append(m.transcript, printStyle.Render("ui component: "+label))
		m.refreshViewport()
	case *chatwire.EventUsageSummary:
		m.status = fmt.Sprintf("tokens: %d  cost: $%.4f", e.TotalTokens, e.TotalCost)
	case *chatwire.EventArtifact:
		label := e.Title
		if label == "" {
			label = e.ArtifactID
		}
		m.transcript = append(m.transcript,
			printStyle.Render(fmt.Sprintf("artifact %s (%s): %s", label, e.Kind, e.Phase)))
		m.refreshViewport()
	case *chatwire.EventError:
		m.transcript = append(m.transcript, errorStyle.Render("Error: ")+e.Message)
		m.isStreaming = false
		m.refreshViewport()
	case *chatwire.EventResumeBoundary:
		m.transcript = append(m.transcript,
			printStyle.Render(fmt.Sprintf("-- resumed, %d events replayed --", e.ReplayedEvents)))
		m.refreshViewport()
	case *chatwire.EventEnd:
		m.done = true
		m.isStreaming = false
		m.status = "session " + e.Status
		m.refreshViewport()
		return tea.Quit
	}
	return nil
}

// submitForm collects completed form values and sends them upstream.
func (m *Model) submitForm() {
	values := map[string]string{}
	for _, key := range m.formKeys {
		values[key] = m.activeForm.GetString(key)
	}
	requestID := m.formRequestID
	m.activeForm = nil
	m.formRequestID = ""
	m.formKeys = nil

	if m.sender == nil {
		return
	}
	if err := m.sender.SendInputResponse(requestID, values, ""); err != nil {
		log.Error().Err(err).Str("request_id", requestID).Msg("failed to send input response")
		m.transcript = append(m.transcript, errorStyle.Render("Error: ")+err.Error())
		m.refreshViewport()
	}
}

// answerPending sends free text typed into the textarea as the reply to the
// most recent input request.
func (m *Model) answerPending(text string) {
	if m.sender == nil {
		return
	}
	if err := m.sender.SendInputResponse(m.formRequestID, nil, text); err != nil {
		log.Error().Err(err).Msg("failed to send text reply")
		return
	}
	m.formRequestID = ""
}

func (m *Model) dropLive(messageID string) {
	delete(m.live, messageID)
	for i, id := range m.liveOrder {
		if id == messageID {
			m.liveOrder = append(m.liveOrder[:i], m.liveOrder[i+1:]...)
			break
		}
	}
}

func (m *Model) refreshViewport() {
	var b strings.Builder
	for _, line := range m.transcript {
		b.WriteString(line)
		b.WriteString("\n")
	}
	if lines := m.renderToolLines(); lines != "" {
		b.WriteString(lines)
		b.WriteString("\n")
	}
	for _, id := range m.liveOrder {
		b.WriteString(jsonStyle.Render(m.live[id]))
		b.WriteString("\n")
	}
	m.viewport.SetContent(b.String())
	m.viewport.GotoBottom()
}

// renderToolLines composes a compact line per tool call across call and
// response.
func (m *Model) renderToolLines() string {
	if len(m.toolEntries) == 0 {
		return ""
	}
	var out []string
	for _, e := range m.toolEntries {
		name := e.name
		if name == "" {
			name = e.id
		}
		parts := []string{toolNameStyle.Render("→ " + name)}
		if e.input != "" {
			parts = append(parts, jsonStyle.Render(e.input))
		}
		if e.errMsg != "" {
			parts = append(parts, errorStyle.Render("← "+e.errMsg))
		} else if e.result != "" {
			parts = append(parts, jsonStyle.Render("← "+e.result))
		}
		out = append(out, strings.Join(parts, "  "))
	}
	return strings.Join(out, "\n")
}

func (m *Model) renderMarkdown(content string) string {
	if m.renderer == nil {
		r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(maxInt(20, m.width-4)),
		)
		if err != nil {
			return content
		}
		m.renderer = r
	}
	rendered, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(rendered, "\n")
}

func (m Model) View() string {
	if m.activeForm != nil {
		return m.activeForm.View()
	}

	header := headerStyle.Render("mozaiks chat")
	if m.isStreaming {
		header += "  " + m.spinner.View()
	}
	if m.status != "" {
		header += "  " + statusStyle.Render(m.status)
	}

	footer := m.input.View()
	if m.done {
		footer = hintStyle.Render("session ended")
	}
	return header + "\n" + m.viewport.View() + "\n" + footer
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
