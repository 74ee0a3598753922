package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"relay/internal/app"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type chatMessage struct {
	Role    string // you|relay|system
	Content string
	Time    time.Time
}

type responseMsg struct{ resp app.AgentResponse }

type spinMsg struct{}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// routeInfo is the last classification outcome shown in the footer.
type routeInfo struct {
	Type       app.InputType
	Confidence float64
	Method     app.Method
	Duration   time.Duration
}

type MainModel struct {
	application *app.Application
	mockMode    bool
	theme       Theme

	width  int
	height int
	ready  bool

	messages []chatMessage
	input    textarea.Model
	chatVP   viewport.Model

	running    bool
	spinnerPos int
	cancel     context.CancelFunc

	lastRoute *routeInfo

	// Input recall: past submissions, newest last. histIdx is -1 while not
	// navigating; draft holds the in-progress input during recall.
	inputHist []string
	histIdx   int
	draft     string
}

func newInputArea() textarea.Model {
	ta := textarea.New()
	ta.Placeholder = "Type a request, /help for commands. Enter sends."
	ta.Focus()
	ta.CharLimit = 8000
	ta.SetHeight(1)
	ta.Prompt = " "
	ta.ShowLineNumbers = false
	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.BlurredStyle.CursorLine = lipgloss.NewStyle()
	return ta
}

func New(application *app.Application, mockMode bool) *MainModel {
	m := &MainModel{
		application: application,
		mockMode:    mockMode,
		theme:       NewTheme(),
		input:       newInputArea(),
		histIdx:     -1,
	}
	if sess := application.Store.CurrentSession(); sess != nil {
		m.inputHist = recentInputs(sess)
	}
	m.messages = append(m.messages, chatMessage{
		Role:    "system",
		Content: "Session started. Input is routed to a command, prompt, or workflow handler.",
		Time:    time.Now(),
	})
	return m
}

func (m *MainModel) Init() tea.Cmd {
	return textarea.Blink
}

func (m *MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case "esc":
			if m.running && m.cancel != nil {
				m.cancel()
			}
			return m, nil
		case "enter":
			if m.running {
				return m, nil
			}
			return m, m.submit()
		case "up":
			if m.recallOlder() {
				return m, nil
			}
		case "down":
			if m.recallNewer() {
				return m, nil
			}
		}

	case responseMsg:
		m.running = false
		m.cancel = nil
		m.lastRoute = &routeInfo{
			Type:       msg.resp.Type,
			Confidence: msg.resp.Confidence,
			Method:     msg.resp.Method,
			Duration:   msg.resp.ExecutionTime,
		}
		role := "relay"
		content := msg.resp.Content
		if !msg.resp.Success {
			role = "system"
			if content == "" {
				content = msg.resp.Error
			}
		}
		m.messages = append(m.messages, chatMessage{Role: role, Content: content, Time: time.Now()})
		m.refreshChat()
		return m, nil

	case spinMsg:
		if !m.running {
			return m, nil
		}
		m.spinnerPos = (m.spinnerPos + 1) % len(spinnerFrames)
		return m, m.tick()
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *MainModel) submit() tea.Cmd {
	text := strings.TrimSpace(m.input.Value())
	if text == "" {
		return nil
	}
	m.input.Reset()
	m.inputHist = append(m.inputHist, text)
	m.histIdx = -1
	m.draft = ""
	m.messages = append(m.messages, chatMessage{Role: "you", Content: text, Time: time.Now()})
	m.refreshChat()
	m.running = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	orch := m.application.Orchestrator
	return tea.Batch(m.tick(), func() tea.Msg {
		defer cancel()
		return responseMsg{resp: orch.Process(ctx, text)}
	})
}

// recallOlder steps back through past inputs, stashing the current draft on
// first use. Reports whether the key was consumed.
func (m *MainModel) recallOlder() bool {
	if len(m.inputHist) == 0 {
		return false
	}
	if m.histIdx == -1 {
		m.draft = m.input.Value()
		m.histIdx = len(m.inputHist)
	}
	if m.histIdx == 0 {
		return true
	}
	m.histIdx--
	m.input.SetValue(m.inputHist[m.histIdx])
	return true
}

// recallNewer steps forward again, restoring the stashed draft past the end.
func (m *MainModel) recallNewer() bool {
	if m.histIdx == -1 {
		return false
	}
	m.histIdx++
	if m.histIdx >= len(m.inputHist) {
		m.histIdx = -1
		m.input.SetValue(m.draft)
		return true
	}
	m.input.SetValue(m.inputHist[m.histIdx])
	return true
}

// recentInputs seeds input recall from the session's user turns.
func recentInputs(sess *app.SessionData) []string {
	var out []string
	for _, e := range sess.ConversationHistory {
		if e.Type == app.EntryUserInput && strings.TrimSpace(e.Content) != "" {
			out = append(out, e.Content)
		}
	}
	return out
}

func (m *MainModel) tick() tea.Cmd {
	return tea.Tick(90*time.Millisecond, func(time.Time) tea.Msg { return spinMsg{} })
}

func (m *MainModel) resize() {
	if m.width <= 0 || m.height <= 0 {
		return
	}
	chatHeight := m.height - 7
	if chatHeight < 3 {
		chatHeight = 3
	}
	if !m.ready {
		m.chatVP = viewport.New(m.width-4, chatHeight)
		m.ready = true
	} else {
		m.chatVP.Width = m.width - 4
		m.chatVP.Height = chatHeight
	}
	m.input.SetWidth(m.width - 6)
	m.refreshChat()
}

func (m *MainModel) refreshChat() {
	if !m.ready {
		return
	}
	var b strings.Builder
	for i, msg := range m.messages {
		if i > 0 {
			b.WriteString("\n")
		}
		var label string
		switch msg.Role {
		case "you":
			label = m.theme.RoleYou.Render("you")
		case "relay":
			label = m.theme.RoleAI.Render("relay")
		default:
			label = m.theme.RoleSys.Render("system")
		}
		b.WriteString(label)
		b.WriteString("  ")
		b.WriteString(m.theme.TopBarMeta.Render(msg.Time.Format("15:04:05")))
		b.WriteString("\n")
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	m.chatVP.SetContent(b.String())
	m.chatVP.GotoBottom()
}

func (m *MainModel) View() string {
	if !m.ready {
		return "starting..."
	}

	title := m.theme.TopBarTitle.Render("relay")
	meta := ""
	if sess := m.application.Store.CurrentSession(); sess != nil {
		meta = m.theme.TopBarMeta.Render("session " + shortID(sess.ID))
	}
	badge := ""
	if m.mockMode {
		badge = m.theme.TopBarBadge.Render(" [mock]")
	}
	top := lipgloss.JoinHorizontal(lipgloss.Left, title, badge, "  ", meta)

	chat := m.theme.Pane.Width(m.width - 2).Render(m.chatVP.View())
	input := m.theme.InputBox.Width(m.width - 2).Render(m.input.View())

	status := "enter send · esc cancel · ctrl+c quit"
	if m.running {
		status = m.theme.Spinner.Render(spinnerFrames[m.spinnerPos]) + " working... esc cancels"
	} else if m.lastRoute != nil {
		status = fmt.Sprintf("%s %s  %s",
			m.theme.RouteBadge.Render("route:"),
			formatRoute(*m.lastRoute),
			status)
	}
	footer := m.theme.Footer.Render(status)

	return lipgloss.JoinVertical(lipgloss.Left, top, chat, input, footer)
}

func formatRoute(r routeInfo) string {
	return fmt.Sprintf("%s %.2f via %s in %s", r.Type, r.Confidence, r.Method, r.Duration.Round(time.Millisecond))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run starts the interactive session and flushes it on exit.
func Run(application *app.Application, userID string, mockMode bool) error {
	if application.Store.CurrentSession() == nil {
		application.Store.CreateSession(userID)
	}
	p := tea.NewProgram(New(application, mockMode), tea.WithAltScreen())
	_, err := p.Run()
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if saveErr := application.Store.SaveSession(saveCtx); saveErr != nil && err == nil {
		err = saveErr
	}
	return err
}
