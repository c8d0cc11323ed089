package ui

import (
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// maxFrames bounds the scrollback kept in memory
const maxFrames = 500

// Controller answers device pairing requests
type Controller interface {
	Accept(token string)
	Stop(token string)
	Refuse(token string)
}

// SessionMsg reports a device (re)connecting
type SessionMsg struct {
	Token string
}

// Model is the listen view: a header, the frame log and a help line
type Model struct {
	width  int
	height int

	keys     KeyMap
	help     help.Model
	log      viewport.Model
	address  string
	control  Controller
	frames   []Frame
	sessions []string
	selected int
	status   string
	quitting bool
}

// NewModel creates the listen view
func NewModel(address string, control Controller) Model {
	keys := DefaultKeyMap
	keys.pairingEnabled(false)

	h := help.New()
	h.Styles.ShortKey = titleStyle
	h.Styles.ShortDesc = helpStyle
	h.Styles.ShortSeparator = mutedStyle

	return Model{
		keys:    keys,
		help:    h,
		log:     viewport.New(80, 20),
		address: address,
		control: control,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resize()

	case SessionMsg:
		if !m.hasSession(msg.Token) {
			m.sessions = append(m.sessions, msg.Token)
			sort.Strings(m.sessions)
		}
		m.keys.pairingEnabled(true)
		m.status = "device connected: " + msg.Token
		m.resize()

	case Frame:
		m.frames = append(m.frames, msg)
		if len(m.frames) > maxFrames {
			m.frames = m.frames[len(m.frames)-maxFrames:]
		}
		m.refreshLog()

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Next):
		m.selected = (m.selected + 1) % len(m.sessions)

	case key.Matches(msg, m.keys.Prev):
		m.selected = (m.selected + len(m.sessions) - 1) % len(m.sessions)

	case key.Matches(msg, m.keys.Accept), key.Matches(msg, m.keys.Stop), key.Matches(msg, m.keys.Refuse):
		token, ok := m.Selected()
		if !ok || m.control == nil {
			m.status = "no device connected"
			return m, nil
		}
		switch {
		case key.Matches(msg, m.keys.Accept):
			m.control.Accept(token)
			m.status = "accepted " + token
		case key.Matches(msg, m.keys.Stop):
			m.control.Stop(token)
			m.status = "stopped " + token
		default:
			m.control.Refuse(token)
			m.status = "refused " + token
		}

	case key.Matches(msg, m.keys.Clear):
		m.frames = nil
		m.refreshLog()

	default:
		// Scrolling keys go to the frame log
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	}
	return m, nil
}

// refreshLog re-renders the frame log, following the tail unless the user
// scrolled up
func (m *Model) refreshLog() {
	follow := m.log.AtBottom()
	lines := make([]string, len(m.frames))
	for i, f := range m.frames {
		lines[i] = RenderFrame(f)
	}
	m.log.SetContent(strings.Join(lines, "\n"))
	if follow {
		m.log.GotoBottom()
	}
}

// resize fits the frame log between header and footer
func (m *Model) resize() {
	if m.width == 0 || m.height == 0 {
		return
	}
	room := m.height - lipgloss.Height(m.header()) - 2
	if room < 1 {
		room = 1
	}
	m.log.Width = m.width
	m.log.Height = room
	m.refreshLog()
}

// Selected returns the token of the highlighted device
func (m Model) Selected() (string, bool) {
	if len(m.sessions) == 0 {
		return "", false
	}
	return m.sessions[m.selected], true
}

// Frames returns the frames currently held by the view
func (m Model) Frames() []Frame {
	return m.frames
}

// HelpView renders the footer from the enabled key bindings
func (m Model) HelpView() string {
	return m.help.View(m.keys)
}

func (m Model) hasSession(token string) bool {
	for _, s := range m.sessions {
		if s == token {
			return true
		}
	}
	return false
}

func (m Model) header() string {
	var devices []string
	for i, s := range m.sessions {
		if i == m.selected {
			devices = append(devices, titleStyle.Render("▸ "+shortToken(s)))
		} else {
			devices = append(devices, mutedStyle.Render("  "+shortToken(s)))
		}
	}
	if len(devices) == 0 {
		devices = append(devices, mutedStyle.Render("waiting for devices…"))
	}

	return headerStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("livetag")+" "+mutedStyle.Render("listening on "+m.address),
		strings.Join(devices, "  "),
	))
}

// View implements tea.Model
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	status := ""
	if m.status != "" {
		status = mutedStyle.Render(m.status)
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		m.header(),
		m.log.View(),
		status,
		m.HelpView(),
	)
}
