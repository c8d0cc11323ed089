package ui

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/recera/livetag/pkg/live"
)

// Style definitions
var (
	// Colors
	primaryColor = lipgloss.Color("#3b82f6")
	successColor = lipgloss.Color("#10b981")
	warningColor = lipgloss.Color("#f59e0b")
	errorColor   = lipgloss.Color("#ef4444")
	mutedColor   = lipgloss.Color("#94a3b8")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor)

	mutedStyle = lipgloss.NewStyle().
			Foreground(mutedColor)

	screenStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	gestureStyle = lipgloss.NewStyle().
			Foreground(primaryColor)

	controlStyle = lipgloss.NewStyle().
			Foreground(warningColor)

	errorStyle = lipgloss.NewStyle().
			Foreground(errorColor).
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(primaryColor).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(mutedColor)
)

// Frame is one message received from a device
type Frame struct {
	Session string
	Event   string
	Raw     []byte
	At      time.Time
}

// RenderFrame formats a frame as a single styled line
func RenderFrame(f Frame) string {
	stamp := mutedStyle.Render(f.At.Format("15:04:05.000"))
	session := mutedStyle.Render("[" + shortToken(f.Session) + "]")

	var tag string
	switch f.Event {
	case live.EventScreen:
		tag = screenStyle.Render("screen ")
	case live.EventGesture:
		tag = gestureStyle.Render("gesture")
	case live.EventApp:
		tag = titleStyle.Render("app    ")
	case live.EventAskingForLive:
		tag = controlStyle.Render("beacon ")
	case "":
		tag = errorStyle.Render("invalid")
	default:
		tag = controlStyle.Render(fmt.Sprintf("%-7s", f.Event))
	}

	return fmt.Sprintf("%s %s %s %s", stamp, session, tag, summarize(f.Raw))
}

// summarize extracts the interesting fields of a frame's payload
func summarize(raw []byte) string {
	msg, err := live.Decode(raw)
	if err != nil {
		return mutedStyle.Render(truncate(string(raw), 80))
	}

	var parts []string
	for _, key := range []string{"type", "method", "className", "title", "name"} {
		if v, ok := msg.Data[key]; ok {
			if s := fmt.Sprint(v); s != "" {
				parts = append(parts, key+"="+s)
			}
		}
	}
	if screen, ok := msg.Data["screen"].(map[string]interface{}); ok {
		if class, ok := screen["className"].(string); ok {
			parts = append(parts, "screen="+class)
		}
	}
	if len(parts) == 0 {
		data, _ := json.Marshal(msg.Data)
		return mutedStyle.Render(truncate(string(data), 80))
	}
	return strings.Join(parts, " ")
}

func shortToken(token string) string {
	if len(token) > 8 {
		return token[:8]
	}
	return token
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
