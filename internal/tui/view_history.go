package tui

import (
	"fmt"
	"strings"

	"sentinal/internal/model"

	"github.com/charmbracelet/lipgloss"
)

const previewLen = 200

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39")).
			PaddingBottom(1)

	eventStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("252"))

	badgeStyles = map[string]lipgloss.Style{
		"Interested":     lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		"Not Interested": lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		"Needs Info":     lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
)

func historyHeader(e model.TrackedEntity) string {
	return headerStyle.Render(fmt.Sprintf("To: %s <%s>\nSubject: %s\nStatus: %s  (%d/%d follow-ups)",
		e.RecipientName, e.RecipientEmail, e.Subject, e.Status.Label(), e.FollowUpCount, model.MaxFollowUps))
}

// renderHistory lists a lead's events oldest first.
func renderHistory(e model.TrackedEntity) string {
	var b strings.Builder
	b.WriteString(historyHeader(e))
	b.WriteString("\n\n")
	for _, h := range e.History {
		b.WriteString(eventStyle.Render(fmt.Sprintf("%s  %s", eventLabel(h.Kind), h.Time().Format("Jan 2, 2006 15:04"))))
		if h.Kind == model.EventReply && h.Sentiment != "" {
			b.WriteString("  ")
			b.WriteString(sentimentBadge(h.Sentiment))
		}
		b.WriteString("\n")
		if h.Summary != "" {
			b.WriteString("  " + h.Summary + "\n")
		}
		b.WriteString("  " + preview(h.Content) + "\n\n")
	}
	return b.String()
}

func eventLabel(k model.EventKind) string {
	switch k {
	case model.EventInitial:
		return "Sent"
	case model.EventFollowUp:
		return "Follow-up"
	case model.EventReply:
		return "Reply"
	}
	return string(k)
}

func sentimentBadge(sentiment string) string {
	style, ok := badgeStyles[sentiment]
	if !ok {
		style = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	}
	return style.Render("[" + sentiment + "]")
}

// preview flattens whitespace and cuts content to previewLen runes.
func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}

func historyFooter(e model.TrackedEntity) string {
	keys := []string{}
	switch e.Status {
	case model.StatusWaiting:
		keys = append(keys, "r: log reply", "t: force 24h elapsed")
	case model.StatusNeedsFollowUp:
		keys = append(keys, "f: follow up", "r: log reply")
	}
	if e.ThreadID != "" {
		keys = append(keys, "o: open in gmail")
	}
	keys = append(keys, "d: delete", "esc: back")
	return footerStyle.Render(strings.Join(keys, "  "))
}
