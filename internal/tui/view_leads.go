package tui

import (
	"fmt"
	"strings"
	"time"

	"sentinal/internal/model"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"
)

// leadItem wraps TrackedEntity to customize list display.
type leadItem struct {
	model.TrackedEntity
}

func (l leadItem) FilterValue() string {
	return l.RecipientName + " " + l.RecipientEmail + " " + l.Subject
}

func (l leadItem) Title() string {
	indicator := "  "
	switch l.Status {
	case model.StatusNeedsFollowUp:
		indicator = "! "
	case model.StatusReplied:
		indicator = "✓ "
	case model.StatusDiscarded:
		indicator = "x "
	}
	return fmt.Sprintf("%s%s <%s>", indicator, l.RecipientName, l.RecipientEmail)
}
func (l leadItem) Description() string {
	return fmt.Sprintf("%s · %s · %d/%d follow-ups · %s",
		l.Status.Label(), l.Subject, l.FollowUpCount, model.MaxFollowUps, ago(l.LastActivity()))
}

type tab struct {
	label  string
	status model.Status
}

var tabs = []tab{
	{"All", ""},
	{"Waiting", model.StatusWaiting},
	{"Alerts", model.StatusNeedsFollowUp},
	{"Replied", model.StatusReplied},
	{"Discarded", model.StatusDiscarded},
}

var (
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241")).
			PaddingTop(1)

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("39"))

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true).
			Foreground(lipgloss.Color("39"))

	tabStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	alertStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208")).
			Bold(true)
)

func statsHeader(s model.DashboardStats, connected bool, lastSync time.Time) string {
	conn := "offline"
	if connected {
		conn = "gmail connected"
	}
	synced := "never synced"
	if !lastSync.IsZero() {
		synced = "synced " + ago(lastSync)
	}
	alerts := fmt.Sprintf("%d follow-ups needed", s.FollowUpsNeeded)
	if s.FollowUpsNeeded > 0 {
		alerts = alertStyle.Render(alerts)
	}
	return titleStyle.Render("Sentinal") + "  " +
		fmt.Sprintf("%d active  %s  %d replied  %d discarded  (%d total)", s.Active, alerts, s.Replied, s.Discarded, s.Total) +
		"  " + tabStyle.Render("["+conn+", "+synced+"]")
}

func tabBar(active int) string {
	parts := make([]string, len(tabs))
	for i, t := range tabs {
		label := fmt.Sprintf("%d %s", i+1, t.label)
		if i == active {
			parts[i] = activeTabStyle.Render(label)
		} else {
			parts[i] = tabStyle.Render(label)
		}
	}
	return strings.Join(parts, "   ")
}

func leadsFooter(connected bool) string {
	auth := "g: connect gmail"
	if connected {
		auth = "x: disconnect"
	}
	return footerStyle.Render("enter: open  a: add  s: sync  tab: filter  " + auth + "  c: settings  q: quit")
}

func leadsToItems(entities []model.TrackedEntity) []list.Item {
	items := make([]list.Item, len(entities))
	for i, e := range entities {
		items[i] = leadItem{e}
	}
	return items
}

// ago renders a coarse relative time.
func ago(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2, 2006")
	}
}
