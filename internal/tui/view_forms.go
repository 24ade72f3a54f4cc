package tui

import (
	"fmt"
	"strings"

	"sentinal/internal/model"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

var addLabels = []string{"Recipient name", "Recipient email", "Subject"}

func newAddInputs() []textinput.Model {
	placeholders := []string{"Jane Doe", "jane@company.com", "Project proposal"}
	inputs := make([]textinput.Model, len(placeholders))
	for i, p := range placeholders {
		ti := textinput.New()
		ti.Placeholder = p
		ti.CharLimit = 200
		inputs[i] = ti
	}
	return inputs
}

var settingsLabels = []string{"Google client id", "Gemini API key", "Sync interval"}

func newSettingsInputs() []textinput.Model {
	placeholders := []string{"xxxx.apps.googleusercontent.com", "leave empty to use GEMINI_API_KEY", "5m"}
	inputs := make([]textinput.Model, len(placeholders))
	for i, p := range placeholders {
		ti := textinput.New()
		ti.Placeholder = p
		inputs[i] = ti
	}
	inputs[1].EchoMode = textinput.EchoPassword
	return inputs
}

func newTextarea(placeholder string) textarea.Model {
	ta := textarea.New()
	ta.Placeholder = placeholder
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	return ta
}

// focusField focuses inputs[idx], or the trailing textarea when idx == len(inputs).
func focusField(inputs []textinput.Model, body *textarea.Model, idx int) tea.Cmd {
	for i := range inputs {
		inputs[i].Blur()
	}
	if body != nil {
		body.Blur()
	}
	if idx < len(inputs) {
		return inputs[idx].Focus()
	}
	if body != nil {
		return body.Focus()
	}
	return nil
}

func formView(title string, labels []string, inputs []textinput.Model) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n")
	for i, in := range inputs {
		fmt.Fprintf(&b, "%s\n%s\n\n", labels[i], in.View())
	}
	return b.String()
}

func addView(inputs []textinput.Model, body textarea.Model) string {
	return formView("Track a new lead", addLabels, inputs) +
		"Initial email\n" + body.View() + "\n" +
		footerStyle.Render("tab: next field  ctrl+s: save  esc: cancel")
}

func settingsView(inputs []textinput.Model) string {
	return formView("Settings", settingsLabels, inputs) +
		footerStyle.Render("tab: next field  ctrl+s: save  ctrl+x: reset all data  esc: cancel")
}

func replyView(e model.TrackedEntity, body textarea.Model) string {
	return headerStyle.Render(fmt.Sprintf("Log reply from %s <%s>", e.RecipientName, e.RecipientEmail)) + "\n" +
		body.View() + "\n" +
		footerStyle.Render("ctrl+s: save  esc: cancel")
}

func draftView(dc model.DraftContext, body textarea.Model, generating, connected bool) string {
	title := fmt.Sprintf("Follow-up %d of %d to %s", dc.FollowUpNumber, dc.MaxFollowUps, dc.RecipientName)
	var b strings.Builder
	b.WriteString(headerStyle.Render(title))
	b.WriteString("\n")
	if generating {
		b.WriteString("Generating draft...\n")
	} else {
		b.WriteString(body.View())
		b.WriteString("\n")
	}
	keys := "ctrl+g: regenerate  ctrl+r: mark as sent  esc: cancel"
	if connected {
		keys = "ctrl+s: send  " + keys
	}
	b.WriteString(footerStyle.Render(keys))
	return b.String()
}

func authView(url string, input textinput.Model) string {
	if url == "" {
		return "Starting Google authorization...\n"
	}
	return "Opened your browser to authorize Gmail access. If it did not open, visit:\n\n" +
		url + "\n\n" +
		"After approving, this screen continues on its own. If the redirect fails,\n" +
		"paste the code or the full redirect URL here:\n\n" +
		input.View() + "\n" +
		footerStyle.Render("enter: submit  esc: cancel")
}
