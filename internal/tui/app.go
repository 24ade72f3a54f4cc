package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentinal/internal/app"
	"sentinal/internal/dashboard"
	"sentinal/internal/followup"
	"sentinal/internal/gmail"
	"sentinal/internal/model"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type viewState int

const (
	viewLoading  viewState = iota
	viewLeads              // dashboard and lead list
	viewHistory            // one lead's history
	viewAdd                // manual entry form
	viewReply              // log a reply
	viewDraft              // follow-up editor
	viewAuth               // waiting for Gmail consent
	viewSettings           // client id, AI key, interval
)

type AppModel struct {
	// Core state
	app    *app.App
	Err    error
	status string

	// Auth flow
	pasted     chan string
	authDone   chan error
	authCancel context.CancelFunc
	authInput  textinput.Model
	authURL    string

	// View state machine
	view       viewState
	filter     int
	selectedID string
	confirm    string // pending "delete" or "reset"

	// Sub-models
	leadsList     list.Model
	historyView   viewport.Model
	addInputs     []textinput.Model
	addBody       textarea.Model
	addFocus      int
	replyInput    textarea.Model
	draftInput    textarea.Model
	draft         *followup.Session
	generating    bool
	settingInputs []textinput.Model
	settingFocus  int

	// Layout
	width, height int
}

func NewAppModel(a *app.App) AppModel {
	ti := textinput.New()
	ti.Placeholder = "Paste auth code or redirect URL here"

	ll := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	ll.SetShowTitle(false)
	// Remove esc from the list's built-in Quit binding so it doesn't exit on home
	ll.KeyMap.Quit.SetKeys("q")

	return AppModel{
		app:           a,
		status:        "Loading...",
		view:          viewLoading,
		authInput:     ti,
		leadsList:     ll,
		historyView:   viewport.New(0, 0),
		addInputs:     newAddInputs(),
		addBody:       newTextarea("The email you sent"),
		replyInput:    newTextarea("Paste the reply here"),
		draftInput:    newTextarea("Follow-up text"),
		settingInputs: newSettingsInputs(),
	}
}

func (m *AppModel) Init() tea.Cmd {
	return tea.Batch(m.openCmd(), textinput.Blink)
}

func (m *AppModel) openCmd() tea.Cmd {
	return func() tea.Msg {
		return openedMsg{err: m.app.Open(context.Background())}
	}
}

func (m *AppModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.leadsList.SetSize(msg.Width, msg.Height-6) // room for header, tabs and footer
		m.historyView.Width = msg.Width
		m.historyView.Height = msg.Height - 4
		for _, ta := range []*textarea.Model{&m.addBody, &m.replyInput, &m.draftInput} {
			ta.SetWidth(msg.Width - 2)
		}
		m.addBody.SetHeight(max(3, msg.Height-16))
		m.replyInput.SetHeight(max(3, msg.Height-6))
		m.draftInput.SetHeight(max(3, msg.Height-6))
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case openedMsg:
		if msg.err != nil {
			m.Err = msg.err
			return m, tea.Quit
		}
		m.view = viewLeads
		m.status = ""
		m.refresh()
		if !m.app.Connected() {
			m.status = "Offline. Press g to connect Gmail."
		}
		return m, nil

	case AppEventMsg:
		return m.handleEvent(msg.Event)

	case actionResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("%s failed: %v", msg.action, msg.err)
		} else {
			m.status = msg.action
		}
		m.refresh()
		return m, clearStatusAfter(3 * time.Second)

	case addedMsg:
		// Validation errors keep the form open.
		if msg.err != nil {
			m.status = msg.err.Error()
			return m, nil
		}
		m.view = viewLeads
		m.status = "Lead added"
		m.refresh()
		return m, clearStatusAfter(2 * time.Second)

	case draftMsg:
		m.generating = false
		m.draftInput.SetValue(msg.text)
		return m, m.draftInput.Focus()

	case authURLMsg:
		m.authURL = string(msg)
		return m, tea.Batch(m.authInput.Focus(), waitAuthCmd(m.authDone))

	case authDoneMsg:
		if m.authCancel != nil {
			m.authCancel()
			m.authCancel = nil
		}
		m.authURL = ""
		m.authInput.Reset()
		m.view = viewLeads
		switch {
		case errors.Is(msg.err, context.Canceled):
			m.status = "Authorization cancelled"
		case msg.err != nil:
			m.status = fmt.Sprintf("Authorization failed: %v", msg.err)
		default:
			m.status = "Gmail connected. Syncing..."
		}
		m.refresh()
		return m, nil

	case settingsMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("Could not load settings: %v", msg.err)
			return m, nil
		}
		m.settingInputs[0].SetValue(msg.settings.ClientID)
		m.settingInputs[1].SetValue(msg.settings.GeminiAPIKey)
		m.settingInputs[2].SetValue(msg.settings.SyncInterval.String())
		m.settingFocus = 0
		m.view = viewSettings
		return m, focusField(m.settingInputs, nil, 0)

	case statusMsg:
		if string(msg) == "" {
			m.status = ""
		}
		return m, nil
	}

	// Delegate to active sub-model
	var cmd tea.Cmd
	switch m.view {
	case viewAuth:
		m.authInput, cmd = m.authInput.Update(msg)
	case viewLeads:
		m.leadsList, cmd = m.leadsList.Update(msg)
	case viewHistory:
		m.historyView, cmd = m.historyView.Update(msg)
	case viewAdd:
		cmd = m.updateAddForm(msg)
	case viewReply:
		m.replyInput, cmd = m.replyInput.Update(msg)
	case viewDraft:
		m.draftInput, cmd = m.draftInput.Update(msg)
	case viewSettings:
		m.settingInputs[m.settingFocus], cmd = m.settingInputs[m.settingFocus].Update(msg)
	}
	return m, cmd
}

func (m *AppModel) handleEvent(ev app.Event) (tea.Model, tea.Cmd) {
	switch ev.Kind {
	case app.EventSynced:
		r := ev.Result
		if r.Discovered+r.Replies+r.Escalated > 0 {
			m.status = fmt.Sprintf("Synced: %d new, %d replies, %d need follow-up", r.Discovered, r.Replies, r.Escalated)
		}
	case app.EventSyncFailed:
		m.status = fmt.Sprintf("Sync failed: %v", ev.Err)
	case app.EventCredentialLost:
		if ev.Err != nil {
			m.status = "Gmail access expired. Press g to reconnect."
		} else {
			m.status = "Gmail disconnected."
		}
	}
	m.refresh()
	return m, nil
}

// refresh rebuilds the list and the open history from the app's collection.
func (m *AppModel) refresh() {
	shown := dashboard.Filter(m.app.Entities(), tabs[m.filter].status)
	m.leadsList.SetItems(leadsToItems(shown))

	if m.view == viewHistory {
		e, ok := m.app.Entity(m.selectedID)
		if !ok {
			m.view = viewLeads
			return
		}
		m.historyView.SetContent(renderHistory(e))
	}
}

func (m *AppModel) selected() (model.TrackedEntity, bool) {
	if m.view == viewLeads {
		item, ok := m.leadsList.SelectedItem().(leadItem)
		if !ok {
			return model.TrackedEntity{}, false
		}
		return item.TrackedEntity, true
	}
	return m.app.Entity(m.selectedID)
}

func (m *AppModel) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()

	// Global keys
	switch key {
	case "ctrl+c":
		return m, tea.Quit
	}

	if m.confirm != "" {
		action := m.confirm
		m.confirm = ""
		if key != "y" {
			m.status = ""
			return m, nil
		}
		return m.confirmed(action)
	}

	switch m.view {
	case viewAuth:
		switch key {
		case "enter":
			val := strings.TrimSpace(m.authInput.Value())
			m.authInput.Reset()
			if val != "" {
				select {
				case m.pasted <- val:
				default:
				}
			}
			return m, nil
		case "esc":
			if m.authCancel != nil {
				m.authCancel()
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.authInput, cmd = m.authInput.Update(msg)
		return m, cmd

	case viewLeads:
		// When the list is filtering, let it handle all keys except ctrl+c
		if m.leadsList.FilterState() == list.Filtering {
			var cmd tea.Cmd
			m.leadsList, cmd = m.leadsList.Update(msg)
			return m, cmd
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "enter":
			return m.openHistory()
		case "tab", "right":
			m.filter = (m.filter + 1) % len(tabs)
			m.refresh()
			return m, nil
		case "shift+tab", "left":
			m.filter = (m.filter + len(tabs) - 1) % len(tabs)
			m.refresh()
			return m, nil
		case "1", "2", "3", "4", "5":
			m.filter = int(key[0] - '1')
			m.refresh()
			return m, nil
		case "a":
			return m.openAddForm()
		case "s":
			m.status = "Syncing..."
			return m, m.syncCmd()
		case "g":
			if m.app.Connected() {
				return m, nil
			}
			return m.startAuth()
		case "x":
			if !m.app.Connected() {
				return m, nil
			}
			return m, m.actionCmd("Disconnect", "Gmail disconnected", func(ctx context.Context) error {
				return m.app.Deauthorize(ctx)
			})
		case "c":
			return m, m.loadSettingsCmd()
		case "d":
			return m.askDelete()
		}
		var cmd tea.Cmd
		m.leadsList, cmd = m.leadsList.Update(msg)
		return m, cmd

	case viewHistory:
		e, ok := m.app.Entity(m.selectedID)
		if !ok {
			m.view = viewLeads
			return m, nil
		}
		switch key {
		case "q":
			return m, tea.Quit
		case "esc":
			m.view = viewLeads
			m.selectedID = ""
			return m, nil
		case "r":
			if e.Status.Terminal() {
				return m, nil
			}
			m.replyInput.Reset()
			m.view = viewReply
			return m, m.replyInput.Focus()
		case "f":
			return m.openDraft(e)
		case "t":
			if e.Status != model.StatusWaiting {
				return m, nil
			}
			return m, m.actionCmd("Force elapsed", "Marked as overdue", func(ctx context.Context) error {
				_, err := m.app.ForceElapsed(ctx, e.ID)
				return err
			})
		case "o":
			if e.ThreadID != "" {
				if err := gmail.OpenBrowser(gmail.ThreadURL(e.ThreadID)); err != nil {
					m.status = fmt.Sprintf("Could not open browser: %v", err)
				}
			}
			return m, nil
		case "d":
			return m.askDelete()
		}
		var cmd tea.Cmd
		m.historyView, cmd = m.historyView.Update(msg)
		return m, cmd

	case viewAdd:
		switch key {
		case "esc":
			m.view = viewLeads
			return m, nil
		case "ctrl+s":
			return m.submitAddForm()
		case "tab", "shift+tab":
			n := len(m.addInputs) + 1
			if key == "tab" {
				m.addFocus = (m.addFocus + 1) % n
			} else {
				m.addFocus = (m.addFocus + n - 1) % n
			}
			return m, focusField(m.addInputs, &m.addBody, m.addFocus)
		}
		return m, m.updateAddForm(msg)

	case viewReply:
		switch key {
		case "esc":
			m.view = viewHistory
			return m, nil
		case "ctrl+s":
			text := m.replyInput.Value()
			id := m.selectedID
			m.view = viewHistory
			m.status = "Analyzing reply..."
			return m, m.actionCmd("Log reply", "Reply logged", func(ctx context.Context) error {
				_, err := m.app.LogReply(ctx, id, text)
				return err
			})
		}
		var cmd tea.Cmd
		m.replyInput, cmd = m.replyInput.Update(msg)
		return m, cmd

	case viewDraft:
		if m.generating {
			if key == "esc" {
				m.view = viewHistory
				m.draft = nil
			}
			return m, nil
		}
		switch key {
		case "esc":
			m.view = viewHistory
			m.draft = nil
			return m, nil
		case "ctrl+g":
			return m, m.generateCmd(true)
		case "ctrl+s", "ctrl+r":
			m.draft.Edit(m.draftInput.Value())
			text := m.draft.Text()
			id := m.draft.EntityID()
			send := key == "ctrl+s"
			if send && !m.app.Connected() {
				m.status = "Connect Gmail to send, or press ctrl+r if you sent it yourself."
				return m, nil
			}
			m.draft = nil
			m.view = viewHistory
			if send {
				m.status = "Sending..."
				return m, m.actionCmd("Send", "Follow-up sent", func(ctx context.Context) error {
					_, err := m.app.SendFollowUp(ctx, id, text)
					return err
				})
			}
			return m, m.actionCmd("Record follow-up", "Follow-up recorded", func(ctx context.Context) error {
				_, err := m.app.RecordFollowUp(ctx, id, text)
				return err
			})
		}
		var cmd tea.Cmd
		m.draftInput, cmd = m.draftInput.Update(msg)
		return m, cmd

	case viewSettings:
		switch key {
		case "esc":
			m.view = viewLeads
			return m, nil
		case "ctrl+s":
			return m.submitSettings()
		case "ctrl+x":
			m.confirm = "reset"
			m.status = "Erase all leads, settings and the Gmail token? (y/n)"
			return m, nil
		case "tab", "shift+tab", "down", "up":
			n := len(m.settingInputs)
			if key == "tab" || key == "down" {
				m.settingFocus = (m.settingFocus + 1) % n
			} else {
				m.settingFocus = (m.settingFocus + n - 1) % n
			}
			return m, focusField(m.settingInputs, nil, m.settingFocus)
		}
		var cmd tea.Cmd
		m.settingInputs[m.settingFocus], cmd = m.settingInputs[m.settingFocus].Update(msg)
		return m, cmd
	}

	return m, nil
}

func (m *AppModel) openHistory() (tea.Model, tea.Cmd) {
	e, ok := m.selected()
	if !ok {
		return m, nil
	}
	m.selectedID = e.ID
	m.historyView.SetContent(renderHistory(e))
	m.historyView.GotoTop()
	m.view = viewHistory
	return m, nil
}

func (m *AppModel) askDelete() (tea.Model, tea.Cmd) {
	e, ok := m.selected()
	if !ok {
		return m, nil
	}
	m.selectedID = e.ID
	m.confirm = "delete"
	m.status = fmt.Sprintf("Stop tracking %s (%s)? (y/n)", e.RecipientName, e.Subject)
	return m, nil
}

func (m *AppModel) confirmed(action string) (tea.Model, tea.Cmd) {
	switch action {
	case "delete":
		id := m.selectedID
		m.view = viewLeads
		m.selectedID = ""
		return m, m.actionCmd("Delete", "Lead deleted", func(ctx context.Context) error {
			return m.app.Delete(ctx, id)
		})
	case "reset":
		m.view = viewLeads
		m.filter = 0
		return m, m.actionCmd("Reset", "All data erased", func(ctx context.Context) error {
			return m.app.Reset(ctx)
		})
	}
	return m, nil
}

func (m *AppModel) openAddForm() (tea.Model, tea.Cmd) {
	for i := range m.addInputs {
		m.addInputs[i].Reset()
	}
	m.addBody.Reset()
	m.addFocus = 0
	m.view = viewAdd
	return m, focusField(m.addInputs, &m.addBody, 0)
}

func (m *AppModel) updateAddForm(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	if m.addFocus < len(m.addInputs) {
		m.addInputs[m.addFocus], cmd = m.addInputs[m.addFocus].Update(msg)
	} else {
		m.addBody, cmd = m.addBody.Update(msg)
	}
	return cmd
}

func (m *AppModel) submitAddForm() (tea.Model, tea.Cmd) {
	entry := model.ManualEntry{
		RecipientName:  m.addInputs[0].Value(),
		RecipientEmail: m.addInputs[1].Value(),
		Subject:        m.addInputs[2].Value(),
		Body:           m.addBody.Value(),
	}
	m.status = "Saving..."
	return m, func() tea.Msg {
		_, err := m.app.AddManual(context.Background(), entry)
		return addedMsg{err: err}
	}
}

func (m *AppModel) openDraft(e model.TrackedEntity) (tea.Model, tea.Cmd) {
	s, err := m.app.NewDraft(e.ID)
	if err != nil {
		m.status = err.Error()
		return m, clearStatusAfter(2 * time.Second)
	}
	m.draft = s
	m.draftInput.Reset()
	m.view = viewDraft
	return m, m.generateCmd(false)
}

func (m *AppModel) submitSettings() (tea.Model, tea.Cmd) {
	s := app.Settings{
		ClientID:     m.settingInputs[0].Value(),
		GeminiAPIKey: m.settingInputs[1].Value(),
	}
	if v := strings.TrimSpace(m.settingInputs[2].Value()); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < time.Minute {
			m.status = "Sync interval must be a duration of at least 1m, like 5m"
			return m, nil
		}
		s.SyncInterval = d
	}
	m.view = viewLeads
	return m, m.actionCmd("Save settings", "Settings saved", func(ctx context.Context) error {
		return m.app.UpdateSettings(ctx, s)
	})
}

func (m *AppModel) startAuth() (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	m.authCancel = cancel
	m.pasted = make(chan string, 1)
	m.authDone = make(chan error, 1)
	m.authURL = ""
	m.view = viewAuth
	return m, m.authorizeCmd(ctx, m.pasted, m.authDone)
}

// Commands

// authorizeCmd starts the consent flow and reports the consent URL, or the
// outcome if the flow ends before producing one.
func (m *AppModel) authorizeCmd(ctx context.Context, pasted chan string, done chan error) tea.Cmd {
	return func() tea.Msg {
		prompts := make(chan string)
		go func() {
			done <- m.app.Authorize(ctx, prompts, pasted)
		}()
		select {
		case url := <-prompts:
			return authURLMsg(url)
		case err := <-done:
			return authDoneMsg{err: err}
		}
	}
}

func waitAuthCmd(done chan error) tea.Cmd {
	return func() tea.Msg {
		return authDoneMsg{err: <-done}
	}
}

func (m *AppModel) syncCmd() tea.Cmd {
	return func() tea.Msg {
		_, err := m.app.Sync(context.Background())
		switch {
		case errors.Is(err, app.ErrSyncInProgress):
			return actionResultMsg{action: "Sync already running"}
		case err != nil:
			return actionResultMsg{action: "Sync", err: err}
		}
		return actionResultMsg{action: "Sync complete"}
	}
}

// generateCmd asks for a draft. regenerate throws away the user's edits.
func (m *AppModel) generateCmd(regenerate bool) tea.Cmd {
	s := m.draft
	if s == nil {
		return nil
	}
	m.generating = true
	return func() tea.Msg {
		if regenerate {
			return draftMsg{text: s.Regenerate(context.Background())}
		}
		return draftMsg{text: s.Generate(context.Background())}
	}
}

func (m *AppModel) loadSettingsCmd() tea.Cmd {
	return func() tea.Msg {
		s, err := m.app.Settings(context.Background())
		return settingsMsg{settings: s, err: err}
	}
}

// actionCmd runs fn off the Update loop. name labels a failure, done is shown on success.
func (m *AppModel) actionCmd(name, done string, fn func(ctx context.Context) error) tea.Cmd {
	return func() tea.Msg {
		if err := fn(context.Background()); err != nil {
			return actionResultMsg{action: name, err: err}
		}
		return actionResultMsg{action: done}
	}
}

func clearStatusAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return statusMsg("")
	})
}

// View renders the appropriate view based on current state.
func (m *AppModel) View() string {
	// Error state
	if m.Err != nil {
		return "Error: " + m.Err.Error() + "\n"
	}

	// Loading
	if m.view == viewLoading {
		return m.status + "\n"
	}

	var b strings.Builder

	switch m.view {
	case viewAuth:
		b.WriteString(authView(m.authURL, m.authInput))
	case viewLeads:
		b.WriteString(statsHeader(m.app.Stats(), m.app.Connected(), m.app.LastSync()))
		b.WriteString("\n")
		b.WriteString(tabBar(m.filter))
		b.WriteString("\n\n")
		b.WriteString(m.leadsList.View())
		b.WriteString("\n")
		b.WriteString(leadsFooter(m.app.Connected()))
	case viewHistory:
		b.WriteString(m.historyView.View())
		b.WriteString("\n")
		if e, ok := m.app.Entity(m.selectedID); ok {
			b.WriteString(historyFooter(e))
		}
	case viewAdd:
		b.WriteString(addView(m.addInputs, m.addBody))
	case viewReply:
		if e, ok := m.app.Entity(m.selectedID); ok {
			b.WriteString(replyView(e, m.replyInput))
		}
	case viewDraft:
		if m.draft != nil {
			b.WriteString(draftView(m.draft.Context(), m.draftInput, m.generating, m.app.Connected()))
		}
	case viewSettings:
		b.WriteString(settingsView(m.settingInputs))
	}

	if m.status != "" {
		b.WriteString("\n")
		b.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render(m.status))
	}

	return b.String()
}
