package tui

import "sentinal/internal/app"

// Async message types for Bubble Tea commands.

// AppEventMsg carries an app.Event into the Update loop.
type AppEventMsg struct {
	Event app.Event
}

type openedMsg struct {
	err error
}

type actionResultMsg struct {
	action string // "Sync", "Reply logged", "Follow-up sent", ...
	err    error
}

type addedMsg struct {
	err error
}

type draftMsg struct {
	text string
}

type authURLMsg string

type authDoneMsg struct {
	err error
}

type settingsMsg struct {
	settings app.Settings
	err      error
}

type statusMsg string
