package model

import (
	"fmt"
	"time"
)

// MaxFollowUps is the number of follow-ups after which a lead is discarded.
const MaxFollowUps = 3

// Status is the lifecycle state of a tracked lead.
type Status string

const (
	StatusWaiting       Status = "WAITING"
	StatusNeedsFollowUp Status = "NEEDS_FOLLOW_UP"
	StatusReplied       Status = "REPLIED"
	StatusDiscarded     Status = "DISCARDED"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusReplied || s == StatusDiscarded
}

func (s Status) Valid() bool {
	switch s {
	case StatusWaiting, StatusNeedsFollowUp, StatusReplied, StatusDiscarded:
		return true
	}
	return false
}

// Label is the short human name used in lists and tabs.
func (s Status) Label() string {
	switch s {
	case StatusWaiting:
		return "Waiting"
	case StatusNeedsFollowUp:
		return "Follow-up"
	case StatusReplied:
		return "Replied"
	case StatusDiscarded:
		return "Discarded"
	}
	return string(s)
}

// EventKind identifies a history entry.
type EventKind string

const (
	EventInitial  EventKind = "initial"
	EventFollowUp EventKind = "followup"
	EventReply    EventKind = "reply"
)

// HistoryEvent is one entry in a lead's append-only history.
// JSON names match the browser export so collections can be imported as-is.
type HistoryEvent struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"type"`
	Timestamp int64     `json:"date"` // epoch millis
	Content   string    `json:"content"`
	Subject   string    `json:"subject,omitempty"`
	Sentiment string    `json:"sentiment,omitempty"`
	Summary   string    `json:"summary,omitempty"`
}

func (h HistoryEvent) Time() time.Time { return FromMillis(h.Timestamp) }

// TrackedEntity is one outbound email being watched for a reply.
type TrackedEntity struct {
	ID             string         `json:"id"`
	ThreadID       string         `json:"threadId,omitempty"`
	RecipientName  string         `json:"recipientName"`
	RecipientEmail string         `json:"recipientEmail"`
	Subject        string         `json:"subject"`
	LastActivityAt int64          `json:"lastActivityAt"` // epoch millis
	Status         Status         `json:"status"`
	FollowUpCount  int            `json:"followUpCount"`
	History        []HistoryEvent `json:"history"`
}

func (e TrackedEntity) LastActivity() time.Time { return FromMillis(e.LastActivityAt) }

// Discovered reports whether the lead came from the mail server rather than manual entry.
func (e TrackedEntity) Discovered() bool { return e.ThreadID != "" }

// Clone returns a copy that shares no history storage with e.
func (e TrackedEntity) Clone() TrackedEntity {
	out := e
	if e.History != nil {
		out.History = make([]HistoryEvent, len(e.History))
		copy(out.History, e.History)
	}
	return out
}

// LatestReply returns the most recent reply event, if any.
func (e TrackedEntity) LatestReply() (HistoryEvent, bool) {
	for i := len(e.History) - 1; i >= 0; i-- {
		if e.History[i].Kind == EventReply {
			return e.History[i], true
		}
	}
	return HistoryEvent{}, false
}

// Validate checks the structural invariants every stored lead must hold.
func (e TrackedEntity) Validate() error {
	if e.ID == "" {
		return &ValidationError{Field: "id", Reason: "is required"}
	}
	if !e.Status.Valid() {
		return &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", e.Status)}
	}
	if len(e.History) == 0 || e.History[0].Kind != EventInitial {
		return &ValidationError{Field: "history", Reason: "must start with an initial event"}
	}
	followUps := 0
	for _, h := range e.History {
		if h.Kind == EventFollowUp {
			followUps++
		}
	}
	if followUps != e.FollowUpCount {
		return &ValidationError{Field: "followUpCount", Reason: fmt.Sprintf("is %d but history has %d follow-ups", e.FollowUpCount, followUps)}
	}
	if e.Status == StatusDiscarded && e.FollowUpCount < MaxFollowUps {
		return &ValidationError{Field: "status", Reason: "discarded before the follow-up budget was spent"}
	}
	return nil
}

// DashboardStats are the per-status counts shown above the lead list.
type DashboardStats struct {
	Active          int `json:"active"`
	FollowUpsNeeded int `json:"followupsNeeded"`
	Replied         int `json:"replied"`
	Discarded       int `json:"discarded"`
	Total           int `json:"total"`
}

// ManualEntry is the user input for a lead added by hand.
type ManualEntry struct {
	RecipientName  string
	RecipientEmail string
	Subject        string
	Body           string
}

// SentMessage is a message found in the account's sent folder.
type SentMessage struct {
	ID       string
	ThreadID string
	To       string // raw To header
	Subject  string
	Snippet  string
	SentAt   time.Time
}

// ThreadReply is the outcome of a reply check.
type ThreadReply struct {
	Found   bool
	Snippet string
	From    string
	At      time.Time
}

// Classification is the AI reading of a reply.
type Classification struct {
	Sentiment string
	Summary   string
}

// DraftContext is everything the draft generator is told about a lead.
type DraftContext struct {
	RecipientName  string
	RecipientEmail string
	Subject        string
	FollowUpNumber int
	MaxFollowUps   int
	History        string
}

// OutgoingMessage is a message handed to the mail gateway for delivery.
type OutgoingMessage struct {
	To       string
	Subject  string
	Body     string
	ThreadID string
}

func Millis(t time.Time) int64 { return t.UnixMilli() }

func FromMillis(ms int64) time.Time { return time.UnixMilli(ms) }
