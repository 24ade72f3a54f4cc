// Package lifecycle holds the lead state machine. Every function returns a new
// entity and leaves its input untouched.
package lifecycle

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"sentinal/internal/model"

	"github.com/google/uuid"
)

// EscalationThreshold is how long a lead may wait before it needs a follow-up.
const EscalationThreshold = 24 * time.Hour

// forcedAge is how far back ForceElapsed moves the last activity.
const forcedAge = 25 * time.Hour

var ErrInvalidTransition = errors.New("invalid status transition")

var transitions = map[model.Status][]model.Status{
	model.StatusWaiting:       {model.StatusNeedsFollowUp, model.StatusReplied},
	model.StatusNeedsFollowUp: {model.StatusWaiting, model.StatusReplied, model.StatusDiscarded},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to model.Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func transitionError(from, to model.Status) error {
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// NewManual validates user input and creates a waiting lead.
func NewManual(in model.ManualEntry, now time.Time) (model.TrackedEntity, error) {
	name := strings.TrimSpace(in.RecipientName)
	email := strings.TrimSpace(in.RecipientEmail)
	subject := strings.TrimSpace(in.Subject)
	body := strings.TrimSpace(in.Body)

	switch {
	case name == "":
		return model.TrackedEntity{}, &model.ValidationError{Field: "recipientName", Reason: "is required"}
	case email == "":
		return model.TrackedEntity{}, &model.ValidationError{Field: "recipientEmail", Reason: "is required"}
	case subject == "":
		return model.TrackedEntity{}, &model.ValidationError{Field: "subject", Reason: "is required"}
	case body == "":
		return model.TrackedEntity{}, &model.ValidationError{Field: "body", Reason: "is required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil {
		return model.TrackedEntity{}, &model.ValidationError{Field: "recipientEmail", Reason: "is not an email address"}
	}

	ts := model.Millis(now)
	return model.TrackedEntity{
		ID:             uuid.NewString(),
		RecipientName:  name,
		RecipientEmail: addr.Address,
		Subject:        subject,
		LastActivityAt: ts,
		Status:         model.StatusWaiting,
		History: []model.HistoryEvent{{
			ID:        uuid.NewString(),
			Kind:      model.EventInitial,
			Timestamp: ts,
			Content:   body,
			Subject:   subject,
		}},
	}, nil
}

// NewDiscovered creates a waiting lead from a message found in the sent folder.
// recipientName and recipientEmail come from the message's To header.
func NewDiscovered(msg model.SentMessage, recipientName, recipientEmail string) model.TrackedEntity {
	ts := model.Millis(msg.SentAt)
	return model.TrackedEntity{
		ID:             uuid.NewString(),
		ThreadID:       msg.ThreadID,
		RecipientName:  recipientName,
		RecipientEmail: recipientEmail,
		Subject:        msg.Subject,
		LastActivityAt: ts,
		Status:         model.StatusWaiting,
		History: []model.HistoryEvent{{
			ID:        uuid.NewString(),
			Kind:      model.EventInitial,
			Timestamp: ts,
			Content:   msg.Snippet,
			Subject:   msg.Subject,
		}},
	}
}

// ShouldEscalate reports whether a waiting lead has been quiet longer than threshold.
func ShouldEscalate(e model.TrackedEntity, now time.Time, threshold time.Duration) bool {
	return e.Status == model.StatusWaiting && now.Sub(e.LastActivity()) > threshold
}

// Escalate moves a stale waiting lead to NeedsFollowUp. Leads that are not due
// are returned unchanged with ok=false.
func Escalate(e model.TrackedEntity, now time.Time, threshold time.Duration) (model.TrackedEntity, bool) {
	if !ShouldEscalate(e, now, threshold) {
		return e, false
	}
	out := e.Clone()
	out.Status = model.StatusNeedsFollowUp
	return out, true
}

// RecordReply appends a reply and marks the lead replied. Last activity never
// moves backwards.
func RecordReply(e model.TrackedEntity, content string, c model.Classification, at time.Time) (model.TrackedEntity, error) {
	if !CanTransition(e.Status, model.StatusReplied) {
		return e, transitionError(e.Status, model.StatusReplied)
	}
	ts := model.Millis(at)
	out := e.Clone()
	out.History = append(out.History, model.HistoryEvent{
		ID:        uuid.NewString(),
		Kind:      model.EventReply,
		Timestamp: ts,
		Content:   content,
		Sentiment: c.Sentiment,
		Summary:   c.Summary,
	})
	out.Status = model.StatusReplied
	if ts > out.LastActivityAt {
		out.LastActivityAt = ts
	}
	return out, nil
}

// RecordFollowUp appends a sent follow-up. The third one discards the lead.
func RecordFollowUp(e model.TrackedEntity, content string, at time.Time) (model.TrackedEntity, error) {
	if e.Status != model.StatusNeedsFollowUp {
		return e, transitionError(e.Status, model.StatusWaiting)
	}
	ts := model.Millis(at)
	out := e.Clone()
	out.History = append(out.History, model.HistoryEvent{
		ID:        uuid.NewString(),
		Kind:      model.EventFollowUp,
		Timestamp: ts,
		Content:   content,
	})
	out.FollowUpCount++
	out.LastActivityAt = ts
	if out.FollowUpCount >= model.MaxFollowUps {
		out.Status = model.StatusDiscarded
	} else {
		out.Status = model.StatusWaiting
	}
	return out, nil
}

// ForceElapsed backdates a waiting lead past the threshold so follow-up flows
// can be exercised without waiting a day.
func ForceElapsed(e model.TrackedEntity, now time.Time) (model.TrackedEntity, error) {
	if e.Status != model.StatusWaiting {
		return e, transitionError(e.Status, model.StatusNeedsFollowUp)
	}
	out := e.Clone()
	out.LastActivityAt = model.Millis(now.Add(-forcedAge))
	out.Status = model.StatusNeedsFollowUp
	return out, nil
}
