// Package followup prepares follow-up drafts for leads that need one.
package followup

import (
	"context"
	"fmt"
	"strings"

	"sentinal/internal/lifecycle"
	"sentinal/internal/model"
)

// Drafter writes follow-up text. Implementations report failures as text.
type Drafter interface {
	Draft(ctx context.Context, dc model.DraftContext) string
}

// BuildContext renders a lead's history for the draft generator.
func BuildContext(e model.TrackedEntity) (model.DraftContext, error) {
	if e.Status != model.StatusNeedsFollowUp {
		return model.DraftContext{}, fmt.Errorf("%w: %s lead cannot be followed up", lifecycle.ErrInvalidTransition, e.Status)
	}
	parts := make([]string, 0, len(e.History))
	for _, h := range e.History {
		parts = append(parts, fmt.Sprintf("[%s - %s]: %s",
			strings.ToUpper(string(h.Kind)), h.Time().Format("2006-01-02"), h.Content))
	}
	return model.DraftContext{
		RecipientName:  e.RecipientName,
		RecipientEmail: e.RecipientEmail,
		Subject:        e.Subject,
		FollowUpNumber: e.FollowUpCount + 1,
		MaxFollowUps:   model.MaxFollowUps,
		History:        strings.Join(parts, "\n\n"),
	}, nil
}

// Session holds the editable draft for one lead. Generating never changes the lead.
type Session struct {
	drafter Drafter
	entity  model.TrackedEntity
	dc      model.DraftContext
	text    string
}

func NewSession(d Drafter, e model.TrackedEntity) (*Session, error) {
	dc, err := BuildContext(e)
	if err != nil {
		return nil, err
	}
	return &Session{drafter: d, entity: e, dc: dc}, nil
}

// Generate replaces the current draft with fresh generator output.
func (s *Session) Generate(ctx context.Context) string {
	s.text = s.drafter.Draft(ctx, s.dc)
	return s.text
}

// Regenerate discards any edits and asks for a new draft.
func (s *Session) Regenerate(ctx context.Context) string { return s.Generate(ctx) }

func (s *Session) Edit(text string) { s.text = text }

func (s *Session) Text() string { return s.text }

func (s *Session) EntityID() string { return s.entity.ID }

func (s *Session) Context() model.DraftContext { return s.dc }

// ReplySubject is the subject used when the follow-up goes out.
func ReplySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}
