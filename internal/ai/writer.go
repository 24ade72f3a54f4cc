package ai

import (
	"context"
	"fmt"
	"log"
	"strings"

	"sentinal/internal/model"
)

const (
	draftFailedText = "Error generating AI draft. Check your connection."
	draftEmptyText  = "I'm sorry, I couldn't generate a draft. Please try again."
)

// FollowUpWriter drafts follow-up emails.
type FollowUpWriter struct {
	provider Provider
}

func NewFollowUpWriter(p Provider) *FollowUpWriter {
	return &FollowUpWriter{provider: p}
}

func draftPrompt(dc model.DraftContext) string {
	return fmt.Sprintf(`Context: I am running a professional agency. I sent a cold email to %s at %s.
Current Status: This is Follow-up #%d out of a maximum of %d.
Previous Conversation History:
%s

Task: Write a concise, professional, and non-pushy follow-up email.
Guidelines:
- Keep it under 100 words.
- Reference the previous contact lightly.
- Provide value or ask a low-friction question.
- Match the tone of the previous history.
- Only provide the email body text, no subject line needed.`,
		dc.RecipientName, dc.RecipientEmail, dc.FollowUpNumber, dc.MaxFollowUps, dc.History)
}

// Draft never fails. Errors come back as text the user can read and replace.
func (w *FollowUpWriter) Draft(ctx context.Context, dc model.DraftContext) string {
	if w == nil || w.provider == nil {
		log.Printf("[AI] %v: no provider configured", model.ErrDraftGenerationFailed)
		return draftFailedText
	}
	out, err := w.provider.Generate(ctx, draftPrompt(dc), GenerateOptions{Temperature: 0.7, TopP: 0.8})
	if err != nil {
		log.Printf("[AI] %v: %v", model.ErrDraftGenerationFailed, err)
		return draftFailedText
	}
	if strings.TrimSpace(out) == "" {
		return draftEmptyText
	}
	return strings.TrimSpace(out)
}
