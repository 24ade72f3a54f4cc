package followup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"sentinal/internal/lifecycle"
	"sentinal/internal/model"
)

type countingDrafter struct{ calls int }

func (d *countingDrafter) Draft(_ context.Context, dc model.DraftContext) string {
	d.calls++
	return fmt.Sprintf("draft %d for #%d", d.calls, dc.FollowUpNumber)
}

func needsFollowUp() model.TrackedEntity {
	day := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	return model.TrackedEntity{
		ID:             "e1",
		RecipientName:  "Ada",
		RecipientEmail: "ada@example.com",
		Subject:        "Proposal",
		Status:         model.StatusNeedsFollowUp,
		FollowUpCount:  1,
		History: []model.HistoryEvent{
			{ID: "a", Kind: model.EventInitial, Timestamp: day.UnixMilli(), Content: "first"},
			{ID: "b", Kind: model.EventFollowUp, Timestamp: day.Add(48 * time.Hour).UnixMilli(), Content: "second"},
		},
	}
}

func TestBuildContext(t *testing.T) {
	dc, err := BuildContext(needsFollowUp())
	if err != nil {
		t.Fatalf("BuildContext: %v", err)
	}
	if dc.FollowUpNumber != 2 || dc.MaxFollowUps != 3 {
		t.Fatalf("numbers = %d/%d", dc.FollowUpNumber, dc.MaxFollowUps)
	}
	lines := strings.Split(dc.History, "\n\n")
	if len(lines) != 2 {
		t.Fatalf("history = %q", dc.History)
	}
	if !strings.HasPrefix(lines[0], "[INITIAL - ") || !strings.HasSuffix(lines[0], "]: first") {
		t.Fatalf("first line = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "[FOLLOWUP - ") {
		t.Fatalf("second line = %q", lines[1])
	}
}

func TestBuildContext_WrongStatus(t *testing.T) {
	e := needsFollowUp()
	e.Status = model.StatusWaiting
	if _, err := BuildContext(e); !errors.Is(err, lifecycle.ErrInvalidTransition) {
		t.Fatalf("got %v", err)
	}
}

func TestSession(t *testing.T) {
	d := &countingDrafter{}
	e := needsFollowUp()
	s, err := NewSession(d, e)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if got := s.Generate(context.Background()); got != "draft 1 for #2" {
		t.Fatalf("Generate = %q", got)
	}
	s.Edit("my words")
	if s.Text() != "my words" {
		t.Fatalf("Edit not kept")
	}
	if got := s.Regenerate(context.Background()); got != "draft 2 for #2" || s.Text() != got {
		t.Fatalf("Regenerate = %q", got)
	}
	if e.FollowUpCount != 1 || len(e.History) != 2 {
		t.Fatal("drafting changed the lead")
	}
}

func TestReplySubject(t *testing.T) {
	tests := map[string]string{
		"Proposal":     "Re: Proposal",
		"Re: Proposal": "Re: Proposal",
		"RE: x":        "RE: x",
	}
	for in, want := range tests {
		if got := ReplySubject(in); got != want {
			t.Errorf("ReplySubject(%q) = %q; want %q", in, got, want)
		}
	}
}
