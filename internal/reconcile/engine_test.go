package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sentinal/internal/lifecycle"
	"sentinal/internal/model"
)

var now = time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

type fakeMail struct {
	mu      sync.Mutex
	account string
	sent    []model.SentMessage
	threads map[string]model.ThreadReply
	senders map[string]model.ThreadReply
	listErr error
	replErr error
	calls   int
}

func (f *fakeMail) AccountAddress(context.Context) (string, error) { return f.account, nil }

func (f *fakeMail) ListSentMessages(context.Context) ([]model.SentMessage, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.sent, f.listErr
}

func (f *fakeMail) CheckThreadForReply(_ context.Context, id string) (model.ThreadReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.replErr != nil {
		return model.ThreadReply{}, f.replErr
	}
	return f.threads[id], nil
}

func (f *fakeMail) FindReplyFrom(_ context.Context, addr string, after time.Time) (model.ThreadReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	r := f.senders[addr]
	if !r.At.After(after) {
		return model.ThreadReply{}, nil
	}
	return r, nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(_ context.Context, text string) model.Classification {
	return model.Classification{Sentiment: "Interested", Summary: "re: " + text}
}

func newEngine() *Engine {
	return NewEngine(stubClassifier{}, Options{Now: func() time.Time { return now }})
}

func waiting(id, thread, email string, last time.Time) model.TrackedEntity {
	return model.TrackedEntity{
		ID:             id,
		ThreadID:       thread,
		RecipientName:  id,
		RecipientEmail: email,
		Subject:        "s",
		LastActivityAt: last.UnixMilli(),
		Status:         model.StatusWaiting,
		History:        []model.HistoryEvent{{ID: id + "-0", Kind: model.EventInitial, Timestamp: last.UnixMilli()}},
	}
}

func TestReconcile_OfflineEscalatesWithoutNetwork(t *testing.T) {
	stale := waiting("a", "", "a@x.com", now.Add(-25*time.Hour))
	fresh := waiting("b", "", "b@x.com", now.Add(-time.Hour))
	current := []model.TrackedEntity{stale, fresh}

	res, err := newEngine().Reconcile(context.Background(), current, nil)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if !res.Offline || res.Escalated != 1 {
		t.Fatalf("result = %+v", res)
	}
	if res.Entities[0].Status != model.StatusNeedsFollowUp || res.Entities[1].Status != model.StatusWaiting {
		t.Fatalf("statuses = %s, %s", res.Entities[0].Status, res.Entities[1].Status)
	}
	if current[0].Status != model.StatusWaiting {
		t.Fatal("input collection mutated")
	}
}

func TestReconcile_DiscoveryDedupesThreads(t *testing.T) {
	mail := &fakeMail{
		account: "me@agency.com",
		sent: []model.SentMessage{
			{ID: "m3", ThreadID: "t2", To: "Bo <bo@x.com>", Subject: "Later", SentAt: now.Add(-time.Hour)},
			{ID: "m2", ThreadID: "t1", To: "Ann <ann@x.com>", Subject: "Re: Hi", SentAt: now.Add(-2 * time.Hour)},
			{ID: "m1", ThreadID: "t1", To: "Ann <ann@x.com>", Subject: "Hi", Snippet: "first", SentAt: now.Add(-3 * time.Hour)},
			{ID: "m0", ThreadID: "known", To: "c@x.com", SentAt: now.Add(-4 * time.Hour)},
			{ID: "self", ThreadID: "t9", To: "Me <me+notes@agency.com>", SentAt: now},
		},
	}
	current := []model.TrackedEntity{waiting("k", "known", "c@x.com", now.Add(-5*time.Hour))}

	res, err := newEngine().Reconcile(context.Background(), current, mail)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Discovered != 2 || len(res.Entities) != 3 {
		t.Fatalf("discovered %d, total %d", res.Discovered, len(res.Entities))
	}
	if res.Entities[0].ThreadID != "t2" || res.Entities[1].ThreadID != "t1" || res.Entities[2].ID != "k" {
		t.Fatalf("order = %s, %s, %s", res.Entities[0].ThreadID, res.Entities[1].ThreadID, res.Entities[2].ID)
	}
	ann := res.Entities[1]
	if ann.Subject != "Hi" || ann.History[0].Content != "first" || ann.RecipientName != "Ann" || ann.RecipientEmail != "ann@x.com" {
		t.Fatalf("discovered lead = %+v", ann)
	}

	// A second pass over the merged collection finds nothing new.
	again, err := newEngine().Reconcile(context.Background(), res.Entities, mail)
	if err != nil {
		t.Fatalf("second Reconcile: %v", err)
	}
	if again.Discovered != 0 || len(again.Entities) != 3 {
		t.Fatalf("second pass discovered %d", again.Discovered)
	}
	seen := map[string]bool{}
	for _, e := range again.Entities {
		if e.ThreadID != "" && seen[e.ThreadID] {
			t.Fatalf("duplicate thread %s", e.ThreadID)
		}
		seen[e.ThreadID] = true
	}
}

func TestReconcile_IgnoredThreadsNotDiscovered(t *testing.T) {
	mail := &fakeMail{
		account: "me@agency.com",
		sent: []model.SentMessage{
			{ID: "m1", ThreadID: "t1", To: "ann@x.com", Subject: "Hi", SentAt: now.Add(-time.Hour)},
			{ID: "m2", ThreadID: "t2", To: "bo@x.com", Subject: "Hey", SentAt: now.Add(-time.Hour)},
		},
	}
	eng := NewEngine(stubClassifier{}, Options{Now: func() time.Time { return now }, Ignored: []string{"t1"}})

	res, err := eng.Reconcile(context.Background(), nil, mail)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Discovered != 1 || len(res.Entities) != 1 || res.Entities[0].ThreadID != "t2" {
		t.Fatalf("discovered %d: %+v", res.Discovered, res.Entities)
	}
}

func TestReconcile_ReplyDetection(t *testing.T) {
	replyAt := now.Add(-time.Minute)
	mail := &fakeMail{
		account: "me@agency.com",
		threads: map[string]model.ThreadReply{
			"t1": {Found: true, Snippet: "yes please", From: "a@x.com", At: replyAt},
		},
		senders: map[string]model.ThreadReply{
			"m@x.com":   {Found: true, Snippet: "call me", From: "m@x.com", At: replyAt},
			"old@x.com": {Found: true, Snippet: "stale", From: "old@x.com", At: now.Add(-72 * time.Hour)},
		},
	}
	needs := waiting("n", "t1", "a@x.com", now.Add(-30*time.Hour))
	needs.Status = model.StatusNeedsFollowUp
	current := []model.TrackedEntity{
		needs,
		waiting("m", "", "m@x.com", now.Add(-2*time.Hour)),
		waiting("o", "", "old@x.com", now.Add(-2*time.Hour)),
	}

	res, err := newEngine().Reconcile(context.Background(), current, mail)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if res.Replies != 2 {
		t.Fatalf("replies = %d", res.Replies)
	}
	for _, i := range []int{0, 1} {
		e := res.Entities[i]
		if e.Status != model.StatusReplied {
			t.Fatalf("entity %s status %s", e.ID, e.Status)
		}
		last := e.History[len(e.History)-1]
		if last.Kind != model.EventReply || last.Sentiment != "Interested" {
			t.Fatalf("entity %s reply event %+v", e.ID, last)
		}
		if e.LastActivityAt != replyAt.UnixMilli() {
			t.Fatalf("entity %s lastActivityAt not advanced", e.ID)
		}
	}
	if res.Entities[2].Status != model.StatusWaiting {
		t.Fatalf("reply older than last activity was applied")
	}
}

func TestReconcile_TerminalLeadsNotChecked(t *testing.T) {
	mail := &fakeMail{replErr: errors.New("must not be called")}
	done := waiting("r", "t1", "a@x.com", now)
	done.Status = model.StatusReplied
	res, err := newEngine().Reconcile(context.Background(), []model.TrackedEntity{done}, mail)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if len(res.Entities) != 1 || res.Entities[0].Status != model.StatusReplied {
		t.Fatalf("result = %+v", res)
	}
}

func TestReconcile_GatewayErrorAborts(t *testing.T) {
	current := []model.TrackedEntity{waiting("a", "t1", "a@x.com", now.Add(-30*time.Hour))}
	tests := []struct {
		name string
		mail *fakeMail
	}{
		{"list", &fakeMail{listErr: model.ErrGatewayUnavailable}},
		{"thread", &fakeMail{replErr: model.ErrCredentialExpired}},
	}
	for _, tc := range tests {
		res, err := newEngine().Reconcile(context.Background(), current, tc.mail)
		if err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		if res.Entities != nil {
			t.Fatalf("%s: partial result returned", tc.name)
		}
	}
	if _, err := newEngine().Reconcile(context.Background(), current, &fakeMail{replErr: model.ErrCredentialExpired}); !errors.Is(err, model.ErrCredentialExpired) {
		t.Fatalf("error kind lost: %v", err)
	}
	if current[0].Status != model.StatusWaiting {
		t.Fatal("current mutated on failure")
	}
}

func TestReconcile_FollowUpCountPreserved(t *testing.T) {
	e := waiting("a", "", "a@x.com", now.Add(-30*time.Hour))
	e.Status = model.StatusNeedsFollowUp
	e, err := lifecycle.RecordFollowUp(e, "nudge", now.Add(-26*time.Hour))
	if err != nil {
		t.Fatalf("RecordFollowUp: %v", err)
	}
	res, err := newEngine().Reconcile(context.Background(), []model.TrackedEntity{e}, &fakeMail{})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	got := res.Entities[0]
	if got.Status != model.StatusNeedsFollowUp || got.FollowUpCount != 1 {
		t.Fatalf("got %s / %d", got.Status, got.FollowUpCount)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
