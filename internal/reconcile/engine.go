// Package reconcile merges mail-server state into the local lead collection.
package reconcile

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"sentinal/internal/lifecycle"
	"sentinal/internal/model"
	"sentinal/internal/util"

	"golang.org/x/sync/errgroup"
)

// MailGateway is the read side of the mail provider used during a pass.
type MailGateway interface {
	AccountAddress(ctx context.Context) (string, error)
	ListSentMessages(ctx context.Context) ([]model.SentMessage, error)
	CheckThreadForReply(ctx context.Context, threadID string) (model.ThreadReply, error)
	// FindReplyFrom looks for the newest message from address received after the given time.
	FindReplyFrom(ctx context.Context, address string, after time.Time) (model.ThreadReply, error)
}

// Classifier labels reply text. It never fails; failures come back as defaults.
type Classifier interface {
	Classify(ctx context.Context, text string) model.Classification
}

type Options struct {
	Threshold   time.Duration // waiting time before escalation
	Concurrency int           // parallel reply checks
	Now         func() time.Time

	// Ignored lists thread ids discovery must not track, such as deleted leads.
	Ignored []string
}

type Engine struct {
	classifier  Classifier
	threshold   time.Duration
	concurrency int
	now         func() time.Time
	ignored     []string
}

// Result is the outcome of one pass. Entities replaces the caller's collection.
type Result struct {
	Entities   []model.TrackedEntity
	Discovered int
	Replies    int
	Escalated  int
	Offline    bool
}

func NewEngine(c Classifier, opts Options) *Engine {
	if opts.Threshold <= 0 {
		opts.Threshold = lifecycle.EscalationThreshold
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		classifier:  c,
		threshold:   opts.Threshold,
		concurrency: opts.Concurrency,
		now:         opts.Now,
		ignored:     opts.Ignored,
	}
}

// Reconcile runs discovery, reply detection and escalation over current.
// A nil gateway runs escalation only. Any gateway error aborts the pass and
// current must then be kept as is.
func (e *Engine) Reconcile(ctx context.Context, current []model.TrackedEntity, mail MailGateway) (Result, error) {
	working := make([]model.TrackedEntity, len(current))
	copy(working, current)

	var res Result
	var discovered []model.TrackedEntity
	if mail == nil {
		res.Offline = true
	} else {
		account, err := mail.AccountAddress(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("account address: %w", err)
		}
		discovered, err = e.discover(ctx, current, mail, account)
		if err != nil {
			return Result{}, err
		}
		res.Discovered = len(discovered)

		// Fresh leads are checked too: a reply may already be waiting in their thread.
		working = append(discovered, working...)
		replies, err := e.detectReplies(ctx, working, mail)
		if err != nil {
			return Result{}, err
		}
		res.Replies = replies
	}

	now := e.now()
	for i := range working {
		if next, ok := lifecycle.Escalate(working[i], now, e.threshold); ok {
			working[i] = next
			res.Escalated++
		}
	}
	res.Entities = working
	return res, nil
}

// discover returns new leads for sent threads not yet tracked, newest first.
// Within one thread the earliest sent message becomes the initial event.
func (e *Engine) discover(ctx context.Context, current []model.TrackedEntity, mail MailGateway, account string) ([]model.TrackedEntity, error) {
	sent, err := mail.ListSentMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("list sent messages: %w", err)
	}
	known := make(map[string]struct{}, len(current)+len(e.ignored))
	for _, id := range e.ignored {
		known[id] = struct{}{}
	}
	for _, t := range current {
		if t.ThreadID != "" {
			known[t.ThreadID] = struct{}{}
		}
	}

	first := make(map[string]model.SentMessage)
	for _, m := range sent {
		if m.ThreadID == "" {
			continue
		}
		if _, ok := known[m.ThreadID]; ok {
			continue
		}
		if util.IsSelfAddress(m.To, account) {
			continue
		}
		if prev, ok := first[m.ThreadID]; !ok || m.SentAt.Before(prev.SentAt) {
			first[m.ThreadID] = m
		}
	}

	msgs := make([]model.SentMessage, 0, len(first))
	for _, m := range first {
		msgs = append(msgs, m)
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].SentAt.Equal(msgs[j].SentAt) {
			return msgs[i].ThreadID < msgs[j].ThreadID
		}
		return msgs[i].SentAt.After(msgs[j].SentAt)
	})

	out := make([]model.TrackedEntity, 0, len(msgs))
	for _, m := range msgs {
		name, addr := util.Recipient(m.To)
		if addr == "" {
			log.Printf("[Sync] skipping thread %s: unparsable recipient %q", m.ThreadID, m.To)
			continue
		}
		out = append(out, lifecycle.NewDiscovered(m, name, addr))
	}
	return out, nil
}

// detectReplies checks every open lead concurrently and applies replies in
// collection order once all checks have succeeded.
func (e *Engine) detectReplies(ctx context.Context, working []model.TrackedEntity, mail MailGateway) (int, error) {
	found := make([]model.ThreadReply, len(working))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, t := range working {
		if t.Status.Terminal() {
			continue
		}
		g.Go(func() error {
			var (
				r   model.ThreadReply
				err error
			)
			if t.ThreadID != "" {
				r, err = mail.CheckThreadForReply(gctx, t.ThreadID)
			} else {
				r, err = mail.FindReplyFrom(gctx, t.RecipientEmail, t.LastActivity())
			}
			if err != nil {
				return fmt.Errorf("check reply for %s: %w", t.RecipientEmail, err)
			}
			found[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	replies := 0
	for i, r := range found {
		if !r.Found {
			continue
		}
		c := e.classifier.Classify(ctx, r.Snippet)
		next, err := lifecycle.RecordReply(working[i], r.Snippet, c, r.At)
		if err != nil {
			return 0, err
		}
		working[i] = next
		replies++
	}
	return replies, nil
}
