package gmail

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sentinal/internal/model"

	gmailv1 "google.golang.org/api/gmail/v1"
)

const user = "me"

// GatewayOptions tunes the Gmail gateway.
type GatewayOptions struct {
	Policy   ReplyPolicy
	Lookback int64 // sent messages examined per discovery pass
	Workers  int   // concurrent metadata fetches
}

// Gateway reads and sends mail for the authorized account.
type Gateway struct {
	svc      *gmailv1.Service
	policy   ReplyPolicy
	lookback int64
	workers  int

	mu      sync.Mutex
	account string
}

func NewGateway(svc *gmailv1.Service, opts GatewayOptions) *Gateway {
	if opts.Policy == "" {
		opts.Policy = ReplyBySender
	}
	if opts.Lookback <= 0 {
		opts.Lookback = 50
	}
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	return &Gateway{svc: svc, policy: opts.Policy, lookback: opts.Lookback, workers: opts.Workers}
}

// AccountAddress returns the authorized account's address, cached after the first call.
func (g *Gateway) AccountAddress(ctx context.Context) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.account != "" {
		return g.account, nil
	}
	profile, err := g.svc.Users.GetProfile(user).Context(ctx).Do()
	if err != nil {
		return "", classifyError("get profile", err)
	}
	g.account = profile.EmailAddress
	return g.account, nil
}

// ListSentMessages returns the most recent sent messages with their headers.
func (g *Gateway) ListSentMessages(ctx context.Context) ([]model.SentMessage, error) {
	resp, err := g.svc.Users.Messages.List(user).
		Q("in:sent").
		MaxResults(g.lookback).
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyError("list sent messages", err)
	}
	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return g.fetchSentBatch(ctx, ids)
}

// fetchSentBatch reads metadata for ids with a bounded worker pool. Results keep
// the order of ids; the first failure is returned.
func (g *Gateway) fetchSentBatch(ctx context.Context, ids []string) ([]model.SentMessage, error) {
	type job struct {
		idx int
		id  string
	}
	jobs := make(chan job, len(ids))
	out := make([]model.SentMessage, len(ids))
	errs := make([]error, len(ids))

	workers := g.workers
	if workers > len(ids) {
		workers = len(ids)
	}
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for j := range jobs {
				if ctx.Err() != nil {
					errs[j.idx] = ctx.Err()
					continue
				}
				msg, err := g.svc.Users.Messages.Get(user, j.id).
					Format("metadata").
					MetadataHeaders("To", "Subject", "Date").
					Context(ctx).
					Do()
				if err != nil {
					errs[j.idx] = err
					continue
				}
				out[j.idx] = sentFromMessage(msg)
			}
		}()
	}
	for i, id := range ids {
		jobs <- job{idx: i, id: id}
	}
	close(jobs)
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, classifyError("get sent message", err)
		}
	}
	return out, nil
}

func sentFromMessage(msg *gmailv1.Message) model.SentMessage {
	var to, subject, date string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "to":
				to = h.Value
			case "subject":
				subject = h.Value
			case "date":
				date = h.Value
			}
		}
	}
	return model.SentMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		To:       to,
		Subject:  subject,
		Snippet:  msg.Snippet,
		SentAt:   messageTime(msg.InternalDate, date),
	}
}

// CheckThreadForReply inspects a thread for a reply according to the gateway policy.
func (g *Gateway) CheckThreadForReply(ctx context.Context, threadID string) (model.ThreadReply, error) {
	msgs, err := g.threadMessages(ctx, threadID)
	if err != nil {
		return model.ThreadReply{}, err
	}
	account, err := g.AccountAddress(ctx)
	if err != nil {
		return model.ThreadReply{}, err
	}
	return findReply(msgs, account, g.policy), nil
}

func (g *Gateway) threadMessages(ctx context.Context, threadID string) ([]threadMessage, error) {
	th, err := g.svc.Users.Threads.Get(user, threadID).
		Format("metadata").
		MetadataHeaders("From", "Date", "Message-ID").
		Context(ctx).
		Do()
	if err != nil {
		return nil, classifyError("get thread "+threadID, err)
	}
	out := make([]threadMessage, 0, len(th.Messages))
	for _, m := range th.Messages {
		tm := threadMessage{ID: m.Id, Snippet: m.Snippet}
		var date string
		if m.Payload != nil {
			for _, h := range m.Payload.Headers {
				switch strings.ToLower(h.Name) {
				case "from":
					tm.From = h.Value
				case "date":
					date = h.Value
				case "message-id":
					tm.MessageID = h.Value
				}
			}
		}
		tm.At = messageTime(m.InternalDate, date)
		out = append(out, tm)
	}
	return out, nil
}

// FindReplyFrom finds the newest message from address received after the given time.
func (g *Gateway) FindReplyFrom(ctx context.Context, address string, after time.Time) (model.ThreadReply, error) {
	q := fmt.Sprintf("from:%s after:%d", address, after.Unix())
	resp, err := g.svc.Users.Messages.List(user).Q(q).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return model.ThreadReply{}, classifyError("search replies", err)
	}
	if len(resp.Messages) == 0 {
		return model.ThreadReply{}, nil
	}
	msg, err := g.svc.Users.Messages.Get(user, resp.Messages[0].Id).
		Format("metadata").
		MetadataHeaders("From", "Date").
		Context(ctx).
		Do()
	if err != nil {
		return model.ThreadReply{}, classifyError("get reply", err)
	}
	var from, date string
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				from = h.Value
			case "date":
				date = h.Value
			}
		}
	}
	at := messageTime(msg.InternalDate, date)
	// The search is day-granular on some accounts; enforce the bound here.
	if !at.After(after) {
		return model.ThreadReply{}, nil
	}
	return model.ThreadReply{Found: true, Snippet: msg.Snippet, From: from, At: at}, nil
}

// Send delivers m. With a thread id the message is threaded under the thread's
// last message.
func (g *Gateway) Send(ctx context.Context, m model.OutgoingMessage) error {
	out := outgoing{To: m.To, Subject: m.Subject, Body: m.Body}
	if m.ThreadID != "" {
		msgs, err := g.threadMessages(ctx, m.ThreadID)
		if err != nil {
			return err
		}
		var refs []string
		for _, tm := range msgs {
			if tm.MessageID != "" {
				refs = append(refs, tm.MessageID)
			}
		}
		if n := len(refs); n > 0 {
			out.InReplyTo = refs[n-1]
			out.References = strings.Join(refs[:n-1], " ")
		}
	}
	_, err := g.svc.Users.Messages.Send(user, &gmailv1.Message{
		Raw:      buildRaw(out),
		ThreadId: m.ThreadID,
	}).Context(ctx).Do()
	if err != nil {
		return classifyError("send message", err)
	}
	return nil
}

// messageTime prefers Gmail's internal date and falls back to the Date header.
func messageTime(internalMillis int64, dateHeader string) time.Time {
	if internalMillis > 0 {
		return time.UnixMilli(internalMillis)
	}
	return parseDate(dateHeader)
}

func parseDate(h string) time.Time {
	if h == "" {
		return time.Time{}
	}
	// Try common formats Gmail uses in Date header.
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		time.RFC822Z,
		time.RFC822,
		time.RFC850,
		time.RFC3339,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, strings.TrimSpace(h)); err == nil {
			return t
		}
	}
	return time.Time{}
}
