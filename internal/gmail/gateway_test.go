package gmail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sentinal/internal/model"

	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

var t0 = time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)

type fakeGmail struct {
	mu       sync.Mutex
	messages map[string]map[string]any
	threads  map[string]map[string]any
	sent     []map[string]string
	status   int
	lastQ    string
}

func header(name, value string) map[string]string {
	return map[string]string{"name": name, "value": value}
}

func message(id, thread, snippet string, at time.Time, headers ...map[string]string) map[string]any {
	return map[string]any{
		"id":           id,
		"threadId":     thread,
		"snippet":      snippet,
		"internalDate": fmt.Sprint(at.UnixMilli()),
		"payload":      map[string]any{"headers": headers},
	}
}

func (f *fakeGmail) handler() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(v)
	}
	guard := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if f.status != 0 {
				http.Error(w, `{"error":{"code":`+fmt.Sprint(f.status)+`,"message":"nope"}}`, f.status)
				return
			}
			next(w, r)
		}
	}
	mux.HandleFunc("GET /gmail/v1/users/me/profile", guard(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"emailAddress": "owner@agency.com"})
	}))
	mux.HandleFunc("GET /gmail/v1/users/me/messages", guard(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.lastQ = r.URL.Query().Get("q")
		f.mu.Unlock()
		var refs []map[string]string
		for _, id := range []string{"m2", "m1"} {
			if m, ok := f.messages[id]; ok {
				refs = append(refs, map[string]string{"id": id, "threadId": m["threadId"].(string)})
			}
		}
		if strings.HasPrefix(r.URL.Query().Get("q"), "from:nobody") {
			refs = nil
		}
		writeJSON(w, map[string]any{"messages": refs})
	}))
	mux.HandleFunc("GET /gmail/v1/users/me/messages/{id}", guard(func(w http.ResponseWriter, r *http.Request) {
		m, ok := f.messages[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, m)
	}))
	mux.HandleFunc("GET /gmail/v1/users/me/threads/{id}", guard(func(w http.ResponseWriter, r *http.Request) {
		th, ok := f.threads[r.PathValue("id")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, th)
	}))
	mux.HandleFunc("POST /gmail/v1/users/me/messages/send", guard(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.sent = append(f.sent, body)
		f.mu.Unlock()
		writeJSON(w, map[string]any{"id": "sent-1", "threadId": body["threadId"]})
	}))
	return mux
}

func newTestGateway(t *testing.T, f *fakeGmail, opts GatewayOptions) *Gateway {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	svc, err := gmailv1.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return NewGateway(svc, opts)
}

func fixture() *fakeGmail {
	return &fakeGmail{
		messages: map[string]map[string]any{
			"m1": message("m1", "t1", "Hi Ann", t0, header("To", "Ann <ann@client.com>"), header("Subject", "Proposal")),
			"m2": message("m2", "t2", "Hello Bo", t0.Add(time.Hour), header("To", "bo@client.com"), header("Subject", "Intro")),
		},
		threads: map[string]map[string]any{
			"t1": {"id": "t1", "messages": []any{
				message("m1", "t1", "Hi Ann", t0, header("From", "Owner <owner@agency.com>"), header("Message-ID", "<m1@agency>")),
				message("r1", "t1", "Sounds good", t0.Add(2*time.Hour), header("From", "Ann <ann@client.com>"), header("Message-ID", "<r1@client>")),
			}},
			"t2": {"id": "t2", "messages": []any{
				message("m2", "t2", "Hello Bo", t0.Add(time.Hour), header("From", "owner@agency.com")),
			}},
		},
	}
}

func TestGateway_ListSentMessages(t *testing.T) {
	f := fixture()
	g := newTestGateway(t, f, GatewayOptions{Workers: 2})
	got, err := g.ListSentMessages(context.Background())
	if err != nil {
		t.Fatalf("ListSentMessages: %v", err)
	}
	if f.lastQ != "in:sent" {
		t.Fatalf("query = %q", f.lastQ)
	}
	if len(got) != 2 || got[0].ID != "m2" || got[1].ID != "m1" {
		t.Fatalf("got %+v", got)
	}
	m1 := got[1]
	if m1.ThreadID != "t1" || m1.To != "Ann <ann@client.com>" || m1.Subject != "Proposal" || m1.Snippet != "Hi Ann" || !m1.SentAt.Equal(t0) {
		t.Fatalf("m1 = %+v", m1)
	}
}

func TestGateway_CheckThreadForReply(t *testing.T) {
	g := newTestGateway(t, fixture(), GatewayOptions{})
	ctx := context.Background()

	r, err := g.CheckThreadForReply(ctx, "t1")
	if err != nil {
		t.Fatalf("CheckThreadForReply t1: %v", err)
	}
	if !r.Found || r.Snippet != "Sounds good" || !r.At.Equal(t0.Add(2*time.Hour)) {
		t.Fatalf("t1 reply = %+v", r)
	}
	r, err = g.CheckThreadForReply(ctx, "t2")
	if err != nil || r.Found {
		t.Fatalf("t2 reply = %+v, %v", r, err)
	}
}

func TestGateway_FindReplyFrom(t *testing.T) {
	f := fixture()
	g := newTestGateway(t, f, GatewayOptions{})
	ctx := context.Background()

	r, err := g.FindReplyFrom(ctx, "bo@client.com", t0)
	if err != nil {
		t.Fatalf("FindReplyFrom: %v", err)
	}
	if !r.Found || r.Snippet != "Hello Bo" {
		t.Fatalf("reply = %+v", r)
	}
	if want := fmt.Sprintf("from:bo@client.com after:%d", t0.Unix()); f.lastQ != want {
		t.Fatalf("query = %q; want %q", f.lastQ, want)
	}
	// Messages at or before the bound are ignored even if the search returns them.
	r, err = g.FindReplyFrom(ctx, "bo@client.com", t0.Add(time.Hour))
	if err != nil || r.Found {
		t.Fatalf("bounded reply = %+v, %v", r, err)
	}
	r, err = g.FindReplyFrom(ctx, "nobody@client.com", t0)
	if err != nil || r.Found {
		t.Fatalf("no reply = %+v, %v", r, err)
	}
}

func TestGateway_SendInThread(t *testing.T) {
	f := fixture()
	g := newTestGateway(t, f, GatewayOptions{})
	err := g.Send(context.Background(), model.OutgoingMessage{
		To: "ann@client.com", Subject: "Re: Proposal", Body: "Following up", ThreadID: "t1",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(f.sent) != 1 || f.sent[0]["threadId"] != "t1" {
		t.Fatalf("sent = %+v", f.sent)
	}
	msg := decodeRaw(t, f.sent[0]["raw"])
	if !strings.Contains(msg, "In-Reply-To: <r1@client>\r\n") || !strings.Contains(msg, "References: <m1@agency> <r1@client>\r\n") {
		t.Fatalf("threading headers missing:\n%s", msg)
	}
}

func TestGateway_ErrorKinds(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, model.ErrCredentialExpired},
		{http.StatusServiceUnavailable, model.ErrGatewayUnavailable},
	}
	for _, tc := range tests {
		f := fixture()
		f.status = tc.status
		g := newTestGateway(t, f, GatewayOptions{})
		if _, err := g.ListSentMessages(context.Background()); !errors.Is(err, tc.want) {
			t.Fatalf("status %d: got %v; want %v", tc.status, err, tc.want)
		}
	}
}

func TestParseDate(t *testing.T) {
	tests := []string{
		"Tue, 1 Apr 2025 10:00:00 +0000",
		"Tue, 01 Apr 2025 10:00:00 +0000",
		"Tue, 1 Apr 2025 10:00:00 +0000 (UTC)",
		"2025-04-01T10:00:00Z",
	}
	for _, in := range tests {
		if got := parseDate(in); !got.Equal(t0) {
			t.Errorf("parseDate(%q) = %v", in, got)
		}
	}
	if !parseDate("garbage").IsZero() {
		t.Error("garbage should parse to zero time")
	}
	if got := messageTime(t0.UnixMilli(), "garbage"); !got.Equal(t0) {
		t.Errorf("internal date ignored: %v", got)
	}
}
