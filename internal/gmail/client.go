package gmail

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"sentinal/internal/model"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmailv1 "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

// TokenKey is the settings key the OAuth token is stored under.
const TokenKey = "sentinal_gmail_token"

// Scopes requested at authorization: read threads and send follow-ups.
var Scopes = []string{gmailv1.GmailReadonlyScope, gmailv1.GmailSendScope}

// TokenStore persists the OAuth token between runs.
type TokenStore interface {
	GetValue(ctx context.Context, key string) (string, error)
	SetValue(ctx context.Context, key, value string) error
	DeleteValue(ctx context.Context, key string) error
}

// OAuthConfig builds the client config from a downloaded client_secret.json,
// or from a bare client id and secret when no file is available.
func OAuthConfig(clientSecretJSON []byte, clientID, clientSecret string) (*oauth2.Config, error) {
	if len(clientSecretJSON) > 0 {
		cfg, err := google.ConfigFromJSON(clientSecretJSON, Scopes...)
		if err != nil {
			return nil, fmt.Errorf("parse oauth config: %w", err)
		}
		return cfg, nil
	}
	clientID = cleanClientID(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("%w: no Google client id configured", model.ErrCredentialMissing)
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       Scopes,
	}, nil
}

// cleanClientID strips whitespace and undoes an accidental double paste.
func cleanClientID(id string) string {
	id = strings.Join(strings.Fields(id), "")
	if n := len(id); n > 20 && n%2 == 0 && id[:n/2] == id[n/2:] {
		return id[:n/2]
	}
	return id
}

// Authorizer obtains, caches and revokes the Gmail credential.
type Authorizer struct {
	cfg   *oauth2.Config
	store TokenStore
}

func NewAuthorizer(cfg *oauth2.Config, store TokenStore) *Authorizer {
	return &Authorizer{cfg: cfg, store: store}
}

// HasToken reports whether a credential is cached.
func (a *Authorizer) HasToken(ctx context.Context) bool {
	tok, err := a.readToken(ctx)
	return err == nil && tok != nil
}

// Service returns a Gmail client for the cached token. It fails with
// ErrCredentialMissing when nothing is cached. Refreshed tokens are written back.
func (a *Authorizer) Service(ctx context.Context) (*gmailv1.Service, error) {
	tok, err := a.readToken(ctx)
	if err != nil {
		return nil, err
	}
	src := &notifyTokenSource{
		src:     a.cfg.TokenSource(ctx, tok),
		current: tok,
		save:    func(t *oauth2.Token) error { return a.saveToken(ctx, t) },
	}
	svc, err := gmailv1.NewService(ctx, option.WithHTTPClient(oauth2.NewClient(ctx, src)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return svc, nil
}

// Forget drops the cached token.
func (a *Authorizer) Forget(ctx context.Context) error {
	return a.store.DeleteValue(ctx, TokenKey)
}

func (a *Authorizer) readToken(ctx context.Context) (*oauth2.Token, error) {
	raw, err := a.store.GetValue(ctx, TokenKey)
	if err != nil {
		return nil, fmt.Errorf("read token: %w", err)
	}
	if raw == "" {
		return nil, model.ErrCredentialMissing
	}
	var tok oauth2.Token
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return nil, fmt.Errorf("%w: stored token unreadable: %v", model.ErrCredentialMissing, err)
	}
	return &tok, nil
}

func (a *Authorizer) saveToken(ctx context.Context, tok *oauth2.Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	return a.store.SetValue(ctx, TokenKey, string(b))
}

// notifyTokenSource persists tokens the oauth2 package refreshes behind our back.
type notifyTokenSource struct {
	src     oauth2.TokenSource
	current *oauth2.Token
	save    func(*oauth2.Token) error
}

func (s *notifyTokenSource) Token() (*oauth2.Token, error) {
	t, err := s.src.Token()
	if err != nil {
		return nil, err
	}
	if s.current == nil || s.current.AccessToken != t.AccessToken {
		s.current = t
		if err := s.save(t); err != nil {
			log.Printf("[Gmail] failed to persist refreshed token: %v", err)
		}
	}
	return t, nil
}

// Authorize runs the loopback consent flow. The consent URL is sent on prompts;
// a code or redirect URL typed by the user may arrive on pasted instead of the
// browser redirect. The resulting token is cached.
func (a *Authorizer) Authorize(ctx context.Context, prompts chan<- string, pasted <-chan string) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen on loopback: %w", err)
	}
	cfg := *a.cfg
	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/", ln.Addr().(*net.TCPAddr).Port)

	codes := make(chan string, 1)
	srv := loopbackServer(codes)
	go func() { _ = srv.Serve(ln) }()
	defer srv.Shutdown(context.Background())

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	select {
	case prompts <- authURL:
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := OpenBrowser(authURL); err != nil {
		log.Printf("[Gmail] could not open browser: %v", err)
	}

	var code string
	select {
	case <-ctx.Done():
		return ctx.Err()
	case code = <-codes:
	case input := <-pasted:
		code, err = codeFromInput(input)
		if err != nil {
			return err
		}
	}
	return a.exchange(ctx, &cfg, code)
}

// AuthorizeCLI is the terminal flow used outside the TUI: wait for the loopback
// redirect, then fall back to a pasted code on stdin.
func (a *Authorizer) AuthorizeCLI(ctx context.Context) error {
	cfg := *a.cfg
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err == nil {
		cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d/", ln.Addr().(*net.TCPAddr).Port)
		codes := make(chan string, 1)
		srv := loopbackServer(codes)
		go func() { _ = srv.Serve(ln) }()

		authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
		fmt.Fprintln(os.Stderr, "A browser window will open. If it does not, copy this URL:")
		fmt.Fprintln(os.Stderr, authURL)
		fmt.Fprintf(os.Stderr, "Waiting for redirect on %s …\n", cfg.RedirectURL)
		_ = OpenBrowser(authURL)

		select {
		case <-ctx.Done():
			_ = srv.Shutdown(context.Background())
			return ctx.Err()
		case code := <-codes:
			_ = srv.Shutdown(context.Background())
			return a.exchange(ctx, &cfg, code)
		case <-time.After(120 * time.Second):
			_ = srv.Shutdown(context.Background())
			cfg.RedirectURL = a.cfg.RedirectURL
			fmt.Fprintln(os.Stderr, "Timeout waiting for redirect; falling back to manual paste.")
		}
	}

	authURL := cfg.AuthCodeURL("state-token", oauth2.AccessTypeOffline, oauth2.ApprovalForce)
	fmt.Fprintln(os.Stderr, "Open this URL in your browser to authorize Sentinal:")
	fmt.Fprintln(os.Stderr, authURL)
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Paste the AUTH CODE itself or the FULL redirect URL here, then press Enter.")
	fmt.Fprint(os.Stderr, "> ")

	sc := bufio.NewScanner(os.Stdin)
	sc.Buffer(make([]byte, 0, 1024), 1024*1024)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return fmt.Errorf("read auth code: %w", err)
		}
		return errors.New("empty authorization code")
	}
	code, err := codeFromInput(sc.Text())
	if err != nil {
		return err
	}
	return a.exchange(ctx, &cfg, code)
}

func (a *Authorizer) exchange(ctx context.Context, cfg *oauth2.Config, code string) error {
	tok, err := cfg.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("token exchange: %w", err)
	}
	if err := a.saveToken(ctx, tok); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

func loopbackServer(codes chan<- string) *http.Server {
	mux := http.NewServeMux()
	srv := &http.Server{
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "Missing 'code' parameter", http.StatusBadRequest)
			return
		}
		fmt.Fprintln(w, "Authentication complete. You can close this window.")
		select {
		case codes <- code:
		default:
		}
	})
	return srv
}

// codeFromInput accepts either the bare code or the full redirect URL.
func codeFromInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty authorization code")
	}
	if !strings.HasPrefix(input, "http://") && !strings.HasPrefix(input, "https://") {
		return input, nil
	}
	u, err := url.Parse(input)
	if err != nil {
		return "", fmt.Errorf("parse redirect URL: %w", err)
	}
	c := u.Query().Get("code")
	if c == "" {
		return "", errors.New("no 'code' parameter found in pasted URL")
	}
	return c, nil
}
