package app

import (
	"context"
	"fmt"
	"strings"

	"sentinal/internal/gmail"
	"sentinal/internal/store"
)

// GmailCredentials connects to Gmail with the token cached in the store. The
// OAuth client comes from the client id saved in settings, then the downloaded
// client_secret.json, then the environment.
type GmailCredentials struct {
	store        gmail.TokenStore
	secretJSON   []byte
	clientID     string
	clientSecret string
	gateway      gmail.GatewayOptions
}

func NewGmailCredentials(s gmail.TokenStore, secretJSON []byte, clientID, clientSecret string, opts gmail.GatewayOptions) *GmailCredentials {
	return &GmailCredentials{
		store:        s,
		secretJSON:   secretJSON,
		clientID:     clientID,
		clientSecret: clientSecret,
		gateway:      opts,
	}
}

// authorizer is rebuilt on every call so a client id changed in settings
// applies without a restart.
func (c *GmailCredentials) authorizer(ctx context.Context) (*gmail.Authorizer, error) {
	saved, err := c.store.GetValue(ctx, store.KeyClientID)
	if err != nil {
		return nil, fmt.Errorf("read client id: %w", err)
	}
	saved = strings.TrimSpace(saved)

	cfg, err := gmail.OAuthConfig(c.secretJSON, c.clientID, c.clientSecret)
	if saved != "" && (err != nil || cfg.ClientID != saved) {
		cfg, err = gmail.OAuthConfig(nil, saved, c.clientSecret)
	}
	if err != nil {
		return nil, err
	}
	return gmail.NewAuthorizer(cfg, c.store), nil
}

func (c *GmailCredentials) Connect(ctx context.Context) (MailGateway, error) {
	a, err := c.authorizer(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := a.Service(ctx)
	if err != nil {
		return nil, err
	}
	return gmail.NewGateway(svc, c.gateway), nil
}

func (c *GmailCredentials) Authorize(ctx context.Context, prompts chan<- string, pasted <-chan string) error {
	a, err := c.authorizer(ctx)
	if err != nil {
		return err
	}
	return a.Authorize(ctx, prompts, pasted)
}

// AuthorizeCLI runs the consent flow on the terminal.
func (c *GmailCredentials) AuthorizeCLI(ctx context.Context) error {
	a, err := c.authorizer(ctx)
	if err != nil {
		return err
	}
	return a.AuthorizeCLI(ctx)
}

func (c *GmailCredentials) Forget(ctx context.Context) error {
	return c.store.DeleteValue(ctx, gmail.TokenKey)
}
