package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	tea "github.com/charmbracelet/bubbletea"

	"sentinal/internal/ai"
	"sentinal/internal/app"
	"sentinal/internal/config"
	"sentinal/internal/followup"
	"sentinal/internal/gmail"
	"sentinal/internal/model"
	"sentinal/internal/reconcile"
	"sentinal/internal/store"
	"sentinal/internal/tui"
)

func main() {
	once := flag.Bool("once", false, "run one sync, print the dashboard as JSON and exit")
	importPath := flag.String("import", "", "import leads from a JSON export and exit")
	authorize := flag.Bool("authorize", false, "authorize Gmail access in the terminal and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot load configuration: %v\n", err)
		os.Exit(1)
	}

	policy, err := gmail.ParseReplyPolicy(cfg.ReplyDetection)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid REPLY_DETECTION: %v\n", err)
		os.Exit(1)
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	creds := app.NewGmailCredentials(db, cfg.ClientSecretJSON(), cfg.GoogleClientID, cfg.GoogleClientSecret, gmail.GatewayOptions{
		Policy:   policy,
		Lookback: cfg.SentLookback,
		Workers:  cfg.ReplyConcurrency,
	})

	a := app.New(app.Options{
		Store:       db,
		Credentials: creds,
		BuildAI:     aiBuilder(cfg.AI),
		Engine: reconcile.Options{
			Threshold:   cfg.EscalateAfter,
			Concurrency: cfg.ReplyConcurrency,
		},
		SyncInterval: cfg.SyncInterval,
		SyncTimeout:  cfg.SyncTimeout,
		BackoffMax:   cfg.SyncBackoffMax,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	switch {
	case *authorize:
		if err := creds.AuthorizeCLI(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Authorization failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Gmail access granted.")
	case *importPath != "":
		if err := runImport(ctx, a, *importPath); err != nil {
			fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
			os.Exit(1)
		}
	case *once:
		if err := runOnce(ctx, a); err != nil {
			fmt.Fprintf(os.Stderr, "Sync failed: %v\n", err)
			os.Exit(1)
		}
	default:
		runTUI(cfg, a)
	}
}

// aiBuilder resolves the provider for a stored Gemini key, falling back to the
// environment. Without a provider the gateways return their default text.
func aiBuilder(base ai.Config) app.AIBuilder {
	var current ai.Provider
	return func(ctx context.Context, key string) (reconcile.Classifier, followup.Drafter) {
		if c, ok := current.(io.Closer); ok {
			c.Close()
		}
		cfg := base
		if key != "" {
			cfg.GeminiAPIKey = key
		}
		p, err := ai.NewProvider(ctx, cfg)
		if err != nil {
			log.Printf("[AI] %v; replies will not be classified and drafts are unavailable", err)
			p = nil
		} else {
			log.Printf("[AI] using %s provider", p.Name())
		}
		current = p
		return ai.NewReplyClassifier(p), ai.NewFollowUpWriter(p)
	}
}

func runImport(ctx context.Context, a *app.App, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	incoming, err := model.UnmarshalCollection(data)
	if err != nil {
		return err
	}
	if err := a.Load(ctx); err != nil {
		return err
	}
	n, err := a.Import(ctx, incoming)
	if err != nil {
		return err
	}
	fmt.Printf("Imported %d of %d leads.\n", n, len(incoming))
	return nil
}

// runOnce syncs once, online when a credential is held, and prints the dashboard.
func runOnce(ctx context.Context, a *app.App) error {
	if err := a.Load(ctx); err != nil {
		return err
	}
	if err := a.Connect(ctx); err != nil {
		log.Printf("[Sync] running offline: %v", err)
	}
	if _, err := a.Sync(ctx); err != nil {
		return err
	}
	out := struct {
		Stats     model.DashboardStats  `json:"stats"`
		Connected bool                  `json:"connected"`
		Leads     []model.TrackedEntity `json:"leads"`
	}{a.Stats(), a.Connected(), a.Entities()}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func runTUI(cfg *config.Config, a *app.App) {
	f, err := tea.LogToFile(cfg.LogPath, "sentinal")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Cannot open log file: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	appModel := tui.NewAppModel(a)
	p := tea.NewProgram(&appModel, tea.WithAltScreen())
	a.SetNotifier(func(ev app.Event) { p.Send(tui.AppEventMsg{Event: ev}) })
	finalModel, err := p.Run()
	a.SetNotifier(nil)
	a.Close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Alas, there's been an error: %v\n", err)
		os.Exit(1)
	}
	if m, ok := finalModel.(*tui.AppModel); ok && m.Err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", m.Err)
		os.Exit(1)
	}
}
