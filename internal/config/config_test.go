package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"sentinal/internal/ai"
)

// unset removes key for the duration of the test.
func unset(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	os.Unsetenv(key)
}

func TestLoad_Defaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SENTINAL_CONFIG_DIR", dir)
	for _, k := range []string{"SYNC_INTERVAL", "ESCALATE_AFTER", "AI_PROVIDER", "GEMINI_API_KEY", "API_KEY", "SENT_LOOKBACK", "SENTINAL_DB", "REPLY_DETECTION", "GOOGLE_CLIENT_SECRET_FILE"} {
		unset(t, k)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBPath != filepath.Join(dir, "sentinal.db") {
		t.Fatalf("DBPath = %q", cfg.DBPath)
	}
	if cfg.SyncInterval != 5*time.Minute || cfg.EscalateAfter != 24*time.Hour {
		t.Fatalf("durations = %v / %v", cfg.SyncInterval, cfg.EscalateAfter)
	}
	if cfg.AI.Provider != ai.ProviderAuto || cfg.SentLookback != 50 || cfg.ReplyDetection != "sender" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ClientSecretJSON() != nil {
		t.Fatal("expected no client secret file")
	}
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SENTINAL_CONFIG_DIR", dir)
	unset(t, "SYNC_INTERVAL")
	unset(t, "SENT_LOOKBACK")
	t.Setenv("ESCALATE_AFTER", "90m")
	env := "SYNC_INTERVAL=30s\nSENT_LOOKBACK=20\nESCALATE_AFTER=1h\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "client_secret.json"), []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SyncInterval != 30*time.Second || cfg.SentLookback != 20 {
		t.Fatalf("from .env: %v / %d", cfg.SyncInterval, cfg.SentLookback)
	}
	if cfg.EscalateAfter != 90*time.Minute {
		t.Fatalf("environment should win over .env, got %v", cfg.EscalateAfter)
	}
	if string(cfg.ClientSecretJSON()) != "{}" {
		t.Fatal("client secret not read")
	}
}
