package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"sentinal/internal/ai"

	"github.com/joho/godotenv"
)

type Config struct {
	ConfigDir        string
	DBPath           string
	LogPath          string
	ClientSecretPath string

	GoogleClientID     string
	GoogleClientSecret string

	AI ai.Config

	SyncInterval     time.Duration
	SyncTimeout      time.Duration
	SyncBackoffMax   time.Duration
	EscalateAfter    time.Duration
	ReplyDetection   string
	SentLookback     int64
	ReplyConcurrency int
}

// Load reads .env from the working directory and the config directory, then the
// environment. Variables already set in the environment win.
func Load() (*Config, error) {
	dir := os.Getenv("SENTINAL_CONFIG_DIR")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(home, ".config", "sentinal")
	}

	_ = godotenv.Load()
	_ = godotenv.Load(filepath.Join(dir, ".env"))

	return &Config{
		ConfigDir:        dir,
		DBPath:           getEnv("SENTINAL_DB", filepath.Join(dir, "sentinal.db")),
		LogPath:          getEnv("SENTINAL_LOG", filepath.Join(dir, "sentinal.log")),
		ClientSecretPath: getEnv("GOOGLE_CLIENT_SECRET_FILE", filepath.Join(dir, "client_secret.json")),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),

		AI: ai.Config{
			Provider:      ai.ProviderType(getEnv("AI_PROVIDER", string(ai.ProviderAuto))),
			GeminiAPIKey:  getEnv("GEMINI_API_KEY", getEnv("API_KEY", "")),
			GeminiModel:   getEnv("GEMINI_MODEL", ""),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", ""),
		},

		SyncInterval:     getDuration("SYNC_INTERVAL", 5*time.Minute),
		SyncTimeout:      getDuration("SYNC_TIMEOUT", 2*time.Minute),
		SyncBackoffMax:   getDuration("SYNC_BACKOFF_MAX", 30*time.Minute),
		EscalateAfter:    getDuration("ESCALATE_AFTER", 24*time.Hour),
		ReplyDetection:   getEnv("REPLY_DETECTION", "sender"),
		SentLookback:     int64(getInt("SENT_LOOKBACK", 50)),
		ReplyConcurrency: getInt("REPLY_CHECK_CONCURRENCY", 4),
	}, nil
}

// ClientSecretJSON returns the downloaded OAuth client file, or nil if absent.
func (c *Config) ClientSecretJSON() []byte {
	b, err := os.ReadFile(c.ClientSecretPath)
	if err != nil {
		return nil
	}
	return b
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}
