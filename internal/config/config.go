package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/alexjbarnes/chat-sync/internal/auth"
	"github.com/alexjbarnes/chat-sync/internal/retry"
	"github.com/alexjbarnes/chat-sync/internal/state"
)

// Config holds all environment-based configuration for chat-sync.
type Config struct {
	// Chat service endpoints and credentials.
	APIURL    string `env:"CHAT_API_URL"`
	WSURL     string `env:"CHAT_WS_URL"`
	APIKey    string `env:"CHAT_API_KEY"`
	UserID    string `env:"CHAT_USER_ID"`
	UserToken string `env:"CHAT_USER_TOKEN"`

	// StatePath is the bbolt database. Defaults to ~/.chat-sync/state.db.
	StatePath string `env:"STATE_PATH"`

	// Environment controls log format
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL"`

	RetryMaxAttempts int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	RetryBaseDelay   time.Duration `env:"RETRY_BASE_DELAY" envDefault:"500ms"`
	RetryMaxDelay    time.Duration `env:"RETRY_MAX_DELAY" envDefault:"10s"`

	// SyncThreshold is the age past which pending entities are no longer
	// retried automatically.
	SyncThreshold time.Duration `env:"SYNC_THRESHOLD" envDefault:"72h"`

	UploadConcurrency     int           `env:"UPLOAD_CONCURRENCY" envDefault:"3"`
	UploadRatePerSecond   int           `env:"UPLOAD_RATE_PER_SECOND" envDefault:"5"`
	UploadUnmeteredOnly   bool          `env:"UPLOAD_UNMETERED_ONLY" envDefault:"false"`
	NetworkMetered        bool          `env:"NETWORK_METERED" envDefault:"false"`
	UploadRecheckInterval time.Duration `env:"UPLOAD_RECHECK_INTERVAL" envDefault:"30s"`
	ThumbnailMaxDim       uint          `env:"THUMBNAIL_MAX_DIM" envDefault:"320"`

	// QueriesFile is an optional YAML file of channel query presets.
	QueriesFile string `env:"QUERIES_FILE"`

	// OutboxDir enables the drop-folder sender when set.
	OutboxDir string `env:"OUTBOX_DIR"`

	// Ops HTTP server: /healthz, /metrics and, with API keys, /mcp.
	EnableHTTP     bool   `env:"ENABLE_HTTP" envDefault:"false"`
	HTTPListenAddr string `env:"HTTP_LISTEN_ADDR" envDefault:"127.0.0.1:8091"`
	MCPAPIKeys     string `env:"MCP_API_KEYS"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if cfg.StatePath == "" {
		cfg.StatePath = state.DefaultPath()
	}

	for _, p := range []*string{&cfg.StatePath, &cfg.OutboxDir, &cfg.QueriesFile} {
		if *p == "" {
			continue
		}

		abs, err := filepath.Abs(*p)
		if err != nil {
			return nil, fmt.Errorf("resolving %s to absolute path: %w", *p, err)
		}

		*p = abs
	}

	return cfg, nil
}

func (c *Config) validate() error {
	required := []struct{ name, value string }{
		{"CHAT_API_URL", c.APIURL},
		{"CHAT_WS_URL", c.WSURL},
		{"CHAT_API_KEY", c.APIKey},
		{"CHAT_USER_ID", c.UserID},
		{"CHAT_USER_TOKEN", c.UserToken},
	}

	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.name)
		}
	}

	if !strings.HasPrefix(c.WSURL, "ws://") && !strings.HasPrefix(c.WSURL, "wss://") {
		return fmt.Errorf("CHAT_WS_URL must use ws:// or wss://")
	}

	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}

	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive and no larger than RETRY_MAX_DELAY")
	}

	if c.SyncThreshold <= 0 {
		return fmt.Errorf("SYNC_THRESHOLD must be positive")
	}

	if c.UploadConcurrency < 1 {
		return fmt.Errorf("UPLOAD_CONCURRENCY must be at least 1")
	}

	if c.EnableHTTP && c.HTTPListenAddr == "" {
		return fmt.Errorf("HTTP_LISTEN_ADDR is required when ENABLE_HTTP is set")
	}

	if _, err := c.ParseMCPAPIKeys(); err != nil {
		return err
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// RetryPolicy builds the per-call retry policy.
func (c *Config) RetryPolicy() retry.Exponential {
	return retry.Exponential{
		MaxAttempts: c.RetryMaxAttempts,
		BaseDelay:   c.RetryBaseDelay,
		MaxDelay:    c.RetryMaxDelay,
		Jitter:      true,
	}
}

// ParseMCPAPIKeys parses the MCP_API_KEYS string.
// Format: "user1:cs_key1,user2:cs_key2"
func (c *Config) ParseMCPAPIKeys() ([]auth.APIKey, error) {
	if c.MCPAPIKeys == "" {
		return nil, nil
	}

	seenUsers := make(map[string]struct{})

	var entries []auth.APIKey

	for _, pair := range strings.Split(c.MCPAPIKeys, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		idx := strings.Index(pair, ":")
		if idx < 0 {
			return nil, fmt.Errorf("invalid API key entry (missing ':')")
		}

		userID := pair[:idx]

		key := pair[idx+1:]
		if userID == "" || key == "" {
			return nil, fmt.Errorf("empty user or key in entry %d", len(entries)+1)
		}

		if !strings.HasPrefix(key, auth.APIKeyPrefix) {
			return nil, fmt.Errorf("API key must start with %q prefix in entry %d", auth.APIKeyPrefix, len(entries)+1)
		}

		if len(key) < auth.APIKeyMinLen {
			return nil, fmt.Errorf("API key too short in entry %d (minimum %d characters)", len(entries)+1, auth.APIKeyMinLen)
		}

		suffix := key[len(auth.APIKeyPrefix):]
		if _, err := hex.DecodeString(suffix); err != nil {
			return nil, fmt.Errorf("API key contains non-hex characters after %q prefix in entry %d", auth.APIKeyPrefix, len(entries)+1)
		}

		if _, dup := seenUsers[userID]; dup {
			return nil, fmt.Errorf("duplicate user_id %q in MCP_API_KEYS", userID)
		}

		seenUsers[userID] = struct{}{}
		entries = append(entries, auth.APIKey{UserID: userID, Key: key})
	}

	return entries, nil
}
