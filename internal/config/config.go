package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Message history database (read-only)
	ChatDBPath string

	// Send pipeline
	SendConcurrency   int
	TextTimeout       time.Duration // expectation budget for plain text sends
	AttachmentTimeout time.Duration // expectation budget for attachment sends
	MatchTolerance    time.Duration // how far before send-time a row may be stamped and still match
	ResolvedRetention time.Duration // how long resolved expectations stay visible

	// Watcher
	PollInterval time.Duration
	UnreadOnly   bool
	ExcludeSelf  bool

	// Webhook delivery
	WebhookURL     string
	WebhookHeaders map[string]string
	WebhookRetries int
	WebhookBackoff time.Duration
	WebhookTimeout time.Duration // per attempt

	// Optional Redis for cross-restart row dedup
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		ChatDBPath: defaultChatDBPath(),

		SendConcurrency:   2,
		TextTimeout:       10 * time.Second,
		AttachmentTimeout: 30 * time.Second,
		MatchTolerance:    5 * time.Second,
		ResolvedRetention: 60 * time.Second,

		PollInterval: 2 * time.Second,
		UnreadOnly:   false,
		ExcludeSelf:  true,

		WebhookRetries: 2,
		WebhookBackoff: time.Second,
		WebhookTimeout: 30 * time.Second,

		RedisPort: 6379,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	if path := os.Getenv("CHAT_DB_PATH"); path != "" {
		cfg.ChatDBPath = path
	}

	if v := os.Getenv("SEND_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SEND_CONCURRENCY: %w", err)
		}
		if n <= 0 {
			return nil, fmt.Errorf("SEND_CONCURRENCY must be positive, got %d", n)
		}
		cfg.SendConcurrency = n
	}

	var err error
	if cfg.TextTimeout, err = durationEnv("TEXT_TIMEOUT_MS", cfg.TextTimeout); err != nil {
		return nil, err
	}
	if cfg.AttachmentTimeout, err = durationEnv("ATTACHMENT_TIMEOUT_MS", cfg.AttachmentTimeout); err != nil {
		return nil, err
	}
	if cfg.MatchTolerance, err = durationEnv("MATCH_TOLERANCE_MS", cfg.MatchTolerance); err != nil {
		return nil, err
	}
	if cfg.ResolvedRetention, err = durationEnv("RESOLVED_RETENTION_MS", cfg.ResolvedRetention); err != nil {
		return nil, err
	}
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL_MS", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.WebhookBackoff, err = durationEnv("WEBHOOK_BACKOFF_MS", cfg.WebhookBackoff); err != nil {
		return nil, err
	}
	if cfg.WebhookTimeout, err = durationEnv("WEBHOOK_TIMEOUT_MS", cfg.WebhookTimeout); err != nil {
		return nil, err
	}

	if v := os.Getenv("UNREAD_ONLY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid UNREAD_ONLY: %w", err)
		}
		cfg.UnreadOnly = b
	}

	if v := os.Getenv("EXCLUDE_SELF"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("invalid EXCLUDE_SELF: %w", err)
		}
		cfg.ExcludeSelf = b
	}

	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		cfg.WebhookURL = url
	}

	if v := os.Getenv("WEBHOOK_HEADERS"); v != "" {
		headers, err := parseHeaders(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_HEADERS: %w", err)
		}
		cfg.WebhookHeaders = headers
	}

	if v := os.Getenv("WEBHOOK_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_RETRIES: %w", err)
		}
		if n < 0 {
			return nil, fmt.Errorf("WEBHOOK_RETRIES must not be negative, got %d", n)
		}
		cfg.WebhookRetries = n
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	return cfg, nil
}

// parseHeaders splits comma-separated "Name: Value" pairs, e.g.
// "Authorization: Bearer abc, X-Source: bridge".
func parseHeaders(v string) (map[string]string, error) {
	headers := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, ":")
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if !ok || name == "" || value == "" {
			return nil, fmt.Errorf("malformed header pair %q", pair)
		}
		headers[name] = value
	}
	if len(headers) == 0 {
		return nil, fmt.Errorf("no header pairs found")
	}
	return headers, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if ms <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %d", key, ms)
	}
	return time.Duration(ms) * time.Millisecond, nil
}

func defaultChatDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "chat.db"
	}
	return home + "/Library/Messages/chat.db"
}
