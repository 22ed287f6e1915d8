package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.SendConcurrency != 2 {
		t.Errorf("expected SendConcurrency 2, got %d", cfg.SendConcurrency)
	}
	if cfg.TextTimeout != 10*time.Second {
		t.Errorf("expected TextTimeout 10s, got %v", cfg.TextTimeout)
	}
	if cfg.AttachmentTimeout != 30*time.Second {
		t.Errorf("expected AttachmentTimeout 30s, got %v", cfg.AttachmentTimeout)
	}
	if cfg.MatchTolerance != 5*time.Second {
		t.Errorf("expected MatchTolerance 5s, got %v", cfg.MatchTolerance)
	}
	if cfg.ResolvedRetention != 60*time.Second {
		t.Errorf("expected ResolvedRetention 60s, got %v", cfg.ResolvedRetention)
	}
	if !cfg.ExcludeSelf {
		t.Error("expected ExcludeSelf to default to true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MS", "500")
	t.Setenv("SEND_CONCURRENCY", "4")
	t.Setenv("WEBHOOK_URL", "http://localhost:9999/hook")
	t.Setenv("WEBHOOK_RETRIES", "5")
	t.Setenv("UNREAD_ONLY", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("expected PollInterval 500ms, got %v", cfg.PollInterval)
	}
	if cfg.SendConcurrency != 4 {
		t.Errorf("expected SendConcurrency 4, got %d", cfg.SendConcurrency)
	}
	if cfg.WebhookURL != "http://localhost:9999/hook" {
		t.Errorf("unexpected WebhookURL %q", cfg.WebhookURL)
	}
	if cfg.WebhookRetries != 5 {
		t.Errorf("expected WebhookRetries 5, got %d", cfg.WebhookRetries)
	}
	if !cfg.UnreadOnly {
		t.Error("expected UnreadOnly true")
	}
}

func TestLoadWebhookHeaders(t *testing.T) {
	t.Setenv("WEBHOOK_HEADERS", "Authorization: Bearer abc, X-Source: bridge")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if got := cfg.WebhookHeaders["Authorization"]; got != "Bearer abc" {
		t.Errorf("unexpected Authorization header %q", got)
	}
	if got := cfg.WebhookHeaders["X-Source"]; got != "bridge" {
		t.Errorf("unexpected X-Source header %q", got)
	}
	if len(cfg.WebhookHeaders) != 2 {
		t.Errorf("expected 2 headers, got %d", len(cfg.WebhookHeaders))
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"SEND_CONCURRENCY": "0",
		"POLL_INTERVAL_MS": "abc",
		"WEBHOOK_RETRIES":  "-1",
		"PORT":             "notaport",
		"WEBHOOK_HEADERS":  "no-colon-here",
	}

	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(); err == nil {
				t.Errorf("expected error for %s=%s", key, val)
			}
		})
	}
}
