package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("STORAGE_BUCKET", "")
	t.Setenv("WEBHOOK_VERIFY", "")
	t.Setenv("ACCESS_TTL_SECONDS", "")

	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.StorageBucket != "portfolio" {
		t.Fatalf("expected portfolio bucket, got %q", cfg.StorageBucket)
	}
	if cfg.WebhookVerify != "none" {
		t.Fatalf("expected webhook verify none, got %q", cfg.WebhookVerify)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("expected 15m access ttl, got %s", cfg.AccessTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WEBHOOK_VERIFY", "HMAC")
	t.Setenv("STORAGE_USE_SSL", "true")
	t.Setenv("IMAGESYNC_LEASE_TTL_SECONDS", "45")
	t.Setenv("STORAGE_PUBLIC_BASE_URL", "https://cdn.example.com/")
	t.Setenv("PUBLIC_RATE_LIMIT_PER_MINUTE", "not-a-number")

	cfg := Load()
	if cfg.WebhookVerify != "hmac" {
		t.Fatalf("expected lower-cased verify mode, got %q", cfg.WebhookVerify)
	}
	if !cfg.StorageUseSSL {
		t.Fatal("expected ssl enabled")
	}
	if cfg.LeaseTTL != 45*time.Second {
		t.Fatalf("unexpected lease ttl %s", cfg.LeaseTTL)
	}
	if cfg.StoragePublicBaseURL != "https://cdn.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.StoragePublicBaseURL)
	}
	if cfg.PublicRateLimitPerMinute != 20 {
		t.Fatalf("expected fallback rate limit, got %d", cfg.PublicRateLimitPerMinute)
	}
}
