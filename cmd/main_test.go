package main

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stayops/concierge/internal/config"
	"github.com/stayops/concierge/internal/prompt"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHoursConversion(t *testing.T) {
	if got := hours(1); got != time.Hour {
		t.Fatalf("expected 1h, got %s", got)
	}
	if got := hours(0.5); got != 30*time.Minute {
		t.Fatalf("expected 30m, got %s", got)
	}
}

func TestValkeyConfigMapping(t *testing.T) {
	mapped := valkeyConfig(config.ValkeyConfig{
		Address:     "valkey:6379",
		Username:    "svc",
		Password:    "secret",
		DB:          2,
		TTLHours:    24,
		Compression: true,
		TLS:         config.ValkeyTLSConfig{Enabled: true, CAFile: "/etc/ssl/ca.pem"},
	})

	if mapped.Address != "valkey:6379" || mapped.DB != 2 || !mapped.Compression {
		t.Fatalf("unexpected mapping: %#v", mapped)
	}
	if mapped.TTL != 24*time.Hour {
		t.Fatalf("expected 24h ttl, got %s", mapped.TTL)
	}
	if !mapped.TLS.Enabled || mapped.TLS.CAFile != "/etc/ssl/ca.pem" {
		t.Fatalf("unexpected tls mapping: %#v", mapped.TLS)
	}
}

func TestLoadPromptFallsBackToBuiltin(t *testing.T) {
	p := loadPrompt(discardLogger(), config.ChatConfig{
		PromptsFolder: filepath.Join(t.TempDir(), "absent"),
		PromptFile:    "prompt.txt",
	})
	if p == nil {
		t.Fatalf("expected built-in prompt")
	}
	rendered, err := p.Render(prompt.Data{Context: "문서 1: 테스트"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(rendered, "문서 1: 테스트") {
		t.Fatalf("expected context in built-in prompt: %q", rendered)
	}
}

func TestLoadPromptPrefersDeployedFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "prompt.txt"), []byte("custom: {{ .Context }}"), 0o600); err != nil {
		t.Fatalf("write prompt: %v", err)
	}

	p := loadPrompt(discardLogger(), config.ChatConfig{PromptsFolder: dir, PromptFile: "prompt.txt"})
	rendered, err := p.Render(prompt.Data{Context: "passage"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if rendered != "custom: passage" {
		t.Fatalf("expected deployed prompt, got %q", rendered)
	}
}

func TestBuildResponseCacheLocalOnly(t *testing.T) {
	tiered, closer, err := buildResponseCache(discardLogger(), config.CacheConfig{MaxSize: 10, TTLHours: 1}, nil)
	if err != nil {
		t.Fatalf("build cache: %v", err)
	}
	defer closer()
	if tiered == nil {
		t.Fatalf("expected cache")
	}
}

func TestBuildResponseCacheRejectsBadLocalConfig(t *testing.T) {
	if _, _, err := buildResponseCache(discardLogger(), config.CacheConfig{MaxSize: 0, TTLHours: 1}, nil); err == nil {
		t.Fatalf("expected error for invalid local tier config")
	}
}
