package main

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/storefront/orders-api/internal/platform/config"
)

func TestBuildInfoFromEnv(t *testing.T) {
	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	cfg := config.Config{Server: config.ServerConfig{Environment: "staging"}}

	info := buildInfoFromEnv(map[string]string{}, cfg, started)
	if info.Version != "dev" || info.CommitSHA != "unknown" {
		t.Fatalf("unexpected defaults: %+v", info)
	}
	if info.Environment != "staging" || !info.StartedAt.Equal(started) {
		t.Fatalf("unexpected build info: %+v", info)
	}

	info = buildInfoFromEnv(map[string]string{
		"API_BUILD_VERSION":    " 1.4.0 ",
		"API_BUILD_COMMIT_SHA": "abc123",
	}, cfg, started)
	if info.Version != "1.4.0" || info.CommitSHA != "abc123" {
		t.Fatalf("unexpected build info: %+v", info)
	}
}

func TestLogLevelFromEnv(t *testing.T) {
	if got := logLevelFromEnv(map[string]string{}); got != "info" {
		t.Fatalf("expected info, got %q", got)
	}
	if got := logLevelFromEnv(map[string]string{"API_LOG_LEVEL": "warn"}); got != "warn" {
		t.Fatalf("expected warn, got %q", got)
	}
	if got := logLevelFromEnv(map[string]string{"LOG_LEVEL": "debug", "API_LOG_LEVEL": "warn"}); got != "debug" {
		t.Fatalf("LOG_LEVEL should win, got %q", got)
	}
}

func TestTraceProjectID(t *testing.T) {
	cfg := config.Config{Firestore: config.FirestoreConfig{ProjectID: "store-db"}}
	if got := traceProjectID(cfg); got != "store-db" {
		t.Fatalf("expected firestore project, got %q", got)
	}
	cfg.Firebase.ProjectID = "store-auth"
	if got := traceProjectID(cfg); got != "store-auth" {
		t.Fatalf("expected firebase project, got %q", got)
	}
}

func TestStartTickerStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var runs atomic.Int32

	startTicker(ctx, &wg, 5*time.Millisecond, func(context.Context) { runs.Add(1) })
	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	wg.Wait()

	if runs.Load() == 0 {
		t.Fatal("expected at least one run")
	}
}

func TestStartTickerDisabled(t *testing.T) {
	var wg sync.WaitGroup
	startTicker(context.Background(), &wg, 0, func(context.Context) { t.Fatal("should not run") })
	wg.Wait()
}
