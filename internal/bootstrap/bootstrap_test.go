package bootstrap

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"caricature/internal/infra"
	"caricature/internal/providers/renderer"
)

func testConfig(t *testing.T, backend string) *infra.Config {
	t.Helper()
	dir := t.TempDir()
	return &infra.Config{
		AppEnv:            "test",
		StoreBackend:      backend,
		SQLitePath:        filepath.Join(dir, "caricature.db"),
		CreditBackend:     infra.CreditBackendStore,
		InitialCredits:    2,
		RendererAPIKey:    "key",
		RendererTimeout:   time.Second,
		PollInterval:      10 * time.Millisecond,
		PollMaxIterations: 5,
		StoragePath:       filepath.Join(dir, "storage"),
		StorageBaseURL:    "http://localhost/static",
	}
}

func TestNewMemoryBackend(t *testing.T) {
	ctx := context.Background()
	svc, err := New(ctx, testConfig(t, infra.BackendMemory), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	if svc.Finalizer == nil {
		t.Fatalf("memory backend must offer the atomic finalizer")
	}
	if b, err := svc.Ledger.Balance(ctx, "owner-1"); err != nil || b != 2 {
		t.Fatalf("balance = %d, %v", b, err)
	}
	if err := svc.Migrate(ctx); err != nil {
		t.Fatalf("Migrate on memory: %v", err)
	}
	if _, err := svc.Credentials(); err == nil {
		t.Fatalf("credentials must require postgres")
	}
	if _, err := svc.Orchestrator(ctx); err != nil {
		t.Fatalf("Orchestrator: %v", err)
	}
}

func TestNewSQLiteBackendWithStyles(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, infra.BackendSQLite)
	if err := os.MkdirAll(filepath.Join(cfg.StoragePath, "styles"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(cfg.StoragePath, "styles", "elf.png"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	svc, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	style, err := svc.Styles.Resolve(ctx, "elf")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if style.URL != "http://localhost/static/styles/elf.png" {
		t.Fatalf("style url = %q", style.URL)
	}
	if _, err := os.Stat(cfg.SQLitePath); err != nil {
		t.Fatalf("sqlite file not created: %v", err)
	}
}

func TestOrchestratorNeedsRendererKey(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, infra.BackendMemory)
	cfg.RendererAPIKey = ""
	svc, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer svc.Close()

	if _, err := svc.Orchestrator(ctx); !errors.Is(err, renderer.ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	if _, err := New(context.Background(), testConfig(t, "mongo"), nil); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}
