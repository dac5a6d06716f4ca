package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"caricature/internal/adapter/memory"
	"caricature/internal/clock"
	"caricature/internal/domain"
	"caricature/internal/http/handlers"
	"caricature/internal/middleware"
	"caricature/internal/orchestrator"
	"caricature/internal/providers/renderer"
	"caricature/internal/styles"
)

type instantRenderer struct{}

func (instantRenderer) Dispatch(ctx context.Context, inputImage, styleImage string) (string, error) {
	return "https://renderer/poll/1", nil
}

func (instantRenderer) Poll(ctx context.Context, handle string) (renderer.PollResult, error) {
	return renderer.PollResult{Status: renderer.StatusCompleted, OutputImage: "https://out/1.png"}, nil
}

type oneStyle struct{}

func (oneStyle) List(ctx context.Context) ([]styles.Style, error) {
	return []styles.Style{{Name: "elf", URL: "https://cdn/styles/elf.png"}}, nil
}

func (oneStyle) Resolve(ctx context.Context, name string) (styles.Style, error) {
	if name != "elf" {
		return styles.Style{}, domain.ErrNotFound
	}
	return styles.Style{Name: "elf", URL: "https://cdn/styles/elf.png"}, nil
}

func newTestRouter(t *testing.T, staticDir string) (http.Handler, *memory.Store) {
	t.Helper()
	store := memory.NewStore(1)
	orch, err := orchestrator.New(orchestrator.Options{
		Jobs:     store,
		Ledger:   store,
		Renderer: instantRenderer{},
		Clock:    clock.NewFake(time.Now()),
	})
	if err != nil {
		t.Fatalf("orchestrator.New: %v", err)
	}
	app := handlers.NewApp(orch, store, store, oneStyle{}, nil)
	return NewRouter(app, Options{
		JWTSecret:       "secret",
		RateLimitPerMin: 10,
		StaticDir:       staticDir,
		Logger:          zerolog.New(io.Discard),
	}), store
}

func TestRouterRequiresAuthOutsideHealth(t *testing.T) {
	router, _ := newTestRouter(t, "")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}

	for _, path := range []string{"/v1/credits", "/v1/styles", "/v1/generations/active"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s = %d, want 401", path, rec.Code)
		}
	}
}

func TestRouterGenerationRoundTrip(t *testing.T) {
	router, store := newTestRouter(t, "")
	token, err := middleware.SignJWT("secret", "owner-1", "id", time.Hour)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}

	body := bytes.NewBufferString(`{"input_image":"https://in/face.png","style":"elf"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/generations", body)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	if b, _ := store.Balance(context.Background(), "owner-1"); b != 0 {
		t.Fatalf("balance = %d", b)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/generations", strings.NewReader(`{"input_image":"https://in/face.png","style":"elf"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("second create = %d, want 402", rec.Code)
	}
	var errBody middleware.ErrorBody
	if err := json.NewDecoder(rec.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if errBody.Message != middleware.Message("id", middleware.CodeInsufficientCredits) {
		t.Fatalf("message not localized from token: %q", errBody.Message)
	}
}

func TestRouterServesStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "styles"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "styles", "elf.png"), []byte("png"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	router, _ := newTestRouter(t, dir)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/styles/elf.png", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "png" {
		t.Fatalf("static = %d %q", rec.Code, rec.Body.String())
	}
}
