package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"caricature/internal/domain"
	"caricature/internal/infra"
	"caricature/internal/middleware"
	"caricature/internal/orchestrator"
	"caricature/internal/styles"
)

// Generator runs a generation to completion for one owner.
type Generator interface {
	CreateOrResume(ctx context.Context, req orchestrator.Request, progress orchestrator.ProgressFunc) (*orchestrator.Result, error)
}

// StyleCatalog lists and resolves styles.
type StyleCatalog interface {
	List(ctx context.Context) ([]styles.Style, error)
	Resolve(ctx context.Context, name string) (styles.Style, error)
}

type App struct {
	Generator Generator
	Jobs      domain.JobStore
	Ledger    domain.CreditLedger
	Styles    StyleCatalog
	Logger    *infra.Logger

	validate *validator.Validate
	sessions *sessionRegistry
}

func NewApp(gen Generator, jobs domain.JobStore, ledger domain.CreditLedger, catalog StyleCatalog, logger *infra.Logger) *App {
	return &App{
		Generator: gen,
		Jobs:      jobs,
		Ledger:    ledger,
		Styles:    catalog,
		Logger:    infra.OrDiscard(logger),
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		sessions:  newSessionRegistry(),
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, r *http.Request, status int, code string) {
	middleware.WriteError(w, r, status, code)
}

func (a *App) currentOwnerID(r *http.Request) string {
	return middleware.OwnerIDFromContext(r.Context())
}

// log returns the request logger when the logging middleware ran.
func (a *App) log(r *http.Request) *infra.Logger {
	if l := middleware.LoggerFromContext(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return a.Logger
}

// sessionRegistry keeps at most one live generation stream per owner in this
// process.
type sessionRegistry struct {
	mu     sync.Mutex
	owners map[string]struct{}
}

func newSessionRegistry() *sessionRegistry {
	return &sessionRegistry{owners: make(map[string]struct{})}
}

func (s *sessionRegistry) tryAcquire(ownerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.owners[ownerID]; busy {
		return false
	}
	s.owners[ownerID] = struct{}{}
	return true
}

func (s *sessionRegistry) release(ownerID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.owners, ownerID)
}
