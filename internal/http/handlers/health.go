package handlers

import (
	"net/http"

	"caricature/internal/middleware"
)

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	ownerID := a.currentOwnerID(r)
	if ownerID == "" {
		a.error(w, r, http.StatusUnauthorized, middleware.CodeUnauthorized)
		return
	}
	credits, err := a.Ledger.Balance(r.Context(), ownerID)
	if err != nil {
		a.log(r).Error().Err(err).Str("owner_id", ownerID).Msg("read credits")
		a.error(w, r, http.StatusInternalServerError, middleware.CodeInternal)
		return
	}
	a.json(w, http.StatusOK, map[string]int{"credits": credits})
}

func (a *App) ListStyles(w http.ResponseWriter, r *http.Request) {
	all, err := a.Styles.List(r.Context())
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		a.log(r).Error().Err(err).Msg("list styles")
		a.error(w, r, http.StatusInternalServerError, middleware.CodeInternal)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"styles": all})
}
