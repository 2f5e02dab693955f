package handlers

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"clipgen/internal/domain"
	"clipgen/internal/middleware"
)

type credentialRequest struct {
	APIKey string `json:"api_key"`
}

var errNoCredentialStore = fmt.Errorf("%w: credential storage is not configured", domain.ErrNotFound)

// SetCredential stores or rotates a vendor key. Operator only.
func (a *App) SetCredential(w http.ResponseWriter, r *http.Request) {
	if a.credentials == nil {
		a.fail(w, r, errNoCredentialStore)
		return
	}
	var body credentialRequest
	if err := readJSON(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	provider := chi.URLParam(r, "provider")
	if err := a.credentials.SetToken(r.Context(), provider, body.APIKey); err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.Info().
		Str("provider", provider).
		Str("operator", middleware.OperatorFromContext(r.Context())).
		Msg("http: vendor credential updated")
	w.WriteHeader(http.StatusNoContent)
}

// DeleteCredential drops a stored vendor key so the vendor falls back to its
// environment key.
func (a *App) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	if a.credentials == nil {
		a.fail(w, r, errNoCredentialStore)
		return
	}
	provider := chi.URLParam(r, "provider")
	if err := a.credentials.DeleteToken(r.Context(), provider); err != nil {
		a.fail(w, r, err)
		return
	}
	a.logger.Info().
		Str("provider", provider).
		Str("operator", middleware.OperatorFromContext(r.Context())).
		Msg("http: vendor credential removed")
	w.WriteHeader(http.StatusNoContent)
}
