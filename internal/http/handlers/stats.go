package handlers

import (
	"fmt"
	"net/http"
	"time"

	"clipgen/internal/domain"
)

const statsWindow = 24 * time.Hour

// Stats reports the last day of the generation ledger.
func (a *App) Stats(w http.ResponseWriter, r *http.Request) {
	if a.stats == nil {
		a.fail(w, r, fmt.Errorf("%w: generation ledger is not configured", domain.ErrNotFound))
		return
	}
	summary, err := a.stats.Summary(r.Context(), statsWindow)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, summary)
}
