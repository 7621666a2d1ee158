package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/groupmind/digestd/internal/core"
	"github.com/groupmind/digestd/internal/quota"
)

// QuotaReader reads current quota usage without reserving anything.
type QuotaReader interface {
	Status(ctx context.Context, actorID string, limits core.TierLimits) (short, long quota.WindowUsage, err error)
}

// QuotaHandler serves the informational quota status endpoint.
type QuotaHandler struct {
	limiter QuotaReader
}

// NewQuotaHandler creates a new QuotaHandler.
func NewQuotaHandler(limiter QuotaReader) *QuotaHandler {
	return &QuotaHandler{limiter: limiter}
}

// Status handles GET /v1/quota/{actor}. The tier query parameter selects
// the limits to report against; unknown tiers fall back to free.
func (h *QuotaHandler) Status(w http.ResponseWriter, r *http.Request) {
	actorID := chi.URLParam(r, "actor")
	limits := core.DefaultTierLimits(r.URL.Query().Get("tier"))

	short, long, err := h.limiter.Status(r.Context(), actorID, limits)
	if err != nil {
		HandleError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"actor_id": actorID,
		"tier":     limits.Tier,
		"windows": map[string]quota.WindowUsage{
			"short": short,
			"long":  long,
		},
	})
}
