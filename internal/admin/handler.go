// AngelaMos | 2026
// handler.go

package admin

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumenlearn/entitlement-backend/internal/core"
	"github.com/lumenlearn/entitlement-backend/internal/sweep"
)

// Sweeper runs one full re-verification pass on demand.
type Sweeper interface {
	Run(ctx context.Context) (*sweep.Summary, error)
}

// Revoker applies an idempotent revocation by purchase ID.
type Revoker interface {
	Revoke(ctx context.Context, purchaseID string) error
}

type Handler struct {
	sweeper Sweeper
	revoker Revoker
}

func NewHandler(sweeper Sweeper, revoker Revoker) *Handler {
	return &Handler{
		sweeper: sweeper,
		revoker: revoker,
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(adminOnly)

		r.Post("/sweep", h.RunSweep)
		r.Post("/purchases/{purchaseID}/revoke", h.RevokePurchase)
	})
}

// RunSweep executes a pass synchronously and reports the summary, partial
// if the pass aborted midway.
func (h *Handler) RunSweep(w http.ResponseWriter, r *http.Request) {
	summary, err := h.sweeper.Run(r.Context())
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, summary)
}

func (h *Handler) RevokePurchase(w http.ResponseWriter, r *http.Request) {
	purchaseID := chi.URLParam(r, "purchaseID")

	if err := h.revoker.Revoke(r.Context(), purchaseID); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "purchase")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.NoContent(w)
}
