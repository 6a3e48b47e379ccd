// AngelaMos | 2026
// handler.go

package webhook

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lumenlearn/entitlement-backend/internal/core"
)

type Handler struct {
	service      *Service
	pubSubSecret string
	logger       *slog.Logger
}

func NewHandler(service *Service, pubSubSecret string, logger *slog.Logger) *Handler {
	return &Handler{
		service:      service,
		pubSubSecret: pubSubSecret,
		logger:       logger,
	}
}

// RegisterRoutes mounts the store-facing endpoints. These sit outside user
// auth: Apple requests authenticate via the x5c signature on the payload,
// Google requests via the shared push secret.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/apple", h.Apple)
		r.Post("/google", h.Google)
	})
}

func (h *Handler) Apple(w http.ResponseWriter, r *http.Request) {
	var req applePushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}
	if req.SignedPayload == "" {
		core.BadRequest(w, "signedPayload is required")
		return
	}

	err := h.service.HandleAppleNotification(r.Context(), req.SignedPayload)
	if err != nil {
		if errors.Is(err, core.ErrInvalidInput) {
			core.BadRequest(w, "unverifiable payload")
			return
		}
		// Acknowledge anyway. A non-2xx would put Apple into a retry loop
		// against a failure that needs an operator, not a redelivery.
		h.logger.Error("apple notification processing failed", "error", err)
	}

	core.NoContent(w)
}

func (h *Handler) Google(w http.ResponseWriter, r *http.Request) {
	secret := r.URL.Query().Get("secret")
	if subtle.ConstantTimeCompare([]byte(secret), []byte(h.pubSubSecret)) != 1 {
		core.Forbidden(w, "invalid push secret")
		return
	}

	var req googlePushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Message.Data)
	if err != nil {
		core.BadRequest(w, "invalid message data")
		return
	}

	var notification DeveloperNotification
	if err := json.Unmarshal(payload, &notification); err != nil {
		core.BadRequest(w, "invalid notification payload")
		return
	}

	err = h.service.HandleGoogleNotification(
		r.Context(),
		req.Message.MessageID,
		&notification,
	)
	if err != nil {
		// Acknowledge anyway so Pub/Sub does not redeliver in a tight loop;
		// the dedupe claim is released on failure so a replay can land.
		h.logger.Error("google notification processing failed", "error", err)
	}

	core.NoContent(w)
}
