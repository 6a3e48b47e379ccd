// AngelaMos | 2026
// handler.go

package ledger

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/lumenlearn/entitlement-backend/internal/core"
	"github.com/lumenlearn/entitlement-backend/internal/middleware"
	"github.com/lumenlearn/entitlement-backend/internal/verifier"
)

type Handler struct {
	service   *Service
	validator *validator.Validate
}

func NewHandler(service *Service) *Handler {
	return &Handler{
		service:   service,
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator func(http.Handler) http.Handler,
) {
	r.Group(func(r chi.Router) {
		r.Use(authenticator)

		r.Post("/purchases", h.CommitPurchase)
		r.Post("/purchases/restore", h.RestorePurchase)
		r.Get("/entitlement", h.GetEntitlement)
		r.Post("/devices", h.RegisterDevice)
	})
}

func (h *Handler) CommitPurchase(w http.ResponseWriter, r *http.Request) {
	h.commit(w, r, false)
}

func (h *Handler) RestorePurchase(w http.ResponseWriter, r *http.Request) {
	h.commit(w, r, true)
}

func (h *Handler) commit(
	w http.ResponseWriter,
	r *http.Request,
	isRestore bool,
) {
	userID := middleware.GetUserID(r.Context())

	var req CommitPurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	result, err := h.service.CommitPurchase(r.Context(), CommitParams{
		UserID:       userID,
		Platform:     verifier.Platform(req.Platform),
		ProductID:    req.ProductID,
		ReceiptToken: req.ReceiptToken,
		DeviceHash:   req.DeviceHash,
		Nonce:        req.Nonce,
		IsRestore:    isRestore,
	})
	if err != nil {
		core.JSONError(w, err)
		return
	}

	resp := CommitPurchaseResponse{
		Outcome:    result.Outcome,
		PlanType:   result.PlanType,
		PurchaseID: result.PurchaseID,
	}

	if result.Outcome == OutcomePurchased {
		core.Created(w, resp)
		return
	}

	core.OK(w, resp)
}

func (h *Handler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	deviceHash := r.URL.Query().Get("device_hash")
	if deviceHash == "" {
		core.BadRequest(w, "device_hash is required")
		return
	}

	forceRefresh := r.URL.Query().Get("force_refresh") == "true"

	status, err := h.service.GetStatus(
		r.Context(),
		userID,
		deviceHash,
		forceRefresh,
	)
	if err != nil {
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, status)
}

func (h *Handler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	var req RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.BadRequest(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		core.BadRequest(w, core.FormatValidationError(err))
		return
	}

	result, err := h.service.RegisterDevice(r.Context(), userID, req.DeviceHash)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			core.NotFound(w, "entitlement")
			return
		}
		core.InternalServerError(w, err)
		return
	}

	core.OK(w, RegisterDeviceResponse{
		IsNewDevice:             result.IsNewDevice,
		PreviousDeviceLoggedOut: result.PreviousDeviceLoggedOut,
	})
}
