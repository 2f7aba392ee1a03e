package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/claraverse/pairing-api/internal/application/device"
	"github.com/claraverse/pairing-api/internal/domain"
	"github.com/claraverse/pairing-api/internal/transport/http/middleware"
	"github.com/go-chi/chi/v5"
)

// DeviceHandler handles the paired-device management endpoints.
type DeviceHandler struct {
	svc device.Service
}

func NewDeviceHandler(svc device.Service) *DeviceHandler {
	return &DeviceHandler{svc: svc}
}

// List returns the caller's active devices.
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	devices, err := h.svc.List(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

// Rename updates the user-visible device name.
func (h *DeviceHandler) Rename(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := h.svc.Rename(r.Context(), claims.UserID, chi.URLParam(r, "id"), req.Name)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "renamed"})
	case errors.Is(err, domain.ErrBadRequest):
		writeError(w, http.StatusBadRequest, "invalid device name")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "device not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Revoke deactivates a device; its refresh token stops working immediately.
func (h *DeviceHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	err := h.svc.Revoke(r.Context(), claims.UserID, chi.URLParam(r, "id"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "revoked"})
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "device not found")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// Refresh rotates the device's refresh token. Public: the refresh token is
// the credential.
func (h *DeviceHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
		DeviceID     string `json:"device_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "refresh_token required")
		return
	}
	grant, err := h.svc.Refresh(r.Context(), req.RefreshToken, req.DeviceID)
	if err != nil {
		if errors.Is(err, domain.ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, grant)
}
