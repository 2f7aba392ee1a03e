package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/claraverse/pairing-api/internal/application/device"
	"github.com/claraverse/pairing-api/internal/application/pairing"
	"github.com/claraverse/pairing-api/internal/domain"
	"github.com/claraverse/pairing-api/internal/pkg/validate"
	"github.com/claraverse/pairing-api/internal/transport/http/middleware"
)

// OAuth error codes for the token endpoint, per the device grant flow.
const (
	errAuthorizationPending = "authorization_pending"
	errSlowDown             = "slow_down"
	errExpiredToken         = "expired_token"
	errAccessDenied         = "access_denied"
	errInvalidGrant         = "invalid_grant"
)

// PairingHandler handles the device pairing endpoints.
type PairingHandler struct {
	pairings pairing.Service
	devices  device.Service
}

func NewPairingHandler(pairings pairing.Service, devices device.Service) *PairingHandler {
	return &PairingHandler{pairings: pairings, devices: devices}
}

type startPairingRequest struct {
	ClientID string `json:"client_id" validate:"required"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
}

// Start creates a pairing session and returns the code pair to the device.
func (h *PairingHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req startPairingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.pairings.NewSession(r.Context(), domain.DeviceInfo{
		ClientID: req.ClientID,
		Version:  req.Version,
		Platform: req.Platform,
	})
	if err != nil {
		if errors.Is(err, domain.ErrGenerationExhausted) {
			writeError(w, http.StatusServiceUnavailable, "could not allocate pairing codes, try again")
			return
		}
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type tokenRequest struct {
	DeviceCode string `json:"device_code" validate:"required"`
}

// Token is the polling endpoint. Pacing responses (authorization_pending,
// slow_down) are 200s with an error body; terminal failures are 400s. A
// successful poll exchanges the session for device credentials in one step.
func (h *PairingHandler) Token(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceCode == "" {
		writeError(w, http.StatusBadRequest, "device_code required")
		return
	}

	res, err := h.pairings.Poll(r.Context(), req.DeviceCode)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrUnknownCode), errors.Is(err, domain.ErrAlreadyConsumed):
			writeJSON(w, http.StatusBadRequest, TokenErrorEnvelope{Error: errInvalidGrant})
		case errors.Is(err, domain.ErrExpiredCode):
			writeJSON(w, http.StatusBadRequest, TokenErrorEnvelope{Error: errExpiredToken})
		case errors.Is(err, domain.ErrAccessDenied):
			writeJSON(w, http.StatusBadRequest, TokenErrorEnvelope{Error: errAccessDenied})
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	switch res.State {
	case pairing.PollPending:
		writeJSON(w, http.StatusOK, TokenErrorEnvelope{Error: errAuthorizationPending, Interval: res.Interval})
	case pairing.PollSlowDown:
		writeJSON(w, http.StatusOK, TokenErrorEnvelope{Error: errSlowDown, Interval: res.Interval})
	case pairing.PollSuccess:
		grant, err := h.devices.IssueCredentials(r.Context(), res.BoundUserID, res.DeviceInfo)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "could not issue credentials")
			return
		}
		writeJSON(w, http.StatusOK, grant)
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type resolveRequest struct {
	UserCode string `json:"user_code" validate:"required"`
}

// Approve binds the authenticated user to the pending session.
func (h *PairingHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.pairings.Approve)
}

// Deny rejects the pending session.
func (h *PairingHandler) Deny(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, h.pairings.Deny)
}

func (h *PairingHandler) resolve(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, userCode, userID string) error) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserCode == "" {
		writeError(w, http.StatusBadRequest, "user_code required")
		return
	}

	err := op(r.Context(), req.UserCode, claims.UserID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, MessageEnvelope{Message: "ok"})
	case errors.Is(err, domain.ErrInvalidFormat):
		writeError(w, http.StatusBadRequest, "malformed user code")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown or expired code")
	case errors.Is(err, domain.ErrAlreadyResolved):
		writeError(w, http.StatusConflict, "code already handled")
	case errors.Is(err, domain.ErrTooManyAttempts):
		writeError(w, http.StatusTooManyRequests, "too many attempts, try again later")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
