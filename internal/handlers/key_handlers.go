package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stayos/roomkeys/internal/domain"
	"github.com/stayos/roomkeys/pkg/logger"
)

func validRevokeReason(reason string) bool {
	switch reason {
	case domain.ReasonGuestCheckout, domain.ReasonStaffOverride, domain.ReasonExpired, domain.ReasonCheckInCanceled:
		return true
	default:
		return false
	}
}

// RevokeKey is the staff revoke endpoint. It covers both guest checkout
// and staff overrides, and answers 202 when the vendor could not confirm.
func (h *Handlers) RevokeKey(w http.ResponseWriter, r *http.Request) {
	var req domain.RevokeKeyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if req.KeyID == "" {
		writeError(w, http.StatusBadRequest, "key_id is required")
		return
	}
	if req.Reason == "" {
		req.Reason = domain.ReasonStaffOverride
	}
	if !validRevokeReason(req.Reason) {
		writeError(w, http.StatusBadRequest, "Invalid revocation reason")
		return
	}

	if claims := getClaims(r); claims != nil {
		logger.InfoContext(r.Context(), "Staff revoke requested",
			"key_id", req.KeyID, "reason", req.Reason, "staff", claims.Sub)
	}

	res, err := h.revocationService.Revoke(r.Context(), req.KeyID, req.Reason)
	if err != nil {
		if errors.Is(err, domain.ErrRevocationPending) {
			// The ledger still shows the key active; staff should retry
			// or fall back to a manual lock reset.
			writeJSON(w, http.StatusAccepted, domain.RevokeKeyRes{
				Revoked: false,
				Reason:  "vendor_unreachable_retry",
			})
			return
		}
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// ExtendKey moves an active key's checkout time, for late-checkout
// upsells and stay extensions.
func (h *Handlers) ExtendKey(w http.ResponseWriter, r *http.Request) {
	var req domain.ExtendKeyReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if req.KeyID == "" || req.ValidUntil.IsZero() {
		writeError(w, http.StatusBadRequest, "key_id and valid_until are required")
		return
	}

	key, err := h.revocationService.Extend(r.Context(), req.KeyID, req.ValidUntil.UTC())
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, key.DTO())
}

// GetKey returns the ledger record for a key.
func (h *Handlers) GetKey(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "id")
	if keyID == "" {
		writeError(w, http.StatusBadRequest, "Invalid key ID")
		return
	}

	key, err := h.revocationService.GetKey(r.Context(), keyID)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, key.DTO())
}

// GetRoomKey returns the active key for a room, if any.
func (h *Handlers) GetRoomKey(w http.ResponseWriter, r *http.Request) {
	room := chi.URLParam(r, "room")
	if room == "" {
		writeError(w, http.StatusBadRequest, "Invalid room number")
		return
	}

	key, err := h.revocationService.GetActiveKeyForRoom(r.Context(), room)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, key.DTO())
}
