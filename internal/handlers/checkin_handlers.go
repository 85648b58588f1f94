package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/stayos/roomkeys/internal/domain"
)

// StartCheckIn opens a kiosk check-in attempt for a reservation.
func (h *Handlers) StartCheckIn(w http.ResponseWriter, r *http.Request) {
	var req domain.StartCheckInReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if req.ReservationID == "" {
		writeError(w, http.StatusBadRequest, "reservation_id is required")
		return
	}

	res, err := h.checkInService.Start(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, res)
}

// FinishCheckIn drives the key issuance. Kiosks call it repeatedly until
// the status leaves "in_progress", so it must be safe to retry.
func (h *Handlers) FinishCheckIn(w http.ResponseWriter, r *http.Request) {
	var req domain.FinishCheckInReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if req.CheckInID == "" {
		req.CheckInID = chi.URLParam(r, "id")
	}
	if req.CheckInID == "" {
		writeError(w, http.StatusBadRequest, "checkin_id is required")
		return
	}

	res, err := h.checkInService.Finish(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if res.Status == domain.FinishStatusInProgress {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}

// CancelCheckIn abandons an attempt. A response with canceled=false means
// the vendor could not be consulted and the kiosk should retry.
func (h *Handlers) CancelCheckIn(w http.ResponseWriter, r *http.Request) {
	var req domain.CancelCheckInReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON format")
		return
	}
	if req.CheckInID == "" {
		req.CheckInID = chi.URLParam(r, "id")
	}
	if req.CheckInID == "" {
		writeError(w, http.StatusBadRequest, "checkin_id is required")
		return
	}

	res, err := h.checkInService.Cancel(r.Context(), &req)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	status := http.StatusOK
	if !res.Canceled {
		status = http.StatusAccepted
	}
	writeJSON(w, status, res)
}
