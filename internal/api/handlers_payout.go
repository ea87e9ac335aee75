package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/transfa/reconciliation-service/internal/domain"
)

// RequestPayoutHandler handles POST /admin/payouts.
func (h *Handlers) RequestPayoutHandler(w http.ResponseWriter, r *http.Request) {
	adminID, _, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req domain.PayoutRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	req.RequestedBy = adminID

	result, err := h.payouts.RequestPayout(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handlers) decidePayout(w http.ResponseWriter, r *http.Request, decide func(context.Context, uuid.UUID, string) (*domain.PayoutResult, error)) {
	admin, ok := GetClerkUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return
	}
	transferID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, fmt.Errorf("%w: invalid payout id", domain.ErrInvalidRequest))
		return
	}

	result, err := decide(r.Context(), transferID, admin)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ApprovePayoutHandler handles POST /admin/payouts/{id}/approve.
func (h *Handlers) ApprovePayoutHandler(w http.ResponseWriter, r *http.Request) {
	h.decidePayout(w, r, h.payouts.ApprovePayout)
}

// RejectPayoutHandler handles POST /admin/payouts/{id}/reject.
func (h *Handlers) RejectPayoutHandler(w http.ResponseWriter, r *http.Request) {
	h.decidePayout(w, r, h.payouts.RejectPayout)
}

// ExecutePayoutHandler handles POST /admin/payouts/{id}/execute.
func (h *Handlers) ExecutePayoutHandler(w http.ResponseWriter, r *http.Request) {
	h.decidePayout(w, r, h.payouts.ExecutePayout)
}

// RefillPayoutBalanceHandler handles POST /admin/payouts/refills.
func (h *Handlers) RefillPayoutBalanceHandler(w http.ResponseWriter, r *http.Request) {
	adminID, _, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req domain.RefillRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	req.AdminID = adminID

	result, err := h.payouts.RefillPayoutBalance(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// PayoutFloatHandler handles GET /admin/payouts/float.
func (h *Handlers) PayoutFloatHandler(w http.ResponseWriter, r *http.Request) {
	balance, err := h.payouts.PayoutFloat(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balance)
}
