package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/reconciliation-service/internal/domain"
)

// WebhookHandler receives provider notifications. A 2xx acknowledges the delivery; any
// other status asks the provider to redeliver.
func (h *Handlers) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	provider, err := domain.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, http.StatusNotFound, "Unknown provider")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Could not read request body")
		return
	}

	outcome, err := h.webhooks.HandleWebhook(r.Context(), provider, r.Header, body)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "received", "outcome": string(outcome)})
	case errors.Is(err, domain.ErrAuthenticationFailed):
		writeError(w, http.StatusUnauthorized, "Invalid webhook signature")
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrTransitionDeferred):
		writeError(w, http.StatusConflict, "Event is ahead of the ledger; redeliver later")
	default:
		h.logger.Error("webhook processing failed", "provider", provider, "err", err)
		writeError(w, http.StatusInternalServerError, "Webhook processing failed")
	}
}
