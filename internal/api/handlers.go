/**
 * @description
 * This file contains the shared plumbing of the HTTP handlers: the service interfaces the
 * handlers depend on, caller resolution, JSON helpers and the mapping from the domain error
 * taxonomy to HTTP status codes.
 *
 * @dependencies
 * - internal/app, internal/domain: services, models and error sentinels.
 */

package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/transfa/reconciliation-service/internal/app"
	"github.com/transfa/reconciliation-service/internal/domain"
)

const maxRequestBody = 1 << 20

// TransferService is implemented by *app.TransferService.
type TransferService interface {
	ResolveInternalUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error)
	CreateStripePayment(ctx context.Context, req domain.CreateTransferRequest) (*domain.CreateTransferResult, error)
	CreatePayPalOrder(ctx context.Context, req domain.CreateTransferRequest) (*domain.CreateTransferResult, error)
	CapturePayPalOrder(ctx context.Context, userID uuid.UUID, orderID string) (*domain.CreateTransferResult, error)
	CreateBTCPayInvoice(ctx context.Context, req domain.CreateTransferRequest) (*domain.CreateTransferResult, error)
	CreateCoinbaseCharge(ctx context.Context, req domain.CoinbaseChargeRequest) (*domain.CreateTransferResult, error)
	ChargeAuthorizeNet(ctx context.Context, req domain.AuthorizeNetChargeRequest) (*domain.CreateTransferResult, error)
	ListTransactionsForUser(ctx context.Context, userID uuid.UUID) ([]domain.NormalizedTransactionView, error)
}

// PayoutService is implemented by *app.PayoutService.
type PayoutService interface {
	RequestPayout(ctx context.Context, req domain.PayoutRequest) (*domain.PayoutResult, error)
	ApprovePayout(ctx context.Context, transferID uuid.UUID, admin string) (*domain.PayoutResult, error)
	RejectPayout(ctx context.Context, transferID uuid.UUID, admin string) (*domain.PayoutResult, error)
	ExecutePayout(ctx context.Context, transferID uuid.UUID, admin string) (*domain.PayoutResult, error)
	RefillPayoutBalance(ctx context.Context, req domain.RefillRequest) (*domain.CreateTransferResult, error)
	PayoutFloat(ctx context.Context) (*domain.PayoutFloat, error)
}

// WebhookProcessor is implemented by *app.EventProcessor.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, provider domain.Provider, headers http.Header, body []byte) (app.Outcome, error)
}

// Handlers holds the services the HTTP handlers use.
type Handlers struct {
	transfers TransferService
	payouts   PayoutService
	webhooks  WebhookProcessor
	logger    *slog.Logger
}

// NewHandlers creates a new instance of Handlers.
func NewHandlers(transfers TransferService, payouts PayoutService, webhooks WebhookProcessor, logger *slog.Logger) *Handlers {
	return &Handlers{
		transfers: transfers,
		payouts:   payouts,
		webhooks:  webhooks,
		logger:    logger.With("component", "api"),
	}
}

// callerID resolves the authenticated Clerk subject to the internal user id. It writes the
// error response itself and returns false when resolution fails.
func (h *Handlers) callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	clerkUserID, ok := GetClerkUserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "Could not get user ID from context")
		return uuid.Nil, "", false
	}
	userID, err := h.transfers.ResolveInternalUserID(r.Context(), clerkUserID)
	if err != nil {
		h.logger.Warn("user resolution failed", "clerk_user_id", clerkUserID, "err", err)
		h.respondError(w, err)
		return uuid.Nil, "", false
	}
	return userID, clerkUserID, true
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

// respondError maps the error taxonomy onto HTTP statuses.
func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrProviderUnavailable):
		h.logger.Warn("provider unavailable", "err", err)
		writeError(w, http.StatusServiceUnavailable, "Payment provider unavailable; the charge state is unknown and will be reconciled")
	case errors.Is(err, domain.ErrAuthenticationFailed):
		h.logger.Error("provider rejected credentials", "err", err)
		writeError(w, http.StatusBadGateway, "Payment provider rejected the service credentials")
	case errors.Is(err, domain.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrNotApproved):
		writeError(w, http.StatusConflict, err.Error())
	default:
		h.logger.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
