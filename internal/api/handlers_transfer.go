package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/transfa/reconciliation-service/internal/domain"
)

func (h *Handlers) createTransfer(w http.ResponseWriter, r *http.Request, provider domain.Provider, create func(context.Context, domain.CreateTransferRequest) (*domain.CreateTransferResult, error)) {
	senderID, _, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req domain.CreateTransferRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	req.SenderID = senderID

	result, err := create(r.Context(), req)
	if err != nil {
		h.logger.Warn("transfer creation failed", "provider", provider, "sender_id", senderID, "err", err)
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// CreateStripePaymentHandler handles POST /transfers/stripe.
func (h *Handlers) CreateStripePaymentHandler(w http.ResponseWriter, r *http.Request) {
	h.createTransfer(w, r, domain.ProviderStripe, h.transfers.CreateStripePayment)
}

// CreatePayPalOrderHandler handles POST /transfers/paypal/orders.
func (h *Handlers) CreatePayPalOrderHandler(w http.ResponseWriter, r *http.Request) {
	h.createTransfer(w, r, domain.ProviderPayPal, h.transfers.CreatePayPalOrder)
}

// CreateBTCPayInvoiceHandler handles POST /transfers/btcpay/invoices.
func (h *Handlers) CreateBTCPayInvoiceHandler(w http.ResponseWriter, r *http.Request) {
	h.createTransfer(w, r, domain.ProviderBTCPay, h.transfers.CreateBTCPayInvoice)
}

// CapturePayPalOrderHandler handles POST /transfers/paypal/orders/{orderID}/capture.
func (h *Handlers) CapturePayPalOrderHandler(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := h.callerID(w, r)
	if !ok {
		return
	}
	result, err := h.transfers.CapturePayPalOrder(r.Context(), userID, chi.URLParam(r, "orderID"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CreateCoinbaseChargeHandler handles POST /transfers/coinbase/charges.
func (h *Handlers) CreateCoinbaseChargeHandler(w http.ResponseWriter, r *http.Request) {
	senderID, _, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req domain.CoinbaseChargeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	req.SenderID = senderID

	result, err := h.transfers.CreateCoinbaseCharge(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ChargeAuthorizeNetHandler handles POST /transfers/authorize-net/charges.
func (h *Handlers) ChargeAuthorizeNetHandler(w http.ResponseWriter, r *http.Request) {
	senderID, _, ok := h.callerID(w, r)
	if !ok {
		return
	}
	var req domain.AuthorizeNetChargeRequest
	if err := decodeJSON(r, &req); err != nil {
		h.respondError(w, err)
		return
	}
	req.SenderID = senderID

	result, err := h.transfers.ChargeAuthorizeNet(r.Context(), req)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// ListTransactionsHandler handles GET /transfers.
func (h *Handlers) ListTransactionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, _, ok := h.callerID(w, r)
	if !ok {
		return
	}
	views, err := h.transfers.ListTransactionsForUser(r.Context(), userID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": views})
}
