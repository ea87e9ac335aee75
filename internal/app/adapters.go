/**
 * @description
 * This file contains the provider adapters. Each Create* operation validates its input,
 * makes exactly one outbound provider call bounded by the configured timeout and, only
 * when that call succeeds, records a pending Transfer keyed by the provider's reference.
 *
 * A timed-out or 5xx call leaves the charge state unknown. Nothing is persisted and no
 * retry is attempted; the provider's webhook or the reconciliation feed settles it.
 *
 * @dependencies
 * - github.com/google/uuid: transfer ids, also sent as provider idempotency keys.
 * - internal/domain, internal/store: domain model and ledger.
 * - pkg/providerclient: the HTTP clients behind the narrow interfaces below.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/reconciliation-service/internal/domain"
	"github.com/transfa/reconciliation-service/internal/store"
	"github.com/transfa/reconciliation-service/pkg/providerclient"
)

// StripeAPI is the slice of the Stripe client the adapters use.
type StripeAPI interface {
	CreatePaymentIntent(ctx context.Context, params providerclient.StripePaymentIntentParams) (*providerclient.StripePaymentIntent, error)
}

// PayPalAPI is the slice of the PayPal client the adapters use.
type PayPalAPI interface {
	CreateOrder(ctx context.Context, params providerclient.PayPalOrderParams) (*providerclient.PayPalOrder, error)
	CaptureOrder(ctx context.Context, orderID string) (*providerclient.PayPalOrder, error)
}

// BTCPayAPI is the slice of the BTCPay client used by invoices and the payout workflow.
type BTCPayAPI interface {
	CreateInvoice(ctx context.Context, params providerclient.BTCPayInvoiceParams) (*providerclient.BTCPayInvoice, error)
	CreatePayout(ctx context.Context, params providerclient.BTCPayPayoutParams) (*providerclient.BTCPayPayout, error)
	ApprovePayout(ctx context.Context, payoutID string) (*providerclient.BTCPayPayout, error)
	CancelPayout(ctx context.Context, payoutID string) error
}

// CoinbaseAPI is the slice of the Coinbase Commerce client the adapters use.
type CoinbaseAPI interface {
	CreateCharge(ctx context.Context, params providerclient.CoinbaseChargeParams) (*providerclient.CoinbaseCharge, error)
}

// AuthorizeNetAPI is the slice of the Authorize.net client the adapters use.
type AuthorizeNetAPI interface {
	Charge(ctx context.Context, params providerclient.AuthorizeNetChargeParams) (*providerclient.AuthorizeNetTransactionResponse, error)
}

// ProviderClients groups the per-provider clients built in main.
type ProviderClients struct {
	Stripe       StripeAPI
	PayPal       PayPalAPI
	BTCPay       BTCPayAPI
	Coinbase     CoinbaseAPI
	AuthorizeNet AuthorizeNetAPI
}

// TransferOptions holds adapter settings taken from configuration.
type TransferOptions struct {
	ProviderTimeout time.Duration
	DefaultCurrency string
	ReturnURL       string
	CancelURL       string

	// AuthorizeNetCurrency is the merchant account currency. Charges carry no currency field.
	AuthorizeNetCurrency string
}

// TransferService implements the provider adapters and the transaction history read side.
type TransferService struct {
	repo    store.Repository
	clients ProviderClients
	applier *TransitionApplier
	opts    TransferOptions
	logger  *slog.Logger
	now     func() time.Time
}

func NewTransferService(repo store.Repository, clients ProviderClients, applier *TransitionApplier, opts TransferOptions, logger *slog.Logger) *TransferService {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = providerclient.DefaultTimeout
	}
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = "USD"
	}
	opts.AuthorizeNetCurrency = domain.NormalizeCurrency(opts.AuthorizeNetCurrency, "USD")
	return &TransferService{
		repo:    repo,
		clients: clients,
		applier: applier,
		opts:    opts,
		logger:  logger.With("component", "transfer_service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// ResolveInternalUserID converts a Clerk subject into the internal user id.
func (s *TransferService) ResolveInternalUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error) {
	id, err := s.repo.FindUserIDByClerkUserID(ctx, clerkUserID)
	if errors.Is(err, store.ErrUserNotFound) {
		return uuid.Nil, fmt.Errorf("%w: user", domain.ErrNotFound)
	}
	return id, err
}

type preparedTransfer struct {
	id       uuid.UUID
	amount   int64
	currency string
}

func (s *TransferService) prepare(req domain.CreateTransferRequest, currencyFallback string) (preparedTransfer, error) {
	if req.SenderID == uuid.Nil {
		return preparedTransfer{}, fmt.Errorf("%w: sender is required", domain.ErrInvalidRequest)
	}
	currency := domain.NormalizeCurrency(req.Currency, currencyFallback)
	if len(currency) != 3 {
		return preparedTransfer{}, fmt.Errorf("%w: currency %q is not supported", domain.ErrInvalidRequest, currency)
	}
	amount, err := domain.ParseAmount(req.Amount, currency)
	if err != nil {
		return preparedTransfer{}, err
	}
	return preparedTransfer{id: uuid.New(), amount: amount, currency: currency}, nil
}

func (s *TransferService) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opts.ProviderTimeout)
}

// record persists the pending transfer after a successful provider call.
func (s *TransferService) record(ctx context.Context, p preparedTransfer, provider domain.Provider, req domain.CreateTransferRequest, externalRef string, metadata map[string]any) (*domain.Transfer, error) {
	now := s.now()
	transfer := &domain.Transfer{
		ID:          p.id,
		Provider:    provider,
		Direction:   domain.DirectionInbound,
		Amount:      p.amount,
		Currency:    p.currency,
		Description: strings.TrimSpace(req.Description),
		SenderID:    req.SenderID,
		ReceiverID:  req.ReceiverID,
		Status:      domain.StatusPending,
		ExternalRef: externalRef,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		// The provider already holds this reference; the reconciliation sweep cannot see it.
		s.logger.Error("failed to record transfer after provider call",
			"provider", provider,
			"external_ref", externalRef,
			"transfer_id", transfer.ID,
			"err", err,
		)
		return nil, fmt.Errorf("record transfer: %w", err)
	}
	s.logger.Info("transfer created",
		"provider", provider,
		"external_ref", externalRef,
		"transfer_id", transfer.ID,
		"amount", transfer.Amount,
		"currency", transfer.Currency,
	)
	return transfer, nil
}

// CreateStripePayment creates a PaymentIntent, routed to the receiver's connected account
// when that account can receive transfers.
func (s *TransferService) CreateStripePayment(ctx context.Context, req domain.CreateTransferRequest) (*domain.CreateTransferResult, error) {
	p, err := s.prepare(req, s.opts.DefaultCurrency)
	if err != nil {
		return nil, err
	}

	var destination string
	if req.ReceiverID != nil {
		receiver, err := s.repo.FindUserByID(ctx, *req.ReceiverID)
		if err != nil {
			if errors.Is(err, store.ErrUserNotFound) {
				return nil, fmt.Errorf("%w: receiver not found", domain.ErrInvalidRequest)
			}
			return nil, fmt.Errorf("lookup receiver: %w", err)
		}
		if receiver.ConnectedAccountID != nil && receiver.ConnectedLinked {
			destination = *receiver.ConnectedAccountID
		}
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	intent, err := s.clients.Stripe.CreatePaymentIntent(callCtx, providerclient.StripePaymentIntentParams{
		Amount:         p.amount,
		Currency:       p.currency,
		Description:    req.Description,
		ReceiptEmail:   req.Email,
		Destination:    destination,
		IdempotencyKey: p.id.String(),
		Metadata:       map[string]string{"transfer_id": p.id.String()},
	})
	if err != nil {
		return nil, providerFailure(domain.ProviderStripe, "create_payment_intent", err)
	}

	metadata := map[string]any{
		"object":        "payment_intent",
		"receipt_email": req.Email,
	}
	if destination != "" {
		metadata["transfer_data"] = map[string]any{"destination": destination}
	}
	transfer, err := s.record(ctx, p, domain.ProviderStripe, req, intent.ID, metadata)
	if err != nil {
		return nil, err
	}
	return &domain.CreateTransferResult{Transfer: transfer, ClientSecret: intent.ClientSecret}, nil
}

// CreatePayPalOrder creates a CAPTURE order and returns its approval URL.
func (s *TransferService) CreatePayPalOrder(ctx context.Context, req domain.CreateTransferRequest) (*domain.CreateTransferResult, error) {
	p, err := s.prepare(req, s.opts.DefaultCurrency)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	order, err := s.clients.PayPal.CreateOrder(callCtx, providerclient.PayPalOrderParams{
		ReferenceID: p.id.String(),
		Description: req.Description,
		Currency:    p.currency,
		Value:       domain.FormatAmount(p.amount, p.currency),
		ReturnURL:   s.opts.ReturnURL,
		CancelURL:   s.opts.CancelURL,
	})
	if err != nil {
		return nil, providerFailure(domain.ProviderPayPal, "create_order", err)
	}

	metadata := map[string]any{"intent": "CAPTURE", "status": order.Status}
	if req.Email != "" {
		metadata["payer"] = map[string]any{"email_address": req.Email}
	}
	transfer, err := s.record(ctx, p, domain.ProviderPayPal, req, order.ID, metadata)
	if err != nil {
		return nil, err
	}
	return &domain.CreateTransferResult{Transfer: transfer, RedirectURL: order.ApproveURL()}, nil
}

// CapturePayPalOrder captures an approved order. Completion is applied through the same
// primitive as the PAYMENT.CAPTURE.COMPLETED webhook, so whichever arrives second is a no-op.
func (s *TransferService) CapturePayPalOrder(ctx context.Context, userID uuid.UUID, orderID string) (*domain.CreateTransferResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order id is required", domain.ErrInvalidRequest)
	}
	transfer, err := s.repo.GetTransferByExternalRef(ctx, domain.ProviderPayPal, orderID)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			return nil, fmt.Errorf("%w: paypal order %s", domain.ErrNotFound, orderID)
		}
		return nil, fmt.Errorf("lookup transfer: %w", err)
	}
	if transfer.SenderID != userID {
		return nil, fmt.Errorf("%w: paypal order %s", domain.ErrNotFound, orderID)
	}
	if transfer.Status.IsTerminal() {
		return &domain.CreateTransferResult{Transfer: transfer}, nil
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	order, err := s.clients.PayPal.CaptureOrder(callCtx, orderID)
	if err != nil {
		return nil, providerFailure(domain.ProviderPayPal, "capture_order", err)
	}

	var target domain.Status
	switch strings.ToUpper(order.CaptureStatus()) {
	case "COMPLETED":
		target = domain.StatusCompleted
	case "DECLINED", "DENIED", "FAILED":
		target = domain.StatusFailed
	default:
		// PENDING captures settle later through PAYMENT.CAPTURE.COMPLETED.
		return &domain.CreateTransferResult{Transfer: transfer}, nil
	}

	_, updated, err := s.applier.Apply(ctx, transfer, target, "paypal capture "+strings.ToLower(order.CaptureStatus()))
	if err != nil {
		return nil, err
	}
	return &domain.CreateTransferResult{Transfer: updated}, nil
}

// CreateBTCPayInvoice records an invoice; payment arrives later as InvoiceSettled.
func (s *TransferService) CreateBTCPayInvoice(ctx context.Context, req domain.CreateTransferRequest) (*domain.CreateTransferResult, error) {
	p, err := s.prepare(req, s.opts.DefaultCurrency)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	invoice, err := s.clients.BTCPay.CreateInvoice(callCtx, providerclient.BTCPayInvoiceParams{
		Amount:      domain.FormatAmount(p.amount, p.currency),
		Currency:    p.currency,
		OrderID:     p.id.String(),
		BuyerEmail:  req.Email,
		ItemDesc:    req.Description,
		RedirectURL: s.opts.ReturnURL,
	})
	if err != nil {
		return nil, providerFailure(domain.ProviderBTCPay, "create_invoice", err)
	}

	metadata := map[string]any{
		"checkoutLink": invoice.CheckoutLink,
		"metadata":     map[string]any{"buyerEmail": req.Email, "itemDesc": req.Description},
	}
	transfer, err := s.record(ctx, p, domain.ProviderBTCPay, req, invoice.ID, metadata)
	if err != nil {
		return nil, err
	}
	return &domain.CreateTransferResult{Transfer: transfer, RedirectURL: invoice.CheckoutLink}, nil
}

var coinbasePaymentMethods = map[string]bool{"crypto": true, "card": true, "bank": true}

// CreateCoinbaseCharge creates a hosted charge. The payment-method hint travels on the
// request only.
func (s *TransferService) CreateCoinbaseCharge(ctx context.Context, req domain.CoinbaseChargeRequest) (*domain.CreateTransferResult, error) {
	p, err := s.prepare(req.CreateTransferRequest, s.opts.DefaultCurrency)
	if err != nil {
		return nil, err
	}
	method := strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if method == "" {
		method = "crypto"
	}
	if !coinbasePaymentMethods[method] {
		return nil, fmt.Errorf("%w: payment method %q is not supported", domain.ErrInvalidRequest, req.PaymentMethod)
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	name := req.Description
	if name == "" {
		name = "Transfer"
	}
	charge, err := s.clients.Coinbase.CreateCharge(callCtx, providerclient.CoinbaseChargeParams{
		Name:        name,
		Description: req.Description,
		Amount:      domain.FormatAmount(p.amount, p.currency),
		Currency:    p.currency,
		RedirectURL: s.opts.ReturnURL,
		Metadata: map[string]string{
			"transfer_id":    p.id.String(),
			"email":          req.Email,
			"payment_method": method,
		},
	})
	if err != nil {
		return nil, providerFailure(domain.ProviderCoinbase, "create_charge", err)
	}

	metadata := map[string]any{
		"id":         charge.ID,
		"hosted_url": charge.HostedURL,
		"metadata":   map[string]any{"email": req.Email},
	}
	transfer, err := s.record(ctx, p, domain.ProviderCoinbase, req.CreateTransferRequest, charge.Code, metadata)
	if err != nil {
		return nil, err
	}
	return &domain.CreateTransferResult{Transfer: transfer, RedirectURL: charge.HostedURL}, nil
}

// ChargeAuthorizeNet runs a synchronous authCaptureTransaction and settles the transfer
// from its response code.
func (s *TransferService) ChargeAuthorizeNet(ctx context.Context, req domain.AuthorizeNetChargeRequest) (*domain.CreateTransferResult, error) {
	merchantCurrency := s.opts.AuthorizeNetCurrency
	p, err := s.prepare(req.CreateTransferRequest, merchantCurrency)
	if err != nil {
		return nil, err
	}
	if p.currency != merchantCurrency {
		return nil, fmt.Errorf("%w: authorize.net charges settle in %s, not %s", domain.ErrInvalidRequest, merchantCurrency, p.currency)
	}
	if strings.TrimSpace(req.OpaqueDataDescriptor) == "" || strings.TrimSpace(req.OpaqueDataValue) == "" {
		return nil, fmt.Errorf("%w: payment token is required", domain.ErrInvalidRequest)
	}

	callCtx, cancel := s.callContext(ctx)
	defer cancel()
	// refId is limited to 20 characters.
	refID := strings.ReplaceAll(p.id.String(), "-", "")[:20]
	resp, err := s.clients.AuthorizeNet.Charge(callCtx, providerclient.AuthorizeNetChargeParams{
		RefID:          refID,
		Amount:         domain.FormatAmount(p.amount, p.currency),
		Description:    req.Description,
		CustomerEmail:  req.Email,
		DataDescriptor: req.OpaqueDataDescriptor,
		DataValue:      req.OpaqueDataValue,
	})
	if err != nil {
		return nil, providerFailure(domain.ProviderAuthorizeNet, "create_transaction", err)
	}

	externalRef := resp.TransID
	if externalRef == "" || externalRef == "0" {
		// Declines in test mode carry transId 0.
		externalRef = "ref:" + refID
	}
	metadata := map[string]any{
		"transaction": map[string]any{
			"transId":      resp.TransID,
			"responseCode": resp.ResponseCode,
			"authCode":     resp.AuthCode,
			"customer":     map[string]any{"email": req.Email},
		},
	}
	transfer, err := s.record(ctx, p, domain.ProviderAuthorizeNet, req.CreateTransferRequest, externalRef, metadata)
	if err != nil {
		return nil, err
	}

	var target domain.Status
	switch resp.ResponseCode {
	case providerclient.AuthorizeNetApproved:
		target = domain.StatusCompleted
	case providerclient.AuthorizeNetDeclined, providerclient.AuthorizeNetError:
		target = domain.StatusFailed
	default:
		// Held for review; settles through a later webhook.
		return &domain.CreateTransferResult{Transfer: transfer}, nil
	}

	_, updated, err := s.applier.Apply(ctx, transfer, target, resp.Reason())
	if err != nil {
		return nil, err
	}
	return &domain.CreateTransferResult{Transfer: updated}, nil
}

// ListTransactionsForUser returns the user's normalized history, newest first.
func (s *TransferService) ListTransactionsForUser(ctx context.Context, userID uuid.UUID) ([]domain.NormalizedTransactionView, error) {
	transfers, err := s.repo.ListTransfersForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	views := make([]domain.NormalizedTransactionView, 0, len(transfers))
	for _, t := range transfers {
		views = append(views, NormalizeTransfer(t))
	}
	return views, nil
}

// providerFailure maps a client error onto the error taxonomy.
func providerFailure(provider domain.Provider, op string, err error) error {
	var apiErr *providerclient.APIError
	if errors.As(err, &apiErr) {
		kind := domain.ClassifyHTTPStatus(apiErr.StatusCode)
		if kind == nil {
			kind = domain.ErrProviderUnavailable
		}
		return &domain.ProviderError{Provider: provider, Op: op, Kind: kind, StatusCode: apiErr.StatusCode, Err: err}
	}
	// Transport failures, timeouts included, leave the outcome unknown.
	return &domain.ProviderError{Provider: provider, Op: op, Kind: domain.ErrProviderUnavailable, Err: err}
}
