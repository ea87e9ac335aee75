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

// PayoutRefillPurpose tags inbound invoices that fund the payout float.
const PayoutRefillPurpose = "payout_refill"

// PayoutOptions holds payout settings taken from configuration.
type PayoutOptions struct {
	ProviderTimeout time.Duration
	PaymentMethod   string
}

// PayoutService gates outbound BTC payouts behind an admin approval.
type PayoutService struct {
	repo    store.Repository
	btcpay  BTCPayAPI
	applier *TransitionApplier
	opts    PayoutOptions
	logger  *slog.Logger
	now     func() time.Time
}

func NewPayoutService(repo store.Repository, btcpay BTCPayAPI, applier *TransitionApplier, opts PayoutOptions, logger *slog.Logger) *PayoutService {
	if opts.ProviderTimeout <= 0 {
		opts.ProviderTimeout = providerclient.DefaultTimeout
	}
	return &PayoutService{
		repo:    repo,
		btcpay:  btcpay,
		applier: applier,
		opts:    opts,
		logger:  logger.With("component", "payout_service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RequestPayout creates the payout at BTCPay (unapproved) and records it awaiting approval.
func (s *PayoutService) RequestPayout(ctx context.Context, req domain.PayoutRequest) (*domain.PayoutResult, error) {
	if req.RequestedBy == uuid.Nil {
		return nil, fmt.Errorf("%w: requester is required", domain.ErrInvalidRequest)
	}
	destination := strings.TrimSpace(req.Destination)
	if destination == "" {
		return nil, fmt.Errorf("%w: destination is required", domain.ErrInvalidRequest)
	}
	amount, err := domain.ParseAmount(req.Amount, domain.CurrencyBTC)
	if err != nil {
		return nil, err
	}

	if balance, err := s.PayoutFloat(ctx); err == nil && balance.Available < amount {
		s.logger.Warn("payout request exceeds available float",
			"amount", amount,
			"available", balance.Available,
		)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()
	payout, err := s.btcpay.CreatePayout(callCtx, providerclient.BTCPayPayoutParams{
		Destination:   destination,
		Amount:        domain.FormatAmount(amount, domain.CurrencyBTC),
		PaymentMethod: s.opts.PaymentMethod,
	})
	if err != nil {
		return nil, providerFailure(domain.ProviderBTCPay, "create_payout", err)
	}

	now := s.now()
	transfer := &domain.Transfer{
		ID:          uuid.New(),
		Provider:    domain.ProviderBTCPay,
		Direction:   domain.DirectionOutbound,
		Amount:      amount,
		Currency:    domain.CurrencyBTC,
		Description: strings.TrimSpace(req.Description),
		SenderID:    req.RequestedBy,
		Status:      domain.StatusPending,
		ExternalRef: payout.ID,
		Metadata: map[string]any{
			"destination":   destination,
			"paymentMethod": payout.PaymentMethod,
			"state":         payout.State,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	approval := &domain.PayoutApproval{
		TransferID:     transfer.ID,
		ApprovalStatus: domain.ApprovalAwaiting,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.CreatePayoutWithApproval(ctx, transfer, approval); err != nil {
		s.logger.Error("failed to record payout after provider call", "external_ref", payout.ID, "err", err)
		return nil, fmt.Errorf("record payout: %w", err)
	}

	s.logger.Info("payout requested",
		"transfer_id", transfer.ID,
		"external_ref", transfer.ExternalRef,
		"amount", transfer.Amount,
	)
	return &domain.PayoutResult{Transfer: transfer, Approval: approval}, nil
}

// ApprovePayout records an admin approval. Approving twice is idempotent; approving a
// rejected payout is an error.
func (s *PayoutService) ApprovePayout(ctx context.Context, transferID uuid.UUID, admin string) (*domain.PayoutResult, error) {
	transfer, err := s.loadPayout(ctx, transferID)
	if err != nil {
		return nil, err
	}
	approval, err := s.decide(ctx, transfer, domain.ApprovalApproved, admin)
	if err != nil {
		return nil, err
	}
	return &domain.PayoutResult{Transfer: transfer, Approval: approval}, nil
}

// RejectPayout records a rejection and cancels the pending payout transfer.
func (s *PayoutService) RejectPayout(ctx context.Context, transferID uuid.UUID, admin string) (*domain.PayoutResult, error) {
	transfer, err := s.loadPayout(ctx, transferID)
	if err != nil {
		return nil, err
	}
	approval, err := s.decide(ctx, transfer, domain.ApprovalRejected, admin)
	if err != nil {
		return nil, err
	}

	_, updated, err := s.applier.Apply(ctx, transfer, domain.StatusCancelled, "payout rejected by "+admin)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()
	if err := s.btcpay.CancelPayout(callCtx, transfer.ExternalRef); err != nil {
		// An unapproved BTCPay payout is never broadcast.
		s.logger.Warn("btcpay payout cancel failed", "transfer_id", transfer.ID, "external_ref", transfer.ExternalRef, "err", err)
	}
	return &domain.PayoutResult{Transfer: updated, Approval: approval}, nil
}

// ExecutePayout claims the payout by moving it to processing, then approves it at BTCPay.
// It fails with domain.ErrNotApproved unless an admin approved it first. A definite BTCPay
// refusal returns the payout to pending; an unknown outcome leaves it processing for
// reconciliation.
func (s *PayoutService) ExecutePayout(ctx context.Context, transferID uuid.UUID, admin string) (*domain.PayoutResult, error) {
	transfer, err := s.loadPayout(ctx, transferID)
	if err != nil {
		return nil, err
	}
	approval, err := s.repo.GetPayoutApproval(ctx, transferID)
	if err != nil {
		if errors.Is(err, store.ErrApprovalNotFound) {
			return nil, fmt.Errorf("%w: payout %s has no approval", domain.ErrNotApproved, transferID)
		}
		return nil, fmt.Errorf("lookup approval: %w", err)
	}
	if approval.ApprovalStatus != domain.ApprovalApproved {
		return nil, fmt.Errorf("%w: payout %s is %s", domain.ErrNotApproved, transferID, approval.ApprovalStatus)
	}

	switch transfer.Status {
	case domain.StatusPending:
	case domain.StatusProcessing, domain.StatusCompleted:
		return &domain.PayoutResult{Transfer: transfer, Approval: approval}, nil
	default:
		return nil, fmt.Errorf("%w: payout %s is %s", domain.ErrInvalidRequest, transferID, transfer.Status)
	}

	// Only the execution that wins the pending -> processing write talks to BTCPay, and a
	// confirmation racing the approval call finds the payout already processing.
	outcome, claimed, err := s.applier.applyExecution(ctx, transfer, domain.StatusProcessing, "payout executed by "+admin)
	if err != nil {
		return nil, err
	}
	if outcome != OutcomeApplied {
		if claimed.Status == domain.StatusProcessing || claimed.Status == domain.StatusCompleted {
			return &domain.PayoutResult{Transfer: claimed, Approval: approval}, nil
		}
		return nil, fmt.Errorf("%w: payout %s is %s", domain.ErrInvalidRequest, transferID, claimed.Status)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()
	if _, err := s.btcpay.ApprovePayout(callCtx, transfer.ExternalRef); err != nil {
		failure := providerFailure(domain.ProviderBTCPay, "approve_payout", err)
		var providerErr *domain.ProviderError
		if errors.As(failure, &providerErr) && providerErr.OutcomeUnknown() {
			s.logger.Warn("payout approval outcome unknown; left processing for reconciliation",
				"transfer_id", transfer.ID,
				"external_ref", transfer.ExternalRef,
				"err", err,
			)
			return nil, failure
		}
		if _, revertErr := s.applier.revertExecution(ctx, claimed, "btcpay refused payout approval"); revertErr != nil {
			s.logger.Error("failed to revert payout execution", "transfer_id", transfer.ID, "err", revertErr)
		}
		return nil, failure
	}

	s.logger.Info("payout executed", "transfer_id", transfer.ID, "admin", admin)
	if current, err := s.repo.GetTransferByID(ctx, transferID); err == nil {
		claimed = current
	}
	return &domain.PayoutResult{Transfer: claimed, Approval: approval}, nil
}

// RefillPayoutBalance creates an inbound BTC invoice that funds the payout float.
func (s *PayoutService) RefillPayoutBalance(ctx context.Context, req domain.RefillRequest) (*domain.CreateTransferResult, error) {
	if req.AdminID == uuid.Nil {
		return nil, fmt.Errorf("%w: admin is required", domain.ErrInvalidRequest)
	}
	amount, err := domain.ParseAmount(req.Amount, domain.CurrencyBTC)
	if err != nil {
		return nil, err
	}
	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Payout balance refill"
	}
	id := uuid.New()

	callCtx, cancel := context.WithTimeout(ctx, s.opts.ProviderTimeout)
	defer cancel()
	invoice, err := s.btcpay.CreateInvoice(callCtx, providerclient.BTCPayInvoiceParams{
		Amount:   domain.FormatAmount(amount, domain.CurrencyBTC),
		Currency: domain.CurrencyBTC,
		OrderID:  id.String(),
		ItemDesc: description,
		Metadata: map[string]any{store.MetadataPurposeKey: PayoutRefillPurpose},
	})
	if err != nil {
		return nil, providerFailure(domain.ProviderBTCPay, "create_invoice", err)
	}

	now := s.now()
	transfer := &domain.Transfer{
		ID:          id,
		Provider:    domain.ProviderBTCPay,
		Direction:   domain.DirectionInbound,
		Amount:      amount,
		Currency:    domain.CurrencyBTC,
		Description: description,
		SenderID:    req.AdminID,
		Status:      domain.StatusPending,
		ExternalRef: invoice.ID,
		Metadata: map[string]any{
			store.MetadataPurposeKey: PayoutRefillPurpose,
			"checkoutLink":           invoice.CheckoutLink,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.CreateTransfer(ctx, transfer); err != nil {
		return nil, fmt.Errorf("record refill: %w", err)
	}
	s.logger.Info("payout refill invoice created", "transfer_id", transfer.ID, "external_ref", invoice.ID, "amount", amount)
	return &domain.CreateTransferResult{Transfer: transfer, RedirectURL: invoice.CheckoutLink}, nil
}

// PayoutFloat reports completed refills minus payouts that are executing or done.
func (s *PayoutService) PayoutFloat(ctx context.Context) (*domain.PayoutFloat, error) {
	refilled, err := s.repo.SumTransfers(ctx, store.TransferSumFilter{
		Provider:  domain.ProviderBTCPay,
		Direction: domain.DirectionInbound,
		Statuses:  []domain.Status{domain.StatusCompleted},
		Purpose:   PayoutRefillPurpose,
	})
	if err != nil {
		return nil, fmt.Errorf("sum refills: %w", err)
	}
	committed, err := s.repo.SumTransfers(ctx, store.TransferSumFilter{
		Provider:  domain.ProviderBTCPay,
		Direction: domain.DirectionOutbound,
		Statuses:  []domain.Status{domain.StatusProcessing, domain.StatusCompleted},
	})
	if err != nil {
		return nil, fmt.Errorf("sum payouts: %w", err)
	}
	return &domain.PayoutFloat{Refilled: refilled, Committed: committed, Available: refilled - committed}, nil
}

func (s *PayoutService) loadPayout(ctx context.Context, transferID uuid.UUID) (*domain.Transfer, error) {
	transfer, err := s.repo.GetTransferByID(ctx, transferID)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			return nil, fmt.Errorf("%w: payout %s", domain.ErrNotFound, transferID)
		}
		return nil, fmt.Errorf("lookup payout: %w", err)
	}
	if !transfer.IsBTCPayout() {
		return nil, fmt.Errorf("%w: payout %s", domain.ErrNotFound, transferID)
	}
	return transfer, nil
}

func (s *PayoutService) decide(ctx context.Context, transfer *domain.Transfer, decision domain.ApprovalStatus, admin string) (*domain.PayoutApproval, error) {
	admin = strings.TrimSpace(admin)
	if admin == "" {
		return nil, fmt.Errorf("%w: admin identity is required", domain.ErrInvalidRequest)
	}
	won, err := s.repo.DecidePayoutApproval(ctx, transfer.ID, decision, admin)
	if err != nil {
		return nil, fmt.Errorf("decide approval: %w", err)
	}
	approval, err := s.repo.GetPayoutApproval(ctx, transfer.ID)
	if err != nil {
		if errors.Is(err, store.ErrApprovalNotFound) {
			return nil, fmt.Errorf("%w: payout %s has no approval", domain.ErrNotFound, transfer.ID)
		}
		return nil, fmt.Errorf("lookup approval: %w", err)
	}
	if !won && approval.ApprovalStatus != decision {
		return nil, fmt.Errorf("%w: payout %s is already %s", domain.ErrInvalidRequest, transfer.ID, approval.ApprovalStatus)
	}
	if won {
		s.logger.Info("payout approval decided", "transfer_id", transfer.ID, "decision", decision, "admin", admin)
	}
	return approval, nil
}
