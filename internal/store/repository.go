/**
 * @description
 * This file defines the `Repository` interface, the contract for every ledger operation
 * the reconciliation core performs. The ledger is the only shared mutable resource; all
 * status changes go through AtomicUpdateStatus so contention stays scoped to one row.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For transfer identifiers.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/reconciliation-service/internal/domain"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrTransferNotFound     = errors.New("transfer not found")
	ErrDuplicateExternalRef = errors.New("external ref already recorded for provider")
	ErrApprovalNotFound     = errors.New("payout approval not found")
)

// Repository defines the set of methods for interacting with the ledger.
type Repository interface {
	// User methods
	FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error)
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)

	// Transfer methods
	CreateTransfer(ctx context.Context, transfer *domain.Transfer) error
	GetTransferByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error)
	GetTransferByExternalRef(ctx context.Context, provider domain.Provider, externalRef string) (*domain.Transfer, error)
	// AtomicUpdateStatus writes newStatus only if the row still holds expected.
	// It returns false (and no error) when the compare-and-set lost.
	AtomicUpdateStatus(ctx context.Context, id uuid.UUID, expected, newStatus domain.Status) (bool, error)
	ListTransfersForUser(ctx context.Context, userID uuid.UUID) ([]domain.Transfer, error)
	// FindStaleTransfers lists transfers in one of statuses not updated since olderThan.
	// Payouts still awaiting an admin decision are excluded.
	FindStaleTransfers(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.Transfer, error)
	SumTransfers(ctx context.Context, filter TransferSumFilter) (int64, error)

	// Connected account methods
	UpsertConnectedAccountCapability(ctx context.Context, accountID string, linked bool) error

	// Payout approval methods
	CreatePayoutWithApproval(ctx context.Context, transfer *domain.Transfer, approval *domain.PayoutApproval) error
	GetPayoutApproval(ctx context.Context, transferID uuid.UUID) (*domain.PayoutApproval, error)
	// DecidePayoutApproval moves an approval out of awaiting_approval. It returns false when
	// the approval was already decided.
	DecidePayoutApproval(ctx context.Context, transferID uuid.UUID, decision domain.ApprovalStatus, admin string) (bool, error)

	// Processed event methods
	HasProcessedEvent(ctx context.Context, provider domain.Provider, eventID string) (bool, error)
	RecordProcessedEvent(ctx context.Context, event ProcessedEvent) error
}

// TransferSumFilter selects the transfers aggregated by SumTransfers.
type TransferSumFilter struct {
	Provider  domain.Provider
	Direction domain.Direction
	Statuses  []domain.Status
	Purpose   string
}

// ProcessedEvent is one row of the provider event dedupe ledger.
type ProcessedEvent struct {
	Provider    domain.Provider
	EventID     string
	EventType   string
	ExternalRef string
	Outcome     string
	ProcessedAt time.Time
}

// MetadataPurposeKey tags special-purpose transfers such as payout float refills.
const MetadataPurposeKey = "purpose"
