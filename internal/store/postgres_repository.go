/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * Status changes are single-row compare-and-set updates, so concurrent deliveries for
 * the same transfer serialize on that row and nowhere else.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/transfa/reconciliation-service/internal/domain"
)

const transferColumns = `id, provider, direction, amount, currency, description, sender_id, receiver_id,
	status, external_ref, metadata, created_at, updated_at`

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// FindUserIDByClerkUserID resolves the internal UUID from a Clerk user id.
func (r *PostgresRepository) FindUserIDByClerkUserID(ctx context.Context, clerkUserID string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.db.QueryRow(ctx, "SELECT id FROM users WHERE clerk_user_id = $1", clerkUserID).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrUserNotFound
		}
		return uuid.Nil, err
	}
	return id, nil
}

// FindUserByID retrieves a user together with their Stripe connected account, if any.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	query := `
		SELECT u.id, u.email, ca.account_id, COALESCE(ca.transfers_linked, FALSE)
		FROM users u
		LEFT JOIN connected_accounts ca ON ca.user_id = u.id
		WHERE u.id = $1
	`
	var user domain.User
	err := r.db.QueryRow(ctx, query, userID).Scan(&user.ID, &user.Email, &user.ConnectedAccountID, &user.ConnectedLinked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// CreateTransfer inserts a new transfer. A second row for the same provider reference is rejected.
func (r *PostgresRepository) CreateTransfer(ctx context.Context, transfer *domain.Transfer) error {
	return insertTransfer(ctx, r.db, transfer)
}

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func insertTransfer(ctx context.Context, db execer, transfer *domain.Transfer) error {
	metadata, err := json.Marshal(nonNilMetadata(transfer.Metadata))
	if err != nil {
		return fmt.Errorf("marshal transfer metadata: %w", err)
	}

	query := `
		INSERT INTO transfers (id, provider, direction, amount, currency, description, sender_id,
			receiver_id, status, external_ref, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = db.Exec(ctx, query,
		transfer.ID,
		string(transfer.Provider),
		string(transfer.Direction),
		transfer.Amount,
		transfer.Currency,
		transfer.Description,
		transfer.SenderID,
		transfer.ReceiverID,
		string(transfer.Status),
		transfer.ExternalRef,
		metadata,
		transfer.CreatedAt,
		transfer.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateExternalRef
		}
		return err
	}
	return nil
}

// GetTransferByID retrieves a transfer by its primary key.
func (r *PostgresRepository) GetTransferByID(ctx context.Context, id uuid.UUID) (*domain.Transfer, error) {
	row := r.db.QueryRow(ctx, "SELECT "+transferColumns+" FROM transfers WHERE id = $1", id)
	return scanTransfer(row)
}

// GetTransferByExternalRef finds the transfer a provider event refers to.
func (r *PostgresRepository) GetTransferByExternalRef(ctx context.Context, provider domain.Provider, externalRef string) (*domain.Transfer, error) {
	row := r.db.QueryRow(ctx, "SELECT "+transferColumns+" FROM transfers WHERE provider = $1 AND external_ref = $2", string(provider), externalRef)
	return scanTransfer(row)
}

// AtomicUpdateStatus is the single status mutation primitive. updated_at never moves backwards.
func (r *PostgresRepository) AtomicUpdateStatus(ctx context.Context, id uuid.UUID, expected, newStatus domain.Status) (bool, error) {
	query := `
		UPDATE transfers
		SET status = $3, updated_at = GREATEST(updated_at, NOW())
		WHERE id = $1 AND status = $2
	`
	result, err := r.db.Exec(ctx, query, id, string(expected), string(newStatus))
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// ListTransfersForUser returns every transfer the user sent or received, newest first.
func (r *PostgresRepository) ListTransfersForUser(ctx context.Context, userID uuid.UUID) ([]domain.Transfer, error) {
	query := "SELECT " + transferColumns + ` FROM transfers
		WHERE sender_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

// FindStaleTransfers lists unsettled transfers not updated since olderThan, oldest first.
func (r *PostgresRepository) FindStaleTransfers(ctx context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.Transfer, error) {
	if limit <= 0 {
		limit = 100
	}
	statusValues := make([]string, 0, len(statuses))
	for _, status := range statuses {
		statusValues = append(statusValues, string(status))
	}
	query := "SELECT " + transferColumns + ` FROM transfers t
		WHERE t.status = ANY($1) AND t.updated_at < $2
		AND NOT EXISTS (
			SELECT 1 FROM payout_approvals pa
			WHERE pa.transfer_id = t.id AND pa.approval_status = 'awaiting_approval'
		)
		ORDER BY t.updated_at ASC
		LIMIT $3`
	rows, err := r.db.Query(ctx, query, statusValues, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTransfers(rows)
}

// SumTransfers aggregates amounts for the payout float computation.
func (r *PostgresRepository) SumTransfers(ctx context.Context, filter TransferSumFilter) (int64, error) {
	statuses := make([]string, 0, len(filter.Statuses))
	for _, status := range filter.Statuses {
		statuses = append(statuses, string(status))
	}
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM transfers
		WHERE provider = $1
		  AND direction = $2
		  AND status = ANY($3)
		  AND ($4 = '' OR metadata ->> 'purpose' = $4)
	`
	var total int64
	err := r.db.QueryRow(ctx, query, string(filter.Provider), string(filter.Direction), statuses, filter.Purpose).Scan(&total)
	return total, err
}

// UpsertConnectedAccountCapability records the latest transfers capability for an account.
func (r *PostgresRepository) UpsertConnectedAccountCapability(ctx context.Context, accountID string, linked bool) error {
	query := `
		INSERT INTO connected_accounts (account_id, transfers_linked, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account_id)
		DO UPDATE SET transfers_linked = EXCLUDED.transfers_linked, updated_at = NOW()
	`
	_, err := r.db.Exec(ctx, query, accountID, linked)
	return err
}

// CreatePayoutWithApproval inserts the payout transfer and its approval in one transaction.
func (r *PostgresRepository) CreatePayoutWithApproval(ctx context.Context, transfer *domain.Transfer, approval *domain.PayoutApproval) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if err := insertTransfer(ctx, tx, transfer); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO payout_approvals (transfer_id, approval_status, approved_by, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5)
		`, approval.TransferID, string(approval.ApprovalStatus), approval.ApprovedBy, approval.CreatedAt, approval.UpdatedAt)
		return err
	})
}

// GetPayoutApproval retrieves the approval record of a payout transfer.
func (r *PostgresRepository) GetPayoutApproval(ctx context.Context, transferID uuid.UUID) (*domain.PayoutApproval, error) {
	query := `
		SELECT transfer_id, approval_status, approved_by, created_at, updated_at
		FROM payout_approvals
		WHERE transfer_id = $1
	`
	var approval domain.PayoutApproval
	var status string
	err := r.db.QueryRow(ctx, query, transferID).Scan(
		&approval.TransferID,
		&status,
		&approval.ApprovedBy,
		&approval.CreatedAt,
		&approval.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrApprovalNotFound
		}
		return nil, err
	}
	approval.ApprovalStatus = domain.ApprovalStatus(status)
	return &approval, nil
}

// DecidePayoutApproval is a compare-and-set out of awaiting_approval.
func (r *PostgresRepository) DecidePayoutApproval(ctx context.Context, transferID uuid.UUID, decision domain.ApprovalStatus, admin string) (bool, error) {
	query := `
		UPDATE payout_approvals
		SET approval_status = $2, approved_by = $3, updated_at = NOW()
		WHERE transfer_id = $1 AND approval_status = 'awaiting_approval'
	`
	result, err := r.db.Exec(ctx, query, transferID, string(decision), admin)
	if err != nil {
		return false, err
	}
	return result.RowsAffected() == 1, nil
}

// HasProcessedEvent reports whether a provider event id was already applied.
func (r *PostgresRepository) HasProcessedEvent(ctx context.Context, provider domain.Provider, eventID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM processed_events WHERE provider = $1 AND event_id = $2)",
		string(provider), eventID,
	).Scan(&exists)
	return exists, err
}

// RecordProcessedEvent stores the outcome of an applied event. Duplicates are ignored.
func (r *PostgresRepository) RecordProcessedEvent(ctx context.Context, event ProcessedEvent) error {
	query := `
		INSERT INTO processed_events (provider, event_id, event_type, external_ref, outcome, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (provider, event_id) DO NOTHING
	`
	processedAt := event.ProcessedAt
	if processedAt.IsZero() {
		processedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, query, string(event.Provider), event.EventID, event.EventType, event.ExternalRef, event.Outcome, processedAt)
	return err
}

func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	transfer, err := scanTransferRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransferNotFound
		}
		return nil, err
	}
	return transfer, nil
}

func collectTransfers(rows pgx.Rows) ([]domain.Transfer, error) {
	var transfers []domain.Transfer
	for rows.Next() {
		transfer, err := scanTransferRow(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, *transfer)
	}
	return transfers, rows.Err()
}

func scanTransferRow(row pgx.Row) (*domain.Transfer, error) {
	var (
		transfer  domain.Transfer
		provider  string
		direction string
		status    string
		metadata  []byte
	)
	err := row.Scan(
		&transfer.ID,
		&provider,
		&direction,
		&transfer.Amount,
		&transfer.Currency,
		&transfer.Description,
		&transfer.SenderID,
		&transfer.ReceiverID,
		&status,
		&transfer.ExternalRef,
		&metadata,
		&transfer.CreatedAt,
		&transfer.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	transfer.Provider = domain.Provider(provider)
	transfer.Direction = domain.Direction(direction)
	transfer.Status = domain.Status(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &transfer.Metadata); err != nil {
			return nil, fmt.Errorf("decode transfer metadata: %w", err)
		}
	}
	return &transfer, nil
}

func nonNilMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return map[string]any{}
	}
	return metadata
}
