package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/reconciliation-service/internal/domain"
)

// MemoryRepository is an in-memory Repository with the same compare-and-set semantics as
// PostgresRepository. It backs unit tests of the app and api packages.
type MemoryRepository struct {
	mu        sync.Mutex
	users     map[uuid.UUID]domain.User
	clerkIDs  map[string]uuid.UUID
	accounts  map[string]domain.ConnectedAccount
	transfers map[uuid.UUID]domain.Transfer
	refs      map[string]uuid.UUID
	approvals map[uuid.UUID]domain.PayoutApproval
	processed map[string]ProcessedEvent

	statusWrites int
}

// NewMemoryRepository returns an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:     make(map[uuid.UUID]domain.User),
		clerkIDs:  make(map[string]uuid.UUID),
		accounts:  make(map[string]domain.ConnectedAccount),
		transfers: make(map[uuid.UUID]domain.Transfer),
		refs:      make(map[string]uuid.UUID),
		approvals: make(map[uuid.UUID]domain.PayoutApproval),
		processed: make(map[string]ProcessedEvent),
	}
}

// AddUser seeds a user reachable by both its internal id and its Clerk id.
func (m *MemoryRepository) AddUser(user domain.User, clerkUserID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user
	if clerkUserID != "" {
		m.clerkIDs[clerkUserID] = user.ID
	}
	if user.ConnectedAccountID != nil {
		m.accounts[*user.ConnectedAccountID] = domain.ConnectedAccount{
			AccountID:       *user.ConnectedAccountID,
			UserID:          user.ID,
			TransfersLinked: user.ConnectedLinked,
			UpdatedAt:       time.Now().UTC(),
		}
	}
}

// ConnectedAccount returns the stored capability record of an account.
func (m *MemoryRepository) ConnectedAccount(accountID string) (domain.ConnectedAccount, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[accountID]
	return account, ok
}

// StatusWrites counts successful AtomicUpdateStatus calls.
func (m *MemoryRepository) StatusWrites() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statusWrites
}

func (m *MemoryRepository) FindUserIDByClerkUserID(_ context.Context, clerkUserID string) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.clerkIDs[clerkUserID]
	if !ok {
		return uuid.Nil, ErrUserNotFound
	}
	return id, nil
}

func (m *MemoryRepository) FindUserByID(_ context.Context, userID uuid.UUID) (*domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return nil, ErrUserNotFound
	}
	for _, account := range m.accounts {
		if account.UserID == userID {
			accountID := account.AccountID
			user.ConnectedAccountID = &accountID
			user.ConnectedLinked = account.TransfersLinked
		}
	}
	return &user, nil
}

func (m *MemoryRepository) CreateTransfer(_ context.Context, transfer *domain.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertLocked(transfer)
}

func (m *MemoryRepository) insertLocked(transfer *domain.Transfer) error {
	key := refKey(transfer.Provider, transfer.ExternalRef)
	if _, exists := m.refs[key]; exists {
		return ErrDuplicateExternalRef
	}
	m.transfers[transfer.ID] = copyTransfer(*transfer)
	m.refs[key] = transfer.ID
	return nil
}

func (m *MemoryRepository) GetTransferByID(_ context.Context, id uuid.UUID) (*domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	transfer, ok := m.transfers[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	out := copyTransfer(transfer)
	return &out, nil
}

func (m *MemoryRepository) GetTransferByExternalRef(_ context.Context, provider domain.Provider, externalRef string) (*domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.refs[refKey(provider, externalRef)]
	if !ok {
		return nil, ErrTransferNotFound
	}
	out := copyTransfer(m.transfers[id])
	return &out, nil
}

func (m *MemoryRepository) AtomicUpdateStatus(_ context.Context, id uuid.UUID, expected, newStatus domain.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	transfer, ok := m.transfers[id]
	if !ok || transfer.Status != expected {
		return false, nil
	}
	transfer.Status = newStatus
	if now := time.Now().UTC(); now.After(transfer.UpdatedAt) {
		transfer.UpdatedAt = now
	}
	m.transfers[id] = transfer
	m.statusWrites++
	return true, nil
}

func (m *MemoryRepository) ListTransfersForUser(_ context.Context, userID uuid.UUID) ([]domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transfer
	for _, transfer := range m.transfers {
		if transfer.SenderID == userID || (transfer.ReceiverID != nil && *transfer.ReceiverID == userID) {
			out = append(out, copyTransfer(transfer))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRepository) FindStaleTransfers(_ context.Context, statuses []domain.Status, olderThan time.Time, limit int) ([]domain.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Transfer
	for _, transfer := range m.transfers {
		if !containsStatus(statuses, transfer.Status) || !transfer.UpdatedAt.Before(olderThan) {
			continue
		}
		if approval, ok := m.approvals[transfer.ID]; ok && approval.ApprovalStatus == domain.ApprovalAwaiting {
			continue
		}
		out = append(out, copyTransfer(transfer))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) SumTransfers(_ context.Context, filter TransferSumFilter) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, transfer := range m.transfers {
		if transfer.Provider != filter.Provider || transfer.Direction != filter.Direction {
			continue
		}
		if !containsStatus(filter.Statuses, transfer.Status) {
			continue
		}
		if filter.Purpose != "" {
			purpose, _ := transfer.Metadata[MetadataPurposeKey].(string)
			if purpose != filter.Purpose {
				continue
			}
		}
		total += transfer.Amount
	}
	return total, nil
}

func (m *MemoryRepository) UpsertConnectedAccountCapability(_ context.Context, accountID string, linked bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	account := m.accounts[accountID]
	account.AccountID = accountID
	account.TransfersLinked = linked
	account.UpdatedAt = time.Now().UTC()
	m.accounts[accountID] = account
	return nil
}

func (m *MemoryRepository) CreatePayoutWithApproval(_ context.Context, transfer *domain.Transfer, approval *domain.PayoutApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.insertLocked(transfer); err != nil {
		return err
	}
	m.approvals[approval.TransferID] = *approval
	return nil
}

func (m *MemoryRepository) GetPayoutApproval(_ context.Context, transferID uuid.UUID) (*domain.PayoutApproval, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	approval, ok := m.approvals[transferID]
	if !ok {
		return nil, ErrApprovalNotFound
	}
	return &approval, nil
}

func (m *MemoryRepository) DecidePayoutApproval(_ context.Context, transferID uuid.UUID, decision domain.ApprovalStatus, admin string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	approval, ok := m.approvals[transferID]
	if !ok || approval.ApprovalStatus != domain.ApprovalAwaiting {
		return false, nil
	}
	approval.ApprovalStatus = decision
	approval.ApprovedBy = &admin
	approval.UpdatedAt = time.Now().UTC()
	m.approvals[transferID] = approval
	return true, nil
}

func (m *MemoryRepository) HasProcessedEvent(_ context.Context, provider domain.Provider, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[refKey(provider, eventID)]
	return ok, nil
}

func (m *MemoryRepository) RecordProcessedEvent(_ context.Context, event ProcessedEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := refKey(event.Provider, event.EventID)
	if _, exists := m.processed[key]; !exists {
		m.processed[key] = event
	}
	return nil
}

func refKey(provider domain.Provider, ref string) string {
	return string(provider) + ":" + ref
}

func containsStatus(statuses []domain.Status, status domain.Status) bool {
	for _, candidate := range statuses {
		if candidate == status {
			return true
		}
	}
	return false
}

func copyTransfer(t domain.Transfer) domain.Transfer {
	if t.Metadata != nil {
		metadata := make(map[string]any, len(t.Metadata))
		for k, v := range t.Metadata {
			metadata[k] = v
		}
		t.Metadata = metadata
	}
	return t
}
