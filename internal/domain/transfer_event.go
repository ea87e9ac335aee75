package domain

import (
	"time"

	"github.com/google/uuid"
)

// Action is the internal meaning of a provider event after classification.
// The concrete types below are the only implementations.
type Action interface {
	actionName() string
}

// TransferCompleted asks for the transfer identified by ExternalRef to settle as completed.
type TransferCompleted struct {
	ExternalRef string
}

// TransferFailed asks for the transfer identified by ExternalRef to settle as failed.
type TransferFailed struct {
	ExternalRef string
	Reason      string
}

// AccountCapabilityUpdated carries a Stripe Connect capability change.
type AccountCapabilityUpdated struct {
	AccountID string
	Linked    bool
}

// Unhandled is any event type outside the known set.
type Unhandled struct {
	EventType string
}

func (TransferCompleted) actionName() string        { return "transfer_completed" }
func (TransferFailed) actionName() string           { return "transfer_failed" }
func (AccountCapabilityUpdated) actionName() string { return "account_capability_updated" }
func (Unhandled) actionName() string                { return "unhandled" }

// ActionName returns the stable label of an action for logs and metrics.
func ActionName(a Action) string {
	if a == nil {
		return "unhandled"
	}
	return a.actionName()
}

// ProviderEvent is a verified, decoded provider notification.
type ProviderEvent struct {
	Provider  Provider
	EventID   string
	EventType string
	Action    Action
}

// TransferStatusEvent is published to RabbitMQ whenever a transfer changes status.
type TransferStatusEvent struct {
	EventID     string     `json:"event_id"`
	TransferID  uuid.UUID  `json:"transfer_id"`
	Provider    Provider   `json:"provider"`
	Direction   Direction  `json:"direction"`
	ExternalRef string     `json:"external_ref"`
	Status      Status     `json:"status"`
	Previous    Status     `json:"previous_status"`
	Amount      int64      `json:"amount"`
	Currency    string     `json:"currency"`
	SenderID    uuid.UUID  `json:"sender_id"`
	ReceiverID  *uuid.UUID `json:"receiver_id,omitempty"`
	Reason      string     `json:"reason,omitempty"`
	OccurredAt  time.Time  `json:"occurred_at"`
}

// ReconcileMessage is consumed from the internal reconciliation queue. Producers are
// trusted internal jobs (provider polling, admin tooling), so no signature is carried.
type ReconcileMessage struct {
	MessageID   string    `json:"message_id"`
	Provider    Provider  `json:"provider"`
	ExternalRef string    `json:"external_ref"`
	Status      string    `json:"status"`
	Reason      string    `json:"reason"`
	ObservedAt  time.Time `json:"observed_at"`
}

// ReconciliationRequired is published for transfers stuck in pending.
type ReconciliationRequired struct {
	TransferID  uuid.UUID `json:"transfer_id"`
	Provider    Provider  `json:"provider"`
	ExternalRef string    `json:"external_ref"`
	Status      Status    `json:"status"`
	StaleFor    string    `json:"stale_for"`
	CreatedAt   time.Time `json:"created_at"`
}
