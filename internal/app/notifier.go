package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/reconciliation-service/internal/domain"
	"github.com/transfa/reconciliation-service/pkg/rabbitmq"
)

const (
	statusRoutingKeyPrefix           = "transfer.status."
	reconciliationRequiredRoutingKey = "transfer.reconciliation.required"
	notifyTimeout                    = 5 * time.Second
)

// StatusNotifier publishes transfer lifecycle events to the events exchange. Publishing is
// best effort: failures are logged and never roll back a committed transition.
type StatusNotifier struct {
	publisher rabbitmq.Publisher
	exchange  string
	logger    *slog.Logger
}

func NewStatusNotifier(publisher rabbitmq.Publisher, exchange string, logger *slog.Logger) *StatusNotifier {
	if exchange == "" {
		exchange = "transfer_events"
	}
	return &StatusNotifier{
		publisher: publisher,
		exchange:  exchange,
		logger:    logger.With("component", "status_notifier"),
	}
}

// TransferStatusChanged publishes transfer.status.<status>.
func (n *StatusNotifier) TransferStatusChanged(ctx context.Context, t *domain.Transfer, previous domain.Status, reason string) {
	if n == nil || n.publisher == nil {
		return
	}
	event := domain.TransferStatusEvent{
		EventID:     uuid.NewString(),
		TransferID:  t.ID,
		Provider:    t.Provider,
		Direction:   t.Direction,
		ExternalRef: t.ExternalRef,
		Status:      t.Status,
		Previous:    previous,
		Amount:      t.Amount,
		Currency:    t.Currency,
		SenderID:    t.SenderID,
		ReceiverID:  t.ReceiverID,
		Reason:      reason,
		OccurredAt:  time.Now().UTC(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := n.publisher.Publish(pubCtx, n.exchange, statusRoutingKeyPrefix+string(t.Status), event); err != nil {
		n.logger.Warn("transfer status publish failed",
			"transfer_id", t.ID,
			"provider", t.Provider,
			"status", t.Status,
			"err", err,
		)
	}
}

// ReconciliationRequired publishes transfer.reconciliation.required.
func (n *StatusNotifier) ReconciliationRequired(ctx context.Context, event domain.ReconciliationRequired) error {
	if n == nil || n.publisher == nil {
		return nil
	}
	pubCtx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()
	return n.publisher.Publish(pubCtx, n.exchange, reconciliationRequiredRoutingKey, event)
}
