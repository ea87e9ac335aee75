package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/transfa/reconciliation-service/internal/domain"
	"github.com/transfa/reconciliation-service/internal/store"
)

// ReconcileRoutingKeyPrefix is followed by the provider name, e.g. transfer.reconcile.paypal.
const ReconcileRoutingKeyPrefix = "transfer.reconcile."

const reconcileEventPrefix = "reconcile:"

// ReconcileConsumer applies provider status results published by internal jobs.
type ReconcileConsumer struct {
	repo    store.Repository
	applier *TransitionApplier
	logger  *slog.Logger
	timeout time.Duration
}

func NewReconcileConsumer(repo store.Repository, applier *TransitionApplier, logger *slog.Logger) *ReconcileConsumer {
	return &ReconcileConsumer{
		repo:    repo,
		applier: applier,
		logger:  logger.With("component", "reconcile_consumer"),
		timeout: 15 * time.Second,
	}
}

// Bindings returns one routing key per provider, all served by HandleMessage.
func (c *ReconcileConsumer) Bindings() map[string]func([]byte) bool {
	bindings := make(map[string]func([]byte) bool, len(domain.Providers))
	for _, provider := range domain.Providers {
		bindings[ReconcileRoutingKeyPrefix+string(provider)] = c.HandleMessage
	}
	return bindings
}

// HandleMessage returns true to ack and false to requeue.
func (c *ReconcileConsumer) HandleMessage(body []byte) bool {
	var msg domain.ReconcileMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Warn("failed to unmarshal payload", "err", err)
		return true
	}

	provider, err := domain.ParseProvider(string(msg.Provider))
	if err != nil || strings.TrimSpace(msg.ExternalRef) == "" {
		c.logger.Warn("dropping reconcile message without provider reference",
			"provider", msg.Provider,
			"external_ref", msg.ExternalRef,
			"message_id", msg.MessageID,
		)
		return true
	}
	msg.Provider = provider

	target, ok := normalizeStatus(msg.Status)
	if !ok {
		c.logger.Info("ignoring non-actionable status", "provider", provider, "external_ref", msg.ExternalRef, "status", msg.Status)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if err := c.process(ctx, msg, target); err != nil {
		c.logger.Error("processing error", "provider", provider, "external_ref", msg.ExternalRef, "err", err)
		return false
	}
	return true
}

func (c *ReconcileConsumer) process(ctx context.Context, msg domain.ReconcileMessage, target domain.Status) error {
	eventID := ""
	if msg.MessageID != "" {
		eventID = reconcileEventPrefix + msg.MessageID
		seen, err := c.repo.HasProcessedEvent(ctx, msg.Provider, eventID)
		if err != nil {
			return fmt.Errorf("check processed event: %w", err)
		}
		if seen {
			return nil
		}
	}

	reason := msg.Reason
	if reason == "" {
		reason = "reconciliation feed"
	}
	outcome, _, err := c.applier.ApplyByRef(ctx, msg.Provider, msg.ExternalRef, target, reason)
	if err != nil {
		return err
	}
	c.logger.Info("reconcile message applied", "provider", msg.Provider, "external_ref", msg.ExternalRef, "target", target, "outcome", outcome)

	// Deferred results stay unrecorded; the stale sweep asks for them again.
	if eventID == "" || outcome == OutcomeNotFound || outcome == OutcomeDeferred {
		return nil
	}
	return c.repo.RecordProcessedEvent(ctx, store.ProcessedEvent{
		Provider:    msg.Provider,
		EventID:     eventID,
		EventType:   "reconcile." + string(target),
		ExternalRef: msg.ExternalRef,
		Outcome:     string(outcome),
		ProcessedAt: time.Now().UTC(),
	})
}

func normalizeStatus(status string) (domain.Status, bool) {
	switch strings.TrimSpace(strings.ToLower(status)) {
	case "successful", "success", "succeeded", "completed", "settled", "confirmed":
		return domain.StatusCompleted, true
	case "failed", "failure", "declined", "denied", "expired", "invalid":
		return domain.StatusFailed, true
	case "cancelled", "canceled", "voided":
		return domain.StatusCancelled, true
	case "processing", "in_progress":
		return domain.StatusProcessing, true
	default:
		return "", false
	}
}
