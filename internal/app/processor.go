/**
 * @description
 * This file contains the event processor: it authenticates provider webhooks, classifies
 * them into internal actions and applies status changes through the one compare-and-set
 * primitive every other path (PayPal capture, Authorize.net settlement, the reconciliation
 * consumer, payout execution) also uses.
 *
 * Delivery guarantees:
 * - Providers deliver at least once and out of order; applying the same event twice is a no-op.
 * - The first terminal status wins. Later conflicting events are logged as anomalies and acked.
 * - Events ahead of the ledger (a payout confirmed before its execution is recorded) are
 *   deferred: not recorded, and refused so the provider redelivers.
 * - Storage failures surface as errors so the provider redelivers.
 *
 * @dependencies
 * - log/slog: structured logging.
 * - internal/domain, internal/store: state machine and ledger access.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/transfa/reconciliation-service/internal/domain"
	"github.com/transfa/reconciliation-service/internal/store"
)

// Outcome is the result of handling one event.
type Outcome string

const (
	OutcomeApplied           Outcome = "applied"
	OutcomeNoop              Outcome = "noop"
	OutcomeAnomaly           Outcome = "anomaly"
	OutcomeDeferred          Outcome = "deferred"
	OutcomeNotFound          Outcome = "not_found"
	OutcomeDuplicate         Outcome = "duplicate"
	OutcomeUnhandled         Outcome = "unhandled"
	OutcomeCapabilityUpdated Outcome = "capability_updated"
)

const defaultApplyAttempts = 3

// TransitionApplier moves a transfer towards a target status with compare-and-set writes.
type TransitionApplier struct {
	repo        store.Repository
	notifier    *StatusNotifier
	logger      *slog.Logger
	maxAttempts int
}

func NewTransitionApplier(repo store.Repository, notifier *StatusNotifier, logger *slog.Logger) *TransitionApplier {
	return &TransitionApplier{
		repo:        repo,
		notifier:    notifier,
		logger:      logger.With("component", "transition_applier"),
		maxAttempts: defaultApplyAttempts,
	}
}

// ApplyByRef locates the transfer by provider reference and applies target to it.
// A missing transfer is reported as OutcomeNotFound without an error.
func (a *TransitionApplier) ApplyByRef(ctx context.Context, provider domain.Provider, externalRef string, target domain.Status, reason string) (Outcome, *domain.Transfer, error) {
	transfer, err := a.repo.GetTransferByExternalRef(ctx, provider, externalRef)
	if err != nil {
		if errors.Is(err, store.ErrTransferNotFound) {
			a.logger.Warn("no transfer for provider reference",
				"provider", provider,
				"external_ref", externalRef,
				"target", target,
			)
			return OutcomeNotFound, nil, nil
		}
		return "", nil, fmt.Errorf("lookup transfer: %w", err)
	}
	return a.Apply(ctx, transfer, target, reason)
}

// Apply evaluates target against the state machine and writes it when legal.
func (a *TransitionApplier) Apply(ctx context.Context, transfer *domain.Transfer, target domain.Status, reason string) (Outcome, *domain.Transfer, error) {
	return a.apply(ctx, transfer, target, reason, domain.DecideTransition)
}

// applyExecution is used by payout execution, the only path allowed to move an outbound
// BTC payout from pending to processing.
func (a *TransitionApplier) applyExecution(ctx context.Context, transfer *domain.Transfer, target domain.Status, reason string) (Outcome, *domain.Transfer, error) {
	return a.apply(ctx, transfer, target, reason, func(t *domain.Transfer, to domain.Status) domain.TransitionDecision {
		if t.Status == to {
			return domain.DecisionNoop
		}
		if !domain.CanTransition(t.Status, to) {
			return domain.DecisionAnomaly
		}
		return domain.DecisionApply
	})
}

func (a *TransitionApplier) apply(
	ctx context.Context,
	transfer *domain.Transfer,
	target domain.Status,
	reason string,
	decide func(*domain.Transfer, domain.Status) domain.TransitionDecision,
) (Outcome, *domain.Transfer, error) {
	current := transfer
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		switch decide(current, target) {
		case domain.DecisionNoop:
			return OutcomeNoop, current, nil
		case domain.DecisionAnomaly:
			a.logger.Warn("anomalous transition dropped",
				"err", domain.ErrAnomalousTransition,
				"transfer_id", current.ID,
				"provider", current.Provider,
				"external_ref", current.ExternalRef,
				"current", current.Status,
				"target", target,
				"reason", reason,
			)
			return OutcomeAnomaly, current, nil
		case domain.DecisionDefer:
			a.logger.Info("transition deferred until the ledger catches up",
				"transfer_id", current.ID,
				"provider", current.Provider,
				"external_ref", current.ExternalRef,
				"current", current.Status,
				"target", target,
			)
			return OutcomeDeferred, current, nil
		}

		previous := current.Status
		ok, err := a.repo.AtomicUpdateStatus(ctx, current.ID, previous, target)
		if err != nil {
			return "", current, fmt.Errorf("update transfer status: %w", err)
		}
		if ok {
			updated := *current
			updated.Status = target
			if now := time.Now().UTC(); now.After(updated.UpdatedAt) {
				updated.UpdatedAt = now
			}
			a.logger.Info("transfer status changed",
				"transfer_id", updated.ID,
				"provider", updated.Provider,
				"external_ref", updated.ExternalRef,
				"from", previous,
				"to", target,
			)
			a.notifier.TransferStatusChanged(ctx, &updated, previous, reason)
			return OutcomeApplied, &updated, nil
		}

		// Lost the race; re-evaluate against whatever won.
		reloaded, err := a.repo.GetTransferByID(ctx, current.ID)
		if err != nil {
			return "", current, fmt.Errorf("reload transfer: %w", err)
		}
		current = reloaded
	}
	return "", current, fmt.Errorf("transfer %s: status contention after %d attempts", current.ID, a.maxAttempts)
}

// revertExecution undoes a payout execution claim after the provider definitely refused
// the approval. It is the only path from processing back to pending and it loses to any
// concurrent settlement.
func (a *TransitionApplier) revertExecution(ctx context.Context, transfer *domain.Transfer, reason string) (bool, error) {
	ok, err := a.repo.AtomicUpdateStatus(ctx, transfer.ID, domain.StatusProcessing, domain.StatusPending)
	if err != nil {
		return false, fmt.Errorf("revert payout execution: %w", err)
	}
	if !ok {
		a.logger.Warn("payout execution revert lost to a concurrent update", "transfer_id", transfer.ID, "external_ref", transfer.ExternalRef)
		return false, nil
	}
	reverted := *transfer
	reverted.Status = domain.StatusPending
	if now := time.Now().UTC(); now.After(reverted.UpdatedAt) {
		reverted.UpdatedAt = now
	}
	a.logger.Warn("payout execution reverted",
		"transfer_id", reverted.ID,
		"external_ref", reverted.ExternalRef,
		"reason", reason,
	)
	a.notifier.TransferStatusChanged(ctx, &reverted, domain.StatusProcessing, reason)
	return true, nil
}

// EventProcessor handles raw provider webhooks end to end.
type EventProcessor struct {
	verifiers map[domain.Provider]SignatureVerifier
	repo      store.Repository
	markers   EventMarkers
	applier   *TransitionApplier
	logger    *slog.Logger
}

func NewEventProcessor(
	verifiers map[domain.Provider]SignatureVerifier,
	repo store.Repository,
	markers EventMarkers,
	applier *TransitionApplier,
	logger *slog.Logger,
) *EventProcessor {
	return &EventProcessor{
		verifiers: verifiers,
		repo:      repo,
		markers:   markers,
		applier:   applier,
		logger:    logger.With("component", "event_processor"),
	}
}

// HandleWebhook verifies, classifies, dedupes and applies one provider notification.
// A nil error means the delivery should be acknowledged.
func (p *EventProcessor) HandleWebhook(ctx context.Context, provider domain.Provider, headers http.Header, body []byte) (Outcome, error) {
	verifier, ok := p.verifiers[provider]
	if !ok {
		return "", fmt.Errorf("%w: no verifier for provider %s", domain.ErrAuthenticationFailed, provider)
	}
	if err := verifier.Verify(headers, body); err != nil {
		p.logger.Warn("webhook signature rejected", "provider", provider, "err", err)
		return "", err
	}

	event, err := Classify(provider, body)
	if err != nil {
		p.logger.Warn("webhook payload rejected", "provider", provider, "err", err)
		return "", err
	}
	log := p.logger.With(
		"provider", provider,
		"event_id", event.EventID,
		"event_type", event.EventType,
		"action", domain.ActionName(event.Action),
	)

	if _, unhandled := event.Action.(domain.Unhandled); unhandled {
		log.Info("ignoring unhandled event type")
		return OutcomeUnhandled, nil
	}

	if event.EventID != "" {
		duplicate, err := p.alreadyProcessed(ctx, provider, event.EventID)
		if err != nil {
			return "", err
		}
		if duplicate {
			log.Info("duplicate event acknowledged", "outcome", OutcomeDuplicate)
			return OutcomeDuplicate, nil
		}
	}

	outcome, externalRef, err := p.dispatch(ctx, event)
	if err != nil {
		log.Error("event processing failed", "err", err)
		return "", err
	}
	log.Info("event processed", "outcome", outcome, "external_ref", externalRef)

	if outcome == OutcomeDeferred {
		return outcome, fmt.Errorf("%w: %s %s", domain.ErrTransitionDeferred, event.EventType, externalRef)
	}
	// Not-found events are left unrecorded so a later redelivery can still apply them.
	if outcome == OutcomeNotFound || event.EventID == "" {
		return outcome, nil
	}
	if err := p.repo.RecordProcessedEvent(ctx, store.ProcessedEvent{
		Provider:    provider,
		EventID:     event.EventID,
		EventType:   event.EventType,
		ExternalRef: externalRef,
		Outcome:     string(outcome),
		ProcessedAt: time.Now().UTC(),
	}); err != nil {
		return "", fmt.Errorf("record processed event: %w", err)
	}
	if p.markers != nil {
		if err := p.markers.Mark(ctx, provider, event.EventID); err != nil {
			log.Warn("event marker write failed", "err", err)
		}
	}
	return outcome, nil
}

func (p *EventProcessor) alreadyProcessed(ctx context.Context, provider domain.Provider, eventID string) (bool, error) {
	if p.markers != nil {
		seen, err := p.markers.Seen(ctx, provider, eventID)
		if err != nil {
			p.logger.Warn("event marker lookup failed; using ledger", "provider", provider, "event_id", eventID, "err", err)
		} else if seen {
			return true, nil
		}
	}
	seen, err := p.repo.HasProcessedEvent(ctx, provider, eventID)
	if err != nil {
		return false, fmt.Errorf("check processed event: %w", err)
	}
	return seen, nil
}

func (p *EventProcessor) dispatch(ctx context.Context, event domain.ProviderEvent) (Outcome, string, error) {
	switch action := event.Action.(type) {
	case domain.TransferCompleted:
		outcome, _, err := p.applier.ApplyByRef(ctx, event.Provider, action.ExternalRef, domain.StatusCompleted, event.EventType)
		return outcome, action.ExternalRef, err
	case domain.TransferFailed:
		reason := action.Reason
		if reason == "" {
			reason = event.EventType
		}
		outcome, _, err := p.applier.ApplyByRef(ctx, event.Provider, action.ExternalRef, domain.StatusFailed, reason)
		return outcome, action.ExternalRef, err
	case domain.AccountCapabilityUpdated:
		if err := p.repo.UpsertConnectedAccountCapability(ctx, action.AccountID, action.Linked); err != nil {
			return "", action.AccountID, fmt.Errorf("upsert connected account: %w", err)
		}
		return OutcomeCapabilityUpdated, action.AccountID, nil
	default:
		return OutcomeUnhandled, "", nil
	}
}
