package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/reconciliation-service/internal/domain"
	"github.com/transfa/reconciliation-service/internal/store"
)

func seedAgedTransfer(t *testing.T, repo *store.MemoryRepository, ref string, status domain.Status, age time.Duration) *domain.Transfer {
	t.Helper()
	created := time.Now().UTC().Add(-age)
	transfer := &domain.Transfer{
		ID:          uuid.New(),
		Provider:    domain.ProviderStripe,
		Direction:   domain.DirectionInbound,
		Amount:      100,
		Currency:    "USD",
		SenderID:    uuid.New(),
		Status:      status,
		ExternalRef: ref,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
	if err := repo.CreateTransfer(context.Background(), transfer); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return transfer
}

func TestSweepFlagsStalePendingWithoutMutating(t *testing.T) {
	h := newTestHarness()
	stale := seedAgedTransfer(t, h.repo, "pi_stale", domain.StatusPending, 2*time.Hour)
	seedAgedTransfer(t, h.repo, "pi_fresh", domain.StatusPending, 5*time.Minute)
	seedAgedTransfer(t, h.repo, "pi_done", domain.StatusCompleted, 3*time.Hour)

	sweeper := NewStaleTransferSweeper(h.repo, h.notifier, time.Hour, testLogger())
	flagged, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flagged != 1 {
		t.Fatalf("expected one flagged transfer, got %d", flagged)
	}

	h.publisher.mu.Lock()
	messages := append([]publishedMessage(nil), h.publisher.messages...)
	h.publisher.mu.Unlock()
	if len(messages) != 1 || messages[0].routingKey != "transfer.reconciliation.required" {
		t.Fatalf("unexpected messages: %+v", messages)
	}
	event, ok := messages[0].body.(domain.ReconciliationRequired)
	if !ok || event.TransferID != stale.ID || event.ExternalRef != "pi_stale" {
		t.Fatalf("unexpected event: %#v", messages[0].body)
	}

	if got := mustTransfer(t, h.repo, stale.ID); got.Status != domain.StatusPending {
		t.Fatalf("sweep must not change status, got %s", got.Status)
	}
	if writes := h.repo.StatusWrites(); writes != 0 {
		t.Fatalf("expected no status writes, got %d", writes)
	}
}

func TestSweepSkipsAwaitingApprovalAndFlagsStuckProcessing(t *testing.T) {
	h := newTestHarness()
	aged := time.Now().UTC().Add(-3 * time.Hour)
	newPayout := func(ref string, status domain.Status, approval domain.ApprovalStatus) *domain.Transfer {
		payout := &domain.Transfer{
			ID:          uuid.New(),
			Provider:    domain.ProviderBTCPay,
			Direction:   domain.DirectionOutbound,
			Amount:      5000,
			Currency:    domain.CurrencyBTC,
			SenderID:    uuid.New(),
			Status:      status,
			ExternalRef: ref,
			CreatedAt:   aged,
			UpdatedAt:   aged,
		}
		record := &domain.PayoutApproval{TransferID: payout.ID, ApprovalStatus: approval, CreatedAt: aged, UpdatedAt: aged}
		if err := h.repo.CreatePayoutWithApproval(context.Background(), payout, record); err != nil {
			t.Fatalf("seed payout: %v", err)
		}
		return payout
	}
	newPayout("payout_waiting", domain.StatusPending, domain.ApprovalAwaiting)
	stuck := newPayout("payout_stuck", domain.StatusProcessing, domain.ApprovalApproved)

	sweeper := NewStaleTransferSweeper(h.repo, h.notifier, time.Hour, testLogger())
	flagged, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flagged != 1 {
		t.Fatalf("expected one flagged transfer, got %d", flagged)
	}

	h.publisher.mu.Lock()
	messages := append([]publishedMessage(nil), h.publisher.messages...)
	h.publisher.mu.Unlock()
	event, ok := messages[0].body.(domain.ReconciliationRequired)
	if !ok || event.TransferID != stuck.ID || event.Status != domain.StatusProcessing {
		t.Fatalf("unexpected event: %#v", messages[0].body)
	}

	// A second cycle still skips the payout nobody has approved yet.
	flagged, err = sweeper.Sweep(context.Background())
	if err != nil || flagged != 1 {
		t.Fatalf("expected the same single flag, got %d err=%v", flagged, err)
	}
}

func TestSweepContinuesPastPublishFailures(t *testing.T) {
	h := newTestHarness()
	h.publisher.err = errors.New("broker down")
	seedAgedTransfer(t, h.repo, "pi_stale", domain.StatusPending, 2*time.Hour)

	sweeper := NewStaleTransferSweeper(h.repo, h.notifier, time.Hour, testLogger())
	flagged, err := sweeper.Sweep(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if flagged != 0 {
		t.Fatalf("expected nothing flagged, got %d", flagged)
	}
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	sweeper := NewStaleTransferSweeper(store.NewMemoryRepository(), nil, time.Hour, testLogger())
	scheduler := NewScheduler(sweeper, "not a schedule", testLogger())
	if err := scheduler.Start(); err == nil {
		t.Fatalf("expected invalid schedule to fail")
	}

	scheduler = NewScheduler(sweeper, "@every 1h", testLogger())
	if err := scheduler.Start(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	<-scheduler.Stop().Done()
}
