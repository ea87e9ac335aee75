/**
 * @description
 * Cron-driven sweep for transfers stuck in pending or processing. Payouts still awaiting
 * an admin decision are skipped. The sweep never changes a transfer:
 * it publishes transfer.reconciliation.required so a polling job or an operator can
 * query the provider and feed the result back through the reconciliation queue.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/transfa/reconciliation-service/internal/domain"
	"github.com/transfa/reconciliation-service/internal/store"
)

const defaultSweepBatch = 200

// sweptStatuses are the unsettled statuses a provider event is expected to resolve.
var sweptStatuses = []domain.Status{domain.StatusPending, domain.StatusProcessing}

// StaleTransferSweeper finds unsettled transfers untouched for longer than a threshold.
type StaleTransferSweeper struct {
	repo       store.Repository
	notifier   *StatusNotifier
	staleAfter time.Duration
	batchSize  int
	logger     *slog.Logger
	now        func() time.Time
}

func NewStaleTransferSweeper(repo store.Repository, notifier *StatusNotifier, staleAfter time.Duration, logger *slog.Logger) *StaleTransferSweeper {
	if staleAfter <= 0 {
		staleAfter = 60 * time.Minute
	}
	return &StaleTransferSweeper{
		repo:       repo,
		notifier:   notifier,
		staleAfter: staleAfter,
		batchSize:  defaultSweepBatch,
		logger:     logger.With("component", "stale_transfer_sweeper"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Sweep flags each stale transfer and returns how many were published.
func (s *StaleTransferSweeper) Sweep(ctx context.Context) (int, error) {
	now := s.now()
	stale, err := s.repo.FindStaleTransfers(ctx, sweptStatuses, now.Add(-s.staleAfter), s.batchSize)
	if err != nil {
		return 0, err
	}

	flagged := 0
	for _, t := range stale {
		event := domain.ReconciliationRequired{
			TransferID:  t.ID,
			Provider:    t.Provider,
			ExternalRef: t.ExternalRef,
			Status:      t.Status,
			StaleFor:    now.Sub(t.UpdatedAt).Truncate(time.Second).String(),
			CreatedAt:   t.CreatedAt,
		}
		if err := s.notifier.ReconciliationRequired(ctx, event); err != nil {
			s.logger.Warn("reconciliation request publish failed", "transfer_id", t.ID, "provider", t.Provider, "err", err)
			continue
		}
		s.logger.Info("transfer flagged for reconciliation",
			"transfer_id", t.ID,
			"provider", t.Provider,
			"external_ref", t.ExternalRef,
			"status", t.Status,
			"stale_for", event.StaleFor,
		)
		flagged++
	}
	return flagged, nil
}

// RunOnce is the cron entry point.
func (s *StaleTransferSweeper) RunOnce() {
	s.logger.Info("starting stale transfer sweep")
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	flagged, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("stale transfer sweep failed", "error", err)
		return
	}
	s.logger.Info("stale transfer sweep finished", "flagged", flagged)
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	sweeper  *StaleTransferSweeper
	schedule string
	logger   *slog.Logger
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(sweeper *StaleTransferSweeper, schedule string, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		sweeper:  sweeper,
		schedule: schedule,
		logger:   logger,
	}
}

// Start registers the sweep and starts the cron scheduler.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.sweeper.RunOnce); err != nil {
		s.logger.Error("failed to schedule stale transfer sweep", "error", err)
		return err
	}
	s.logger.Info("scheduled stale transfer sweep", "schedule", s.schedule)
	s.cron.Start()
	return nil
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
