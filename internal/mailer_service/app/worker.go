package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// WorkerConfig holds configuration specific to the DispatchWorker.
type WorkerConfig struct {
	Cycle     time.Duration // poll interval between dispatch cycles
	BatchSize int           // maximum records acquired per cycle
}

// DispatchWorker is the background loop that pops due, unsent email records
// and sends them through the transport within the configured ceilings.
type DispatchWorker struct {
	mailer *Mailer
	logger *slog.Logger
	config WorkerConfig
}

func NewDispatchWorker(mailer *Mailer, logger *slog.Logger, cfg WorkerConfig) *DispatchWorker {
	if cfg.Cycle <= 0 {
		cfg.Cycle = 10 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &DispatchWorker{mailer: mailer, logger: logger, config: cfg}
}

// DispatchDueEmails runs a single dispatch cycle: it computes the remaining
// allowance from the sliding-window counts, acquires at most that many due
// records, and attempts each. It returns the number of records attempted and
// any critical error (repository failures; individual transport failures are
// recorded on the record and do not stop the cycle).
func (w *DispatchWorker) DispatchDueEmails(ctx context.Context) (int, error) {
	repo, _, err := w.mailer.attached()
	if err != nil {
		return 0, err
	}

	start := time.Now()
	outcome := "ok"
	defer func() {
		dispatchCycleDurationHist.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	now := time.Now().UTC()

	allowance, window, err := remainingAllowance(ctx, repo, w.mailer.ceilings, now)
	if err != nil {
		outcome = "error"
		return 0, fmt.Errorf("ceiling check: %w", err)
	}
	if allowance == 0 {
		w.logger.InfoContext(ctx, "Rate ceiling exhausted; due emails wait for the next cycle", "window", window)
		ceilingDeferredCounter.WithLabelValues(window).Inc()
		outcome = "deferred"
		return 0, nil
	}

	limit := w.config.BatchSize
	if allowance < limit {
		limit = allowance
	}

	records, err := repo.AcquireDue(ctx, now, limit)
	if err != nil {
		outcome = "error"
		return 0, fmt.Errorf("acquire due emails: %w", err)
	}
	if len(records) == 0 {
		return 0, nil
	}

	w.logger.InfoContext(ctx, "Dispatching due emails", "count", len(records), "allowance", allowance)

	for _, record := range records {
		// Outcome is recorded on the record; a transport failure must not
		// block the rest of the batch.
		_ = w.mailer.attemptDispatch(ctx, record)
	}

	return len(records), nil
}

// Run starts the poll loop and blocks until ctx is cancelled or a critical
// error occurs.
func (w *DispatchWorker) Run(ctx context.Context) error {
	w.logger.Info("Starting mail dispatch worker", "cycle", w.config.Cycle, "batch_size", w.config.BatchSize)

	ticker := time.NewTicker(w.config.Cycle)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			processed, err := w.DispatchDueEmails(ctx)
			if err != nil {
				w.logger.ErrorContext(ctx, "Dispatch cycle encountered a critical error, stopping", "error", err)
				return err
			}
			if processed > 0 {
				w.logger.InfoContext(ctx, "Dispatch cycle finished", "processed", processed)
			}
		case <-ctx.Done():
			w.logger.Info("Mail dispatch worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}
