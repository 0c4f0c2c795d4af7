package chain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adsight/backfill/internal/store"
)

// Worker drains due month units from the durable queue, one at a time. A
// single worker is intentional: the upstream rate limit is global per
// account, so parallel month imports would only accelerate throttling.
type Worker struct {
	scheduler    *Scheduler
	store        *store.Store
	logger       *slog.Logger
	pollInterval time.Duration

	shutdown chan struct{}
	wg       sync.WaitGroup
}

// NewWorker builds a chain worker polling at the given interval.
func NewWorker(scheduler *Scheduler, s *store.Store, logger *slog.Logger, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	return &Worker{
		scheduler:    scheduler,
		store:        s,
		logger:       logger,
		pollInterval: pollInterval,
		shutdown:     make(chan struct{}),
	}
}

// Start launches the polling loop in a background goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals shutdown and waits for the in-flight unit to finish.
func (w *Worker) Stop() {
	close(w.shutdown)
	w.wg.Wait()
	w.logger.Info("chain worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.logger.Info("chain worker started", "poll_interval", w.pollInterval)

	for {
		// Drain everything currently due before sleeping again
		w.drain(ctx)

		select {
		case <-ticker.C:
		case <-w.shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// drain claims and runs due units until the queue is empty or shutdown.
func (w *Worker) drain(ctx context.Context) {
	for {
		select {
		case <-w.shutdown:
			return
		case <-ctx.Done():
			return
		default:
		}

		rec, err := w.store.ClaimDueMonth(time.Now())
		if err != nil {
			if !store.IsNotFound(err) {
				w.logger.Error("failed to claim month unit", "error", err)
			}
			return
		}

		w.logger.Info("month unit claimed",
			"project_id", rec.ProjectID,
			"year", rec.Year,
			"month", rec.Month)

		if err := w.scheduler.RunUnit(ctx, rec); err != nil {
			w.logger.Error("month unit failed", "error", err)
		}
	}
}
