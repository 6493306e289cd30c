package watcher

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/powersportsmart/catalog-worker/internal/config"
	"github.com/powersportsmart/catalog-worker/internal/models"
	"github.com/powersportsmart/catalog-worker/internal/service"
)

// runLedger is the slice of the sync-run ledger the scheduler reads.
type runLedger interface {
	GetLastSuccessful(ctx context.Context) (*models.SyncRun, error)
}

// syncRunner starts one synchronization run.
type syncRunner interface {
	RunSync(ctx context.Context, opts service.SyncOptions) (*service.SyncSummary, error)
}

// Watcher periodically checks whether a scheduled sync is due and starts one
// when the configured interval has elapsed since the last successful run.
type Watcher struct {
	cfg       *config.Config
	runRepo   runLedger
	processor syncRunner
	log       *zap.SugaredLogger

	now func() time.Time
}

func New(cfg *config.Config, runRepo runLedger, processor syncRunner, log *zap.SugaredLogger) *Watcher {
	return &Watcher{
		cfg:       cfg,
		runRepo:   runRepo,
		processor: processor,
		log:       log,
		now:       time.Now,
	}
}

// Start begins the scheduling loop. It blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.log.Infof("Starting catalog sync scheduler (interval: %dm, poll: %ds)...",
		w.cfg.SyncInterval, w.cfg.PollInterval)

	// Run immediately on startup if a sync is already overdue.
	w.runIfDue(ctx)

	ticker := time.NewTicker(time.Duration(w.cfg.PollInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Scheduler shutting down...")
			return ctx.Err()
		case <-ticker.C:
			w.runIfDue(ctx)
		}
	}
}

// runIfDue starts a scheduled sync when the interval has elapsed. A run
// already in progress (e.g. started over the trigger surface) is not an
// error; the scheduler just waits for the next poll.
func (w *Watcher) runIfDue(ctx context.Context) {
	due, err := w.syncDue(ctx)
	if err != nil {
		w.log.Errorf("Failed to check sync schedule: %v", err)
		return
	}
	if !due {
		return
	}

	summary, err := w.processor.RunSync(ctx, service.SyncOptions{Trigger: models.TriggerScheduled})
	switch {
	case err == nil:
		w.log.Infof("Scheduled sync completed: processed=%d added=%d updated=%d failed=%d",
			summary.Processed, summary.Added, summary.Updated, summary.Failed)
	case errors.Is(err, service.ErrSyncInProgress):
		w.log.Debug("Scheduled sync skipped: another run is in progress")
	case errors.Is(err, service.ErrNoListings):
		w.log.Warn("Scheduled full sync found no listings; check marketplace credentials")
	default:
		w.log.Errorf("Scheduled sync failed: %v", err)
	}
}

// syncDue reports whether the configured interval has elapsed since the last
// successful run. No prior success means a sync is due immediately.
func (w *Watcher) syncDue(ctx context.Context) (bool, error) {
	last, err := w.runRepo.GetLastSuccessful(ctx)
	if err != nil {
		return false, err
	}
	if last == nil || last.CompletedAt == nil {
		return true, nil
	}
	interval := time.Duration(w.cfg.SyncInterval) * time.Minute
	return w.now().Sub(*last.CompletedAt) >= interval, nil
}
