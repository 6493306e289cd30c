package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/powersportsmart/catalog-worker/internal/models"
)

type SyncRunRepository struct {
	db *gorm.DB
}

func NewSyncRunRepository(db *gorm.DB) *SyncRunRepository {
	return &SyncRunRepository{db: db}
}

// Create inserts a new run record, normally with status "running"
func (r *SyncRunRepository) Create(ctx context.Context, run *models.SyncRun) error {
	result := r.db.WithContext(ctx).Create(run)
	if result.Error != nil {
		return fmt.Errorf("failed to create sync run: %w", result.Error)
	}
	return nil
}

// GetLastSuccessful returns the most recent completed run that recorded a
// high-water-mark, or (nil, nil) when no run has ever succeeded. The next
// invocation uses it to choose full versus incremental mode.
func (r *SyncRunRepository) GetLastSuccessful(ctx context.Context) (*models.SyncRun, error) {
	var run models.SyncRun
	result := r.db.WithContext(ctx).
		Where("status = ? AND last_sync_timestamp IS NOT NULL", models.RunStatusCompleted).
		Order("completed_at DESC").
		First(&run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get last successful run: %w", result.Error)
	}
	return &run, nil
}

// GetLatest returns the most recently started run regardless of status, or
// (nil, nil) when the ledger is empty.
func (r *SyncRunRepository) GetLatest(ctx context.Context) (*models.SyncRun, error) {
	var run models.SyncRun
	result := r.db.WithContext(ctx).
		Order("started_at DESC").
		First(&run)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest run: %w", result.Error)
	}
	return &run, nil
}

// UpdateCounters persists the running counters mid-run so an operator can
// watch progress.
func (r *SyncRunRepository) UpdateCounters(ctx context.Context, runID string, processed, added, updated, failed int) error {
	result := r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"items_processed": processed,
			"items_added":     added,
			"items_updated":   updated,
			"items_failed":    failed,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update run counters: %w", result.Error)
	}
	return nil
}

// MarkCompleted finalizes a successful run and advances the high-water-mark
// to the end of the window the run covered.
func (r *SyncRunRepository) MarkCompleted(ctx context.Context, runID string, highWaterMark time.Time) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"status":              models.RunStatusCompleted,
			"completed_at":        now,
			"last_sync_timestamp": highWaterMark,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark run completed: %w", result.Error)
	}
	return nil
}

// MarkFailed finalizes a failed run. The high-water-mark is left untouched so
// the next invocation re-covers the same window.
func (r *SyncRunRepository) MarkFailed(ctx context.Context, runID string, errMsg string) error {
	now := time.Now()
	result := r.db.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ?", runID).
		Updates(map[string]interface{}{
			"status":        models.RunStatusFailed,
			"completed_at":  now,
			"error_message": errMsg,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to mark run failed: %w", result.Error)
	}
	return nil
}
