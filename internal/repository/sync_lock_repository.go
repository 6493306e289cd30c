package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/powersportsmart/catalog-worker/internal/models"
)

// ErrLockHeld means another invocation currently holds the sync lock and it
// is not stale yet.
var ErrLockHeld = errors.New("sync lock is already held")

type SyncLockRepository struct {
	db *gorm.DB
}

func NewSyncLockRepository(db *gorm.DB) *SyncLockRepository {
	return &SyncLockRepository{db: db}
}

// Acquire takes the advisory sync lock for the given run. A lock row older
// than staleAfter belongs to a run that never finalized and is taken over.
func (r *SyncLockRepository) Acquire(ctx context.Context, runID string, staleAfter time.Duration) error {
	staleBefore := time.Now().Add(-staleAfter)

	result := r.db.WithContext(ctx).Exec(`
		INSERT INTO sync_locks (name, locked_by, locked_at)
		VALUES (?, ?, NOW())
		ON CONFLICT (name) DO UPDATE
		SET locked_by = EXCLUDED.locked_by, locked_at = EXCLUDED.locked_at
		WHERE sync_locks.locked_at < ?
	`, models.LockNameCatalogSync, runID, staleBefore)
	if result.Error != nil {
		return fmt.Errorf("failed to acquire sync lock: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrLockHeld
	}
	return nil
}

// Release drops the lock if this run still holds it. A stale takeover may
// already have replaced the row; that is not an error.
func (r *SyncLockRepository) Release(ctx context.Context, runID string) error {
	result := r.db.WithContext(ctx).Exec(`
		DELETE FROM sync_locks WHERE name = ? AND locked_by = ?
	`, models.LockNameCatalogSync, runID)
	if result.Error != nil {
		return fmt.Errorf("failed to release sync lock: %w", result.Error)
	}
	return nil
}
