package models

import "time"

// LockNameCatalogSync is the advisory lock guarding the sync job. Only one
// invocation may hold it; a holder that never finalized is considered stale
// after the configured timeout and can be taken over.
const LockNameCatalogSync = "catalog_sync"

type SyncLock struct {
	Name     string    `gorm:"column:name;primaryKey"`
	LockedBy string    `gorm:"column:locked_by"` // sync run ID of the holder
	LockedAt time.Time `gorm:"column:locked_at"`
}

// TableName specifies the table name for GORM
func (SyncLock) TableName() string {
	return "sync_locks"
}
