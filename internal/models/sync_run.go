package models

import "time"

type SyncMode string

const (
	SyncModeFull        SyncMode = "full"        // full active-listing scan
	SyncModeIncremental SyncMode = "incremental" // changed-since delta feed
)

type SyncTrigger string

const (
	TriggerScheduled SyncTrigger = "scheduled" // started by the interval scheduler
	TriggerManual    SyncTrigger = "manual"    // started over the HTTP trigger surface
)

// Sync run status constants
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// SyncRun is one attempt of the catalog synchronization job.
// LastSyncTimestamp is the high-water-mark: set only on successful
// completion and consumed by the next invocation to pick its mode
// and time window.
type SyncRun struct {
	ID                string      `gorm:"column:id;primaryKey" json:"id"`
	Mode              SyncMode    `gorm:"column:mode" json:"mode"`
	Trigger           SyncTrigger `gorm:"column:trigger" json:"trigger"`
	Status            string      `gorm:"column:status;index" json:"status"`
	ItemsProcessed    int         `gorm:"column:items_processed" json:"items_processed"`
	ItemsAdded        int         `gorm:"column:items_added" json:"items_added"`
	ItemsUpdated      int         `gorm:"column:items_updated" json:"items_updated"`
	ItemsFailed       int         `gorm:"column:items_failed" json:"items_failed"`
	ErrorMessage      *string     `gorm:"column:error_message" json:"error_message,omitempty"`
	StartedAt         time.Time   `gorm:"column:started_at" json:"started_at"`
	CompletedAt       *time.Time  `gorm:"column:completed_at" json:"completed_at,omitempty"`
	LastSyncTimestamp *time.Time  `gorm:"column:last_sync_timestamp" json:"last_sync_timestamp,omitempty"`
}

// TableName specifies the table name for GORM
func (SyncRun) TableName() string {
	return "sync_runs"
}
