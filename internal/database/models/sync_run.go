package models

import (
	"time"
)

// SyncRunStatus represents the terminal (or current) state of a sync run
type SyncRunStatus string

const (
	SyncRunRunning   SyncRunStatus = "running"
	SyncRunSuccess   SyncRunStatus = "success"
	SyncRunError     SyncRunStatus = "error"
	SyncRunCancelled SyncRunStatus = "cancelled"
)

// IsValid checks if the sync run status is valid
func (s SyncRunStatus) IsValid() bool {
	switch s {
	case SyncRunRunning, SyncRunSuccess, SyncRunError, SyncRunCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status is a terminal state
func (s SyncRunStatus) IsTerminal() bool {
	return s == SyncRunSuccess || s == SyncRunError || s == SyncRunCancelled
}

// SyncRun is the immutable per-invocation audit record of one pipeline run.
// It is created when the run starts and finalized exactly once at the end.
type SyncRun struct {
	ID              uint          `gorm:"primaryKey" json:"id"`
	AccountIDs      string        `gorm:"type:text" json:"account_ids"` // JSON array stored as string
	WindowFrom      time.Time     `json:"window_from"`
	WindowTo        time.Time     `json:"window_to"`
	ClassifyOnly    bool          `gorm:"default:false" json:"classify_only"`
	EmailsFetched   int           `gorm:"default:0" json:"emails_fetched"`
	EmailsSkipped   int           `gorm:"default:0" json:"emails_skipped"`
	DigestsFiltered int           `gorm:"default:0" json:"digests_filtered"`
	Classified      int           `gorm:"default:0" json:"classified"`
	JobsFound       int           `gorm:"default:0" json:"jobs_found"`
	NeedsReview     int           `gorm:"default:0" json:"needs_review"`
	AutoRejected    int           `gorm:"default:0" json:"auto_rejected"`
	AccountErrors   int           `gorm:"default:0" json:"account_errors"`
	DurationMs      int64         `gorm:"default:0" json:"duration_ms"`
	Status          SyncRunStatus `gorm:"size:20;index" json:"status"`
	Error           string        `gorm:"type:text" json:"error,omitempty"`
	CreatedAt       time.Time     `gorm:"index" json:"created_at"`
	FinishedAt      time.Time     `json:"finished_at"`
}
