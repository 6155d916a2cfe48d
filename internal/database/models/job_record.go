package models

import (
	"time"
)

// JobStatus represents the lifecycle stage of a job application
type JobStatus string

const (
	JobStatusApplied     JobStatus = "Applied"
	JobStatusInterviewed JobStatus = "Interviewed"
	JobStatusOffer       JobStatus = "Offer"
	JobStatusDeclined    JobStatus = "Declined"
)

// IsValid checks if the job status is valid
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusApplied, JobStatusInterviewed, JobStatusOffer, JobStatusDeclined:
		return true
	}
	return false
}

// JobRecord is the durable, user-facing application record.
// At most one record exists per (account, message id); re-syncs must not
// create a second one.
type JobRecord struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	AccountID   uint      `gorm:"index;not null;uniqueIndex:idx_job_account_message" json:"account_id"`
	MessageID   string    `gorm:"size:255;not null;uniqueIndex:idx_job_account_message" json:"message_id"`
	Company     string    `gorm:"size:255" json:"company"`
	Position    string    `gorm:"size:255" json:"position"`
	Status      JobStatus `gorm:"size:20;default:'Applied'" json:"status"`
	AppliedDate time.Time `gorm:"index" json:"applied_date"`
	Confidence  float64   `json:"confidence"`
	Source      string    `gorm:"size:10" json:"source"` // fast, deep, review
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
