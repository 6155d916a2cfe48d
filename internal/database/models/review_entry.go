package models

import (
	"time"
)

// ReviewEntry holds a classification awaiting a human verdict.
// An entry is destroyed by the verdict or by expiry; at most one entry is
// open per (account, message id) at any time.
type ReviewEntry struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AccountID    uint      `gorm:"index;not null;uniqueIndex:idx_review_account_message" json:"account_id"`
	MessageID    string    `gorm:"size:255;not null;uniqueIndex:idx_review_account_message" json:"message_id"`
	Subject      string    `gorm:"size:500" json:"subject"`
	FromAddr     string    `gorm:"size:255" json:"from"`
	BodyExcerpt  string    `gorm:"size:2000" json:"body_excerpt"`
	ReceivedAt   time.Time `json:"received_at"`
	IsJobRelated bool      `gorm:"default:false" json:"is_job_related"`
	Company      string    `gorm:"size:255" json:"company,omitempty"`
	Position     string    `gorm:"size:255" json:"position,omitempty"`
	Status       string    `gorm:"size:20" json:"status,omitempty"`
	Confidence   float64   `json:"confidence"`
	Source       string    `gorm:"size:10" json:"source"`
	ExpiresAt    time.Time `gorm:"index" json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the entry's retention horizon has passed
func (e *ReviewEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
