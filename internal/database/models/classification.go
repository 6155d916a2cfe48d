package models

import (
	"time"
)

// ClassificationSource identifies which tier produced a classification
type ClassificationSource string

const (
	// SourceFast is the local low-latency classifier
	SourceFast ClassificationSource = "fast"
	// SourceDeep is the generative-model extractor
	SourceDeep ClassificationSource = "deep"
	// SourceReview is a human verdict from the review queue
	SourceReview ClassificationSource = "review"
)

// IsValid checks if the classification source is valid
func (s ClassificationSource) IsValid() bool {
	switch s {
	case SourceFast, SourceDeep, SourceReview:
		return true
	}
	return false
}

// Classification is the audit row written once per email per sync pass.
// Rows are never updated; a correction appends a new row for the same
// message id. The presence of any row for (account, message id) is what
// makes re-syncs skip already-processed emails.
type Classification struct {
	ID           uint                 `gorm:"primaryKey" json:"id"`
	AccountID    uint                 `gorm:"index:idx_cls_account_message;not null" json:"account_id"`
	MessageID    string               `gorm:"index:idx_cls_account_message;size:255;not null" json:"message_id"`
	IsJobRelated bool                 `gorm:"default:false" json:"is_job_related"`
	Company      string               `gorm:"size:255" json:"company,omitempty"`
	Position     string               `gorm:"size:255" json:"position,omitempty"`
	Status       string               `gorm:"size:20" json:"status,omitempty"`
	Confidence   float64              `json:"confidence"`
	Source       ClassificationSource `gorm:"size:10" json:"source"`
	Routed       string               `gorm:"size:20" json:"routed"` // accepted, rejected, review, filtered
	CreatedAt    time.Time            `json:"created_at"`
}
