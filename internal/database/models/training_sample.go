package models

import (
	"time"
)

// SampleOrigin identifies where a training sample came from
type SampleOrigin string

const (
	// OriginReview is a human verdict fed back from the review queue
	OriginReview SampleOrigin = "review"
	// OriginFeedback is an explicit correction submitted through the API
	OriginFeedback SampleOrigin = "feedback"
	// OriginSeed is a built-in bootstrap sample
	OriginSeed SampleOrigin = "seed"
)

// TrainingSample is one labeled example for the fast classifier.
// High-confidence human verdicts accumulate here and drive retraining.
type TrainingSample struct {
	ID           uint         `gorm:"primaryKey" json:"id"`
	Subject      string       `gorm:"size:500" json:"subject"`
	FromAddr     string       `gorm:"size:255" json:"from"`
	BodyExcerpt  string       `gorm:"size:2000" json:"body_excerpt"`
	IsJobRelated bool         `gorm:"index" json:"is_job_related"`
	Origin       SampleOrigin `gorm:"size:20;index" json:"origin"`
	CreatedAt    time.Time    `json:"created_at"`
}
