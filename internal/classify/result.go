package classify

import (
	"time"

	"github.com/jobtrail/core/internal/database/models"
)

// Result is one classification verdict for one email.
// A Result is never mutated after creation; corrections produce a new one.
type Result struct {
	IsJobRelated bool
	Company      string
	Position     string
	Status       models.JobStatus // empty when unknown or not job-related
	Confidence   float64
	Source       models.ClassificationSource
	ProducedAt   time.Time
}

// NewFastResult builds a Result from the fast classifier's binary verdict
func NewFastResult(isJobRelated bool, confidence float64) *Result {
	return &Result{
		IsJobRelated: isJobRelated,
		Confidence:   confidence,
		Source:       models.SourceFast,
		ProducedAt:   time.Now(),
	}
}
