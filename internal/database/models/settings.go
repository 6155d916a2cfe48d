package models

import (
	"time"
)

// PipelineSettings is the single mutable settings row for the pipeline.
// Only the prompt override lives here for now; an empty ExtractionPrompt
// means the built-in template is used.
type PipelineSettings struct {
	ID               uint      `gorm:"primaryKey" json:"id"`
	ExtractionPrompt string    `gorm:"type:text" json:"extraction_prompt"`
	UpdatedAt        time.Time `json:"updated_at"`
}
