package models

import (
	"time"

	"gorm.io/datatypes"
)

// Grading run statuses.
const (
	GradingRunStatusDone   = "done"
	GradingRunStatusFailed = "failed"
)

// GradingRun records the outcome of one grading attempt.
type GradingRun struct {
	ID                string         `gorm:"primaryKey;size:36" json:"id"`
	PersonaProfile    string         `gorm:"size:32" json:"persona_profile"`
	PersonaLabel      string         `gorm:"size:64" json:"persona_label"`
	Status            string         `gorm:"size:16;index" json:"status"`
	FailureMessage    string         `gorm:"type:text" json:"failure_message"`
	ResultCount       int            `json:"result_count"`
	AverageGrade      float64        `json:"average_grade"`
	AverageSimilarity float64        `json:"average_similarity"`
	DurationMs        int64          `json:"duration_ms"`
	Results           datatypes.JSON `json:"results"`
	CreatedAt         time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}
