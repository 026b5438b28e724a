package dto

import (
	"encoding/json"
	"time"

	"github.com/noah-isme/gema-grader/internal/models"
)

// GradeRequest is the JSON body of the grading endpoint.
type GradeRequest struct {
	APIKey              string           `json:"apiKey"`
	QInput              models.InputSlot `json:"qInput" validate:"required"`
	MInput              models.InputSlot `json:"mInput" validate:"required"`
	SInput              models.InputSlot `json:"sInput" validate:"required"`
	PersonaInstructions string           `json:"personaInstructions"`
}

// GradingRunResponse is returned after an orchestrated grading run.
type GradingRunResponse struct {
	RunID        string                  `json:"run_id"`
	PersonaLabel string                  `json:"persona_label"`
	Results      []GradingResultResponse `json:"results"`
}

// GradingResultResponse is one graded question.
type GradingResultResponse struct {
	ID              string  `json:"id"`
	Question        string  `json:"question"`
	Grade           float64 `json:"grade"`
	Feedback        string  `json:"feedback"`
	FeedbackHTML    string  `json:"feedback_html"`
	ExtractedAnswer string  `json:"extracted_answer"`
	ModelAnswer     string  `json:"model_answer"`
	SimilarityScore float64 `json:"similarity_score"`
}

// GradingHistoryResponse summarises a stored grading run.
type GradingHistoryResponse struct {
	ID                string          `json:"id"`
	PersonaProfile    string          `json:"persona_profile"`
	PersonaLabel      string          `json:"persona_label"`
	Status            string          `json:"status"`
	FailureMessage    string          `json:"failure_message,omitempty"`
	ResultCount       int             `json:"result_count"`
	AverageGrade      float64         `json:"average_grade"`
	AverageSimilarity float64         `json:"average_similarity"`
	DurationMs        int64           `json:"duration_ms"`
	CreatedAt         time.Time       `json:"created_at"`
	Results           json.RawMessage `json:"results,omitempty"`
}

// PersonaResponse lists a selectable persona.
type PersonaResponse struct {
	Profile string `json:"profile"`
	Label   string `json:"label"`
}
