package models

import "strings"

// Role identifies one of the three grading inputs.
type Role string

const (
	RoleQuestion Role = "question"
	RoleModel    Role = "model"
	RoleStudent  Role = "student"
)

// Roles lists every role in collection order.
var Roles = []Role{RoleQuestion, RoleModel, RoleStudent}

// Code returns the single-letter code shown to users ("Q", "M", "S").
func (r Role) Code() string {
	switch r {
	case RoleQuestion:
		return "Q"
	case RoleModel:
		return "M"
	case RoleStudent:
		return "S"
	default:
		return strings.ToUpper(string(r))
	}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleQuestion || r == RoleModel || r == RoleStudent
}

// InputMode selects how a slot is supplied.
type InputMode string

const (
	InputModeImage InputMode = "image"
	InputModeText  InputMode = "text"
)

// ParseInputMode maps user input onto an InputMode.
func ParseInputMode(value string) (InputMode, bool) {
	switch InputMode(strings.ToLower(strings.TrimSpace(value))) {
	case InputModeImage:
		return InputModeImage, true
	case InputModeText:
		return InputModeText, true
	default:
		return "", false
	}
}

// InputSlot is a collected grading input. Data holds base64 content without a
// data-URI prefix in image mode and trimmed text in text mode. MimeType is only
// set in image mode.
type InputSlot struct {
	Role     Role      `json:"-"`
	Mode     InputMode `json:"mode" validate:"required,oneof=image text"`
	Data     string    `json:"data" validate:"required"`
	MimeType string    `json:"mimeType,omitempty" validate:"required_if=Mode image"`
}

// PersonaDirective is a resolved grading style.
type PersonaDirective struct {
	Profile      string `json:"profile"`
	Label        string `json:"label"`
	Instructions string `json:"instructions"`
}

// GradingRequest bundles everything sent to the grading capability for one run.
type GradingRequest struct {
	Credential          string
	Question            InputSlot
	Model               InputSlot
	Student             InputSlot
	PersonaInstructions string
}

// QuestionBankEntry pairs a question with its model answer.
type QuestionBankEntry struct {
	ID          string `json:"id"`
	Question    string `json:"question"`
	ModelAnswer string `json:"model_answer"`
}

// Evaluation is the grader's verdict on one answer.
type Evaluation struct {
	ID              string  `json:"id"`
	Grade           float64 `json:"grade"`
	ExtractedAnswer string  `json:"extracted_answer"`
	Feedback        string  `json:"feedback"`
}

// GradingResponse is the successful payload of the grading capability.
type GradingResponse struct {
	Evaluation   []Evaluation        `json:"evaluation"`
	QuestionBank []QuestionBankEntry `json:"questionBank"`
}

// ScoredResult pairs an evaluation with its question and a similarity score
// between the model answer and the extracted answer.
type ScoredResult struct {
	Evaluation      Evaluation        `json:"evaluation"`
	Entry           QuestionBankEntry `json:"entry"`
	SimilarityScore float64           `json:"similarity_score"`
}
