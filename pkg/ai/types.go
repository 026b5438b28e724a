package ai

import (
	"context"
	"errors"
)

// InvalidAPIKeyMarker is the message reported when a provider rejects the
// caller's API key. Clients match on it to prompt for a new key.
const InvalidAPIKeyMarker = "API_KEY_INVALID"

var (
	// ErrInvalidAPIKey indicates the provider rejected the supplied key.
	ErrInvalidAPIKey = errors.New(InvalidAPIKeyMarker)
	// ErrMissingAPIKey indicates no key was supplied for the call.
	ErrMissingAPIKey = errors.New("api key is required")
	// ErrMalformedOutput indicates the model answered with unusable JSON.
	ErrMalformedOutput = errors.New("model returned malformed output")
)

// Mode tells the model whether Input carries an image or text.
type Mode string

const (
	ModeImage Mode = "image"
	ModeText  Mode = "text"
)

// Input is one document handed to the model. Data is base64 without a
// data-URI prefix for images and raw text otherwise.
type Input struct {
	Mode     Mode
	Data     string
	MimeType string
}

// ItemKind names what ExtractItems should look for.
type ItemKind string

const (
	KindQuestions ItemKind = "questions"
	KindAnswers   ItemKind = "answers"
)

// Item is a numbered piece of text transcribed from an input.
type Item struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// BankEntry is a question with its model answer.
type BankEntry struct {
	ID          string `json:"id"`
	Question    string `json:"question"`
	ModelAnswer string `json:"model_answer"`
}

// Evaluation is the model's verdict for one question.
type Evaluation struct {
	ID              string  `json:"id"`
	ExtractedAnswer string  `json:"extracted_answer"`
	Grade           float64 `json:"grade"`
	Feedback        string  `json:"feedback"`
}

// Model is a language model able to transcribe exam sheets and grade answers.
// The API key travels with every call because keys belong to end users.
type Model interface {
	Name() string
	ExtractItems(ctx context.Context, apiKey string, input Input, kind ItemKind) ([]Item, error)
	GradeAnswers(ctx context.Context, apiKey string, student Input, bank []BankEntry, persona string) ([]Evaluation, error)
}
