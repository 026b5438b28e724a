package service

import (
	"errors"
	"fmt"

	"github.com/noah-isme/gema-grader/internal/models"
)

var (
	// ErrMissingCredential indicates no API key was supplied for the run.
	ErrMissingCredential = errors.New("api key is required")
	// ErrMissingPersona indicates the custom persona was chosen without instructions.
	ErrMissingPersona = errors.New("custom persona instructions are required")
	// ErrUnknownPersona indicates the persona profile is not in the catalog.
	ErrUnknownPersona = errors.New("unknown grader profile")
	// ErrInvalidCredential indicates the grading capability rejected the API key.
	ErrInvalidCredential = errors.New("the api key you provided is invalid")
	// ErrInputTooLarge indicates an uploaded file exceeds the configured limit.
	ErrInputTooLarge = errors.New("file exceeds maximum allowed size")
	// ErrUnsupportedMedia indicates an uploaded file is neither an image nor a PDF.
	ErrUnsupportedMedia = errors.New("file type not allowed")
	// ErrGradingInProgress indicates a session already has a run in flight.
	ErrGradingInProgress = errors.New("a grading run is already in progress")
	// ErrEmptyQuestionBank indicates no question could be paired with a model answer.
	ErrEmptyQuestionBank = errors.New("could not build question bank, check inputs")
)

// MissingInputError reports a grading input that was not supplied.
type MissingInputError struct {
	Role models.Role
	Mode models.InputMode
}

func (e *MissingInputError) Error() string {
	if e.Mode == models.InputModeImage {
		return fmt.Sprintf("please upload an image for %s", e.Role.Code())
	}
	return fmt.Sprintf("please enter text for %s", e.Role.Code())
}

// RemoteGradingError carries a failure message returned by the grading capability.
type RemoteGradingError struct {
	Message string
}

func (e *RemoteGradingError) Error() string {
	return e.Message
}
