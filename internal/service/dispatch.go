package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
)

// Dispatcher sends a grading request to the grading capability.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.GradingRequest) (models.GradingResponse, error)
}

// LocalDispatcher grades in-process. Failures carry the same message the
// grading endpoint would return.
type LocalDispatcher struct {
	backend EvaluationService
}

// NewLocalDispatcher wraps backend as a Dispatcher.
func NewLocalDispatcher(backend EvaluationService) *LocalDispatcher {
	return &LocalDispatcher{backend: backend}
}

// Dispatch grades req with the in-process backend.
func (d *LocalDispatcher) Dispatch(ctx context.Context, req models.GradingRequest) (models.GradingResponse, error) {
	response, err := d.backend.Grade(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.GradingResponse{}, err
		}
		return models.GradingResponse{}, &RemoteGradingError{Message: GradeErrorMessage(err)}
	}
	return response, nil
}

type gradeEnvelope struct {
	Success bool                    `json:"success"`
	Data    *models.GradingResponse `json:"data"`
	Message string                  `json:"message"`
}

// HTTPDispatcher posts grading requests to a remote grading endpoint.
type HTTPDispatcher struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPDispatcher targets baseURL/api/v1/grade. A nil client uses a default
// client without its own timeout; the run deadline bounds the call.
func NewHTTPDispatcher(baseURL string, client *http.Client, logger zerolog.Logger) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPDispatcher{
		endpoint: strings.TrimRight(strings.TrimSpace(baseURL), "/") + "/api/v1/grade",
		client:   client,
		logger:   logger.With().Str("component", "http_dispatcher").Logger(),
	}
}

// Dispatch posts req and decodes the response envelope.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req models.GradingRequest) (models.GradingResponse, error) {
	payload, err := json.Marshal(dto.GradeRequest{
		APIKey:              req.Credential,
		QInput:              req.Question,
		MInput:              req.Model,
		SInput:              req.Student,
		PersonaInstructions: req.PersonaInstructions,
	})
	if err != nil {
		return models.GradingResponse{}, fmt.Errorf("encode grading request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return models.GradingResponse{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := d.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return models.GradingResponse{}, ctx.Err()
		}
		d.logger.Warn().Err(err).Str("endpoint", d.endpoint).Msg("grading request failed")
		return models.GradingResponse{}, &RemoteGradingError{Message: err.Error()}
	}
	defer resp.Body.Close()

	d.logger.Debug().
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("grading response received")

	var envelope gradeEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return models.GradingResponse{}, &RemoteGradingError{Message: MessageUnknownFailure}
	}
	if !envelope.Success || resp.StatusCode >= http.StatusBadRequest || envelope.Data == nil {
		message := strings.TrimSpace(envelope.Message)
		if message == "" {
			message = MessageUnknownFailure
		}
		return models.GradingResponse{}, &RemoteGradingError{Message: message}
	}

	return *envelope.Data, nil
}
