package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
)

// ErrGradingRunNotFound indicates no run exists with the requested ID.
var ErrGradingRunNotFound = errors.New("grading run not found")

// EventPublisher publishes raw messages. *nats.Conn satisfies it.
type EventPublisher interface {
	Publish(subject string, data []byte) error
}

// GradingRunEvent is published whenever a run finishes.
type GradingRunEvent struct {
	RunID             string    `json:"run_id"`
	Status            string    `json:"status"`
	PersonaProfile    string    `json:"persona_profile"`
	ResultCount       int       `json:"result_count"`
	AverageGrade      float64   `json:"average_grade"`
	AverageSimilarity float64   `json:"average_similarity"`
	FailureMessage    string    `json:"failure_message,omitempty"`
	DurationMs        int64     `json:"duration_ms"`
	FinishedAt        time.Time `json:"finished_at"`
}

// GradingHistoryService records finished runs and serves them back.
type GradingHistoryService interface {
	RunRecorder
	List(ctx context.Context, limit int) ([]models.GradingRun, error)
	Get(ctx context.Context, id string) (models.GradingRun, error)
}

type gradingHistoryService struct {
	repo      repository.GradingRunRepository
	publisher EventPublisher
	subject   string
	logger    zerolog.Logger
}

// NewGradingHistoryService builds the history service. publisher may be nil;
// events go to <subjectPrefix>.grading.completed.
func NewGradingHistoryService(repo repository.GradingRunRepository, publisher EventPublisher, subjectPrefix string, logger zerolog.Logger) GradingHistoryService {
	subject := ""
	if publisher != nil {
		prefix := strings.Trim(strings.ReplaceAll(strings.TrimSpace(subjectPrefix), ":", "."), ".")
		if prefix == "" {
			prefix = "gema"
		}
		subject = prefix + ".grading.completed"
	}
	return &gradingHistoryService{
		repo:      repo,
		publisher: publisher,
		subject:   subject,
		logger:    logger.With().Str("component", "grading_history_service").Logger(),
	}
}

func (s *gradingHistoryService) Record(ctx context.Context, record RunRecord) error {
	run := models.GradingRun{
		ID:             record.RunID,
		PersonaProfile: record.Persona.Profile,
		PersonaLabel:   record.Persona.Label,
		Status:         models.GradingRunStatusDone,
		ResultCount:    len(record.Results),
		DurationMs:     record.Duration.Milliseconds(),
		CreatedAt:      record.StartedAt,
	}
	if record.Err != nil {
		run.Status = models.GradingRunStatusFailed
		run.FailureMessage = record.Err.Error()
	}

	if len(record.Results) > 0 {
		var gradeSum, similaritySum float64
		for _, result := range record.Results {
			gradeSum += result.Evaluation.Grade
			similaritySum += result.SimilarityScore
		}
		count := float64(len(record.Results))
		run.AverageGrade = gradeSum / count
		run.AverageSimilarity = similaritySum / count
	}

	results := record.Results
	if results == nil {
		results = []models.ScoredResult{}
	}
	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode run results: %w", err)
	}
	run.Results = datatypes.JSON(payload)

	if err := s.repo.Create(ctx, &run); err != nil {
		return fmt.Errorf("store grading run: %w", err)
	}

	s.publish(run)
	return nil
}

func (s *gradingHistoryService) publish(run models.GradingRun) {
	if s.publisher == nil || s.subject == "" {
		return
	}
	payload, err := json.Marshal(GradingRunEvent{
		RunID:             run.ID,
		Status:            run.Status,
		PersonaProfile:    run.PersonaProfile,
		ResultCount:       run.ResultCount,
		AverageGrade:      run.AverageGrade,
		AverageSimilarity: run.AverageSimilarity,
		FailureMessage:    run.FailureMessage,
		DurationMs:        run.DurationMs,
		FinishedAt:        run.CreatedAt.Add(time.Duration(run.DurationMs) * time.Millisecond),
	})
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to encode grading event")
		return
	}
	if err := s.publisher.Publish(s.subject, payload); err != nil {
		s.logger.Warn().Err(err).Str("subject", s.subject).Msg("failed to publish grading event")
	}
}

func (s *gradingHistoryService) List(ctx context.Context, limit int) ([]models.GradingRun, error) {
	return s.repo.ListRecent(ctx, limit)
}

func (s *gradingHistoryService) Get(ctx context.Context, id string) (models.GradingRun, error) {
	run, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.GradingRun{}, ErrGradingRunNotFound
		}
		return models.GradingRun{}, err
	}
	return run, nil
}
