package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

// Messages returned to grading clients. They are part of the wire contract.
const (
	MessageMissingAPIKey   = "No API key provided."
	MessageEmptyBank       = "Could not build question bank. Check inputs."
	MessageMalformedOutput = "The model returned an invalid format. Please try again."
	MessageUnknownFailure  = "An unknown error occurred on the server."
)

// EvaluationService grades a student sheet using a language model.
type EvaluationService interface {
	Grade(ctx context.Context, req models.GradingRequest) (models.GradingResponse, error)
}

type evaluationService struct {
	model    ai.Model
	cache    *redis.Client
	cacheTTL time.Duration
	logger   zerolog.Logger
	tracer   trace.Tracer
}

// NewEvaluationService builds the grading backend. cache may be nil.
func NewEvaluationService(model ai.Model, cache *redis.Client, cacheTTL time.Duration, logger zerolog.Logger) EvaluationService {
	return &evaluationService{
		model:    model,
		cache:    cache,
		cacheTTL: cacheTTL,
		logger:   logger.With().Str("component", "evaluation_service").Logger(),
		tracer:   otel.Tracer("github.com/noah-isme/gema-grader/internal/service/evaluation"),
	}
}

func (s *evaluationService) Grade(ctx context.Context, req models.GradingRequest) (models.GradingResponse, error) {
	ctx, span := s.tracer.Start(ctx, "evaluation.grade")
	defer span.End()
	span.SetAttributes(attribute.String("ai.provider", s.model.Name()))

	apiKey := strings.TrimSpace(req.Credential)
	if apiKey == "" {
		span.SetStatus(codes.Error, "missing api key")
		return models.GradingResponse{}, ErrMissingCredential
	}

	var questions, answers []ai.Item
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		items, err := s.extract(groupCtx, apiKey, req.Question, ai.KindQuestions)
		questions = items
		return err
	})
	group.Go(func() error {
		items, err := s.extract(groupCtx, apiKey, req.Model, ai.KindAnswers)
		answers = items
		return err
	})
	if err := group.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "extraction failed")
		return models.GradingResponse{}, err
	}

	bank := MergeQuestionBank(questions, answers)
	span.SetAttributes(
		attribute.Int("evaluation.questions", len(questions)),
		attribute.Int("evaluation.answers", len(answers)),
		attribute.Int("evaluation.bank_size", len(bank)),
	)
	if len(bank) == 0 {
		span.SetStatus(codes.Error, "empty question bank")
		return models.GradingResponse{}, ErrEmptyQuestionBank
	}

	aiBank := make([]ai.BankEntry, len(bank))
	for i, entry := range bank {
		aiBank[i] = ai.BankEntry{ID: entry.ID, Question: entry.Question, ModelAnswer: entry.ModelAnswer}
	}

	verdicts, err := s.model.GradeAnswers(ctx, apiKey, toAIInput(req.Student), aiBank, req.PersonaInstructions)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading failed")
		return models.GradingResponse{}, err
	}

	evaluations := make([]models.Evaluation, len(verdicts))
	for i, verdict := range verdicts {
		evaluations[i] = models.Evaluation{
			ID:              verdict.ID,
			Grade:           verdict.Grade,
			ExtractedAnswer: verdict.ExtractedAnswer,
			Feedback:        verdict.Feedback,
		}
	}

	s.logger.Info().
		Int("questions", len(bank)).
		Int("evaluations", len(evaluations)).
		Msg("student sheet graded")
	span.SetStatus(codes.Ok, "graded")

	return models.GradingResponse{Evaluation: evaluations, QuestionBank: bank}, nil
}

func (s *evaluationService) extract(ctx context.Context, apiKey string, slot models.InputSlot, kind ai.ItemKind) ([]ai.Item, error) {
	input := toAIInput(slot)
	cacheKey := extractionCacheKey(s.model.Name(), kind, input)

	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			var items []ai.Item
			if unmarshalErr := json.Unmarshal([]byte(cached), &items); unmarshalErr == nil {
				observability.ExtractionCache().WithLabelValues("hit").Inc()
				s.logger.Debug().Str("kind", string(kind)).Msg("extraction cache hit")
				return items, nil
			}
		} else if !errors.Is(err, redis.Nil) {
			s.logger.Warn().Err(err).Msg("failed to read extraction cache")
		}
		observability.ExtractionCache().WithLabelValues("miss").Inc()
	}

	items, err := s.model.ExtractItems(ctx, apiKey, input, kind)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", kind, err)
	}

	if s.cache != nil {
		payload, err := json.Marshal(items)
		if err == nil {
			if err := s.cache.Set(ctx, cacheKey, payload, s.cacheTTL).Err(); err != nil {
				s.logger.Warn().Err(err).Msg("failed to store extraction cache")
			}
		}
	}

	return items, nil
}

// MergeQuestionBank pairs each question with the first answer sharing its
// normalized ID. Questions without an answer are left out.
func MergeQuestionBank(questions, answers []ai.Item) []models.QuestionBankEntry {
	bank := make([]models.QuestionBankEntry, 0, len(questions))
	for _, question := range questions {
		key := NormalizeID(question.ID)
		for _, answer := range answers {
			if NormalizeID(answer.ID) == key {
				bank = append(bank, models.QuestionBankEntry{
					ID:          question.ID,
					Question:    question.Text,
					ModelAnswer: answer.Text,
				})
				break
			}
		}
	}
	return bank
}

// GradeErrorMessage maps a backend failure onto the message sent to clients.
func GradeErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrMissingCredential), errors.Is(err, ai.ErrMissingAPIKey):
		return MessageMissingAPIKey
	case errors.Is(err, ai.ErrInvalidAPIKey):
		return ai.InvalidAPIKeyMarker
	case errors.Is(err, ErrEmptyQuestionBank):
		return MessageEmptyBank
	case errors.Is(err, ai.ErrMalformedOutput):
		return MessageMalformedOutput
	default:
		if msg := strings.TrimSpace(err.Error()); msg != "" {
			return msg
		}
		return MessageUnknownFailure
	}
}

func toAIInput(slot models.InputSlot) ai.Input {
	mode := ai.ModeText
	if slot.Mode == models.InputModeImage {
		mode = ai.ModeImage
	}
	return ai.Input{Mode: mode, Data: slot.Data, MimeType: slot.MimeType}
}

func extractionCacheKey(provider string, kind ai.ItemKind, input ai.Input) string {
	hash := sha256.New()
	for _, part := range []string{string(kind), string(input.Mode), input.MimeType, input.Data} {
		hash.Write([]byte(part))
		hash.Write([]byte{0})
	}
	return fmt.Sprintf("grading:extract:%s:%s", provider, hex.EncodeToString(hash.Sum(nil)))
}
