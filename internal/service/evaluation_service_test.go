package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

type modelStub struct {
	mu          sync.Mutex
	extractions map[ai.ItemKind]int
	questions   []ai.Item
	answers     []ai.Item
	evaluations []ai.Evaluation
	extractErr  error
	gradeErr    error
	bank        []ai.BankEntry
	persona     string
	apiKeys     []string
}

func (m *modelStub) Name() string { return "stub" }

func (m *modelStub) ExtractItems(ctx context.Context, apiKey string, input ai.Input, kind ai.ItemKind) ([]ai.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.extractions == nil {
		m.extractions = map[ai.ItemKind]int{}
	}
	m.extractions[kind]++
	m.apiKeys = append(m.apiKeys, apiKey)
	if m.extractErr != nil {
		return nil, m.extractErr
	}
	if kind == ai.KindQuestions {
		return m.questions, nil
	}
	return m.answers, nil
}

func (m *modelStub) GradeAnswers(ctx context.Context, apiKey string, student ai.Input, bank []ai.BankEntry, persona string) ([]ai.Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bank = bank
	m.persona = persona
	if m.gradeErr != nil {
		return nil, m.gradeErr
	}
	return m.evaluations, nil
}

func (m *modelStub) extractionCount(kind ai.ItemKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.extractions[kind]
}

func cellBiologyModel() *modelStub {
	return &modelStub{
		questions: []ai.Item{
			{ID: "Q1", Text: "What is the powerhouse of the cell?"},
			{ID: "Q2", Text: "Define osmosis."},
			{ID: "Q3", Text: "Name a noble gas."},
		},
		answers: []ai.Item{
			{ID: "Answer 2", Text: "Water moves across a membrane"},
			{ID: "1)", Text: "The mitochondria produces energy"},
		},
		evaluations: []ai.Evaluation{
			{ID: "1", ExtractedAnswer: "mitochondria produces energy", Grade: 9, Feedback: "Correct."},
			{ID: "2", ExtractedAnswer: "water moves", Grade: 5, Feedback: "Incomplete."},
		},
	}
}

func cellBiologyRequest() models.GradingRequest {
	return models.GradingRequest{
		Credential:          "key-123",
		Question:            models.InputSlot{Role: models.RoleQuestion, Mode: models.InputModeText, Data: "Q1 ... Q2 ... Q3 ..."},
		Model:               models.InputSlot{Role: models.RoleModel, Mode: models.InputModeImage, Data: "aGVsbG8=", MimeType: "image/png"},
		Student:             models.InputSlot{Role: models.RoleStudent, Mode: models.InputModeText, Data: "1) mitochondria 2) water moves"},
		PersonaInstructions: "Be fair.",
	}
}

func TestEvaluationServiceGrade(t *testing.T) {
	model := cellBiologyModel()
	svc := NewEvaluationService(model, nil, time.Minute, testLogger())

	response, err := svc.Grade(context.Background(), cellBiologyRequest())
	require.NoError(t, err)

	require.Equal(t, []models.QuestionBankEntry{
		{ID: "Q1", Question: "What is the powerhouse of the cell?", ModelAnswer: "The mitochondria produces energy"},
		{ID: "Q2", Question: "Define osmosis.", ModelAnswer: "Water moves across a membrane"},
	}, response.QuestionBank)
	require.Len(t, response.Evaluation, 2)
	require.Equal(t, 9.0, response.Evaluation[0].Grade)
	require.Equal(t, "Be fair.", model.persona)
	require.Len(t, model.bank, 2)
	require.Equal(t, []string{"key-123", "key-123"}, model.apiKeys)
}

func TestEvaluationServiceRequiresCredential(t *testing.T) {
	model := cellBiologyModel()
	svc := NewEvaluationService(model, nil, time.Minute, testLogger())

	req := cellBiologyRequest()
	req.Credential = "  "
	_, err := svc.Grade(context.Background(), req)
	require.ErrorIs(t, err, ErrMissingCredential)
	require.Zero(t, model.extractionCount(ai.KindQuestions))
	require.Equal(t, MessageMissingAPIKey, GradeErrorMessage(err))
}

func TestEvaluationServiceEmptyBank(t *testing.T) {
	model := cellBiologyModel()
	model.answers = []ai.Item{{ID: "A", Text: "no digits"}}
	svc := NewEvaluationService(model, nil, time.Minute, testLogger())

	_, err := svc.Grade(context.Background(), cellBiologyRequest())
	require.ErrorIs(t, err, ErrEmptyQuestionBank)
	require.Equal(t, MessageEmptyBank, GradeErrorMessage(err))
}

func TestEvaluationServicePropagatesModelErrors(t *testing.T) {
	model := cellBiologyModel()
	model.extractErr = ai.ErrInvalidAPIKey
	svc := NewEvaluationService(model, nil, time.Minute, testLogger())

	_, err := svc.Grade(context.Background(), cellBiologyRequest())
	require.ErrorIs(t, err, ai.ErrInvalidAPIKey)
	require.Equal(t, ai.InvalidAPIKeyMarker, GradeErrorMessage(err))

	model = cellBiologyModel()
	model.gradeErr = fmt.Errorf("decode: %w", ai.ErrMalformedOutput)
	svc = NewEvaluationService(model, nil, time.Minute, testLogger())
	_, err = svc.Grade(context.Background(), cellBiologyRequest())
	require.ErrorIs(t, err, ai.ErrMalformedOutput)
	require.Equal(t, MessageMalformedOutput, GradeErrorMessage(err))
}

func TestEvaluationServiceCachesExtractions(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	defer mini.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr()})
	model := cellBiologyModel()
	svc := NewEvaluationService(model, redisClient, time.Minute, testLogger())

	_, err = svc.Grade(context.Background(), cellBiologyRequest())
	require.NoError(t, err)
	second, err := svc.Grade(context.Background(), cellBiologyRequest())
	require.NoError(t, err)

	require.Equal(t, 1, model.extractionCount(ai.KindQuestions))
	require.Equal(t, 1, model.extractionCount(ai.KindAnswers))
	require.Len(t, second.QuestionBank, 2)
	require.Len(t, mini.Keys(), 2)

	mini.FastForward(2 * time.Minute)
	_, err = svc.Grade(context.Background(), cellBiologyRequest())
	require.NoError(t, err)
	require.Equal(t, 2, model.extractionCount(ai.KindQuestions))
}

func TestEvaluationServiceIgnoresCacheFailures(t *testing.T) {
	mini, err := miniredis.Run()
	require.NoError(t, err)
	redisClient := redis.NewClient(&redis.Options{Addr: mini.Addr(), MaxRetries: -1})
	mini.Close()

	svc := NewEvaluationService(cellBiologyModel(), redisClient, time.Minute, testLogger())
	response, err := svc.Grade(context.Background(), cellBiologyRequest())
	require.NoError(t, err)
	require.Len(t, response.Evaluation, 2)
}

func TestMergeQuestionBankKeepsQuestionOrderAndFirstAnswer(t *testing.T) {
	bank := MergeQuestionBank(
		[]ai.Item{{ID: "2", Text: "second"}, {ID: "Q1", Text: "first"}},
		[]ai.Item{{ID: "1", Text: "a"}, {ID: "Answer 1", Text: "b"}, {ID: "2", Text: "c"}},
	)
	require.Equal(t, []models.QuestionBankEntry{
		{ID: "2", Question: "second", ModelAnswer: "c"},
		{ID: "Q1", Question: "first", ModelAnswer: "a"},
	}, bank)
}

func TestGradeErrorMessageFallsBackToErrorText(t *testing.T) {
	require.Equal(t, "quota exceeded", GradeErrorMessage(errors.New("quota exceeded")))
	require.Equal(t, MessageUnknownFailure, GradeErrorMessage(errors.New(" ")))
}
