package handler_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/repository"
	"github.com/noah-isme/gema-grader/internal/service"
)

func setupHistory(t *testing.T) (*fiber.App, service.GradingHistoryService) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.GradingRun{}))

	history := service.NewGradingHistoryService(repository.NewGradingRunRepository(db), nil, "", testLogger())
	app := fiber.New()
	handler.NewGradingHistoryHandler(history, testLogger()).Register(app.Group("/api/v1/gradings"))
	return app, history
}

func TestGradingHistoryListAndGet(t *testing.T) {
	app, history := setupHistory(t)

	started := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, history.Record(context.Background(), service.RunRecord{
		RunID:   "3f9e1c0a-0a44-4c7e-9a52-1d2b7b7b1a01",
		Persona: models.PersonaDirective{Profile: service.PersonaBalanced, Label: "Balanced"},
		Results: []models.ScoredResult{
			{Evaluation: models.Evaluation{ID: "1", Grade: 7}, Entry: models.QuestionBankEntry{ID: "Q1"}, SimilarityScore: 0.6},
		},
		StartedAt: started,
		Duration:  2 * time.Second,
	}))
	require.NoError(t, history.Record(context.Background(), service.RunRecord{
		RunID:     "3f9e1c0a-0a44-4c7e-9a52-1d2b7b7b1a02",
		Persona:   models.PersonaDirective{Profile: service.PersonaStrict, Label: "Strict"},
		Err:       &service.RemoteGradingError{Message: service.MessageMalformedOutput},
		StartedAt: started.Add(30 * time.Second),
		Duration:  time.Second,
	}))

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/gradings?limit=10", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var runs []dto.GradingHistoryResponse
	require.NoError(t, json.Unmarshal(decodeResponse(t, resp).Data, &runs))
	require.Len(t, runs, 2)
	require.Equal(t, "3f9e1c0a-0a44-4c7e-9a52-1d2b7b7b1a02", runs[0].ID)
	require.Equal(t, models.GradingRunStatusFailed, runs[0].Status)
	require.Equal(t, service.MessageMalformedOutput, runs[0].FailureMessage)
	require.Empty(t, runs[1].Results)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/gradings/3f9e1c0a-0a44-4c7e-9a52-1d2b7b7b1a01", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var run dto.GradingHistoryResponse
	require.NoError(t, json.Unmarshal(decodeResponse(t, resp).Data, &run))
	require.Equal(t, 1, run.ResultCount)
	require.InDelta(t, 7.0, run.AverageGrade, 1e-9)

	var results []models.ScoredResult
	require.NoError(t, json.Unmarshal(run.Results, &results))
	require.Equal(t, "Q1", results[0].Entry.ID)
}

func TestGradingHistoryErrors(t *testing.T) {
	app, _ := setupHistory(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/gradings/missing", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/gradings?limit=-1", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
