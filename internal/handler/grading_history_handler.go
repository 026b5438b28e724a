package handler

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// GradingHistoryHandler serves stored grading runs.
type GradingHistoryHandler struct {
	service service.GradingHistoryService
	logger  zerolog.Logger
}

// NewGradingHistoryHandler constructs the handler.
func NewGradingHistoryHandler(service service.GradingHistoryService, logger zerolog.Logger) *GradingHistoryHandler {
	return &GradingHistoryHandler{
		service: service,
		logger:  logger.With().Str("component", "grading_history_handler").Logger(),
	}
}

// Register wires the history endpoints behind the given middlewares.
func (h *GradingHistoryHandler) Register(router fiber.Router, middlewares ...fiber.Handler) {
	router.Get("", append(middlewares, h.list)...)
	router.Get("/:id", append(middlewares, h.get)...)
}

func (h *GradingHistoryHandler) list(c *fiber.Ctx) error {
	limit, err := queryLimit(c, 20)
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	runs, err := h.service.List(c.UserContext(), limit)
	if err != nil {
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to list grading runs")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to list grading runs")
	}

	response := make([]dto.GradingHistoryResponse, 0, len(runs))
	for _, run := range runs {
		response = append(response, historyResponse(run, false))
	}
	return utils.SendSuccess(c, "grading runs retrieved", response)
}

func (h *GradingHistoryHandler) get(c *fiber.Ctx) error {
	run, err := h.service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		if errors.Is(err, service.ErrGradingRunNotFound) {
			return utils.SendError(c, fiber.StatusNotFound, err.Error())
		}
		requestLogger(h.logger, c).Error().Err(err).Msg("failed to load grading run")
		return utils.SendError(c, fiber.StatusInternalServerError, "failed to load grading run")
	}
	return utils.SendSuccess(c, "grading run retrieved", historyResponse(run, true))
}

func historyResponse(run models.GradingRun, withResults bool) dto.GradingHistoryResponse {
	response := dto.GradingHistoryResponse{
		ID:                run.ID,
		PersonaProfile:    run.PersonaProfile,
		PersonaLabel:      run.PersonaLabel,
		Status:            run.Status,
		FailureMessage:    run.FailureMessage,
		ResultCount:       run.ResultCount,
		AverageGrade:      run.AverageGrade,
		AverageSimilarity: run.AverageSimilarity,
		DurationMs:        run.DurationMs,
		CreatedAt:         run.CreatedAt,
	}
	if withResults && len(run.Results) > 0 {
		response.Results = json.RawMessage(run.Results)
	}
	return response
}
