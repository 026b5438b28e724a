package handler

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

// GradeHandler exposes the grading backend used by remote dispatchers.
type GradeHandler struct {
	service   service.EvaluationService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewGradeHandler constructs the handler.
func NewGradeHandler(service service.EvaluationService, validator *validator.Validate, logger zerolog.Logger) *GradeHandler {
	return &GradeHandler{
		service:   service,
		validator: validator,
		logger:    logger.With().Str("component", "grade_handler").Logger(),
	}
}

// Register wires the handler endpoints into the router group.
func (h *GradeHandler) Register(router fiber.Router, middlewares ...fiber.Handler) {
	router.Post("", append(middlewares, h.grade)...)
}

func (h *GradeHandler) grade(c *fiber.Ctx) error {
	var payload dto.GradeRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	if strings.TrimSpace(payload.APIKey) == "" {
		return utils.SendError(c, fiber.StatusBadRequest, service.MessageMissingAPIKey)
	}

	if err := h.validator.Struct(payload); err != nil {
		return utils.SendValidationError(c, err)
	}

	payload.QInput.Role = models.RoleQuestion
	payload.MInput.Role = models.RoleModel
	payload.SInput.Role = models.RoleStudent

	response, err := h.service.Grade(c.UserContext(), models.GradingRequest{
		Credential:          strings.TrimSpace(payload.APIKey),
		Question:            payload.QInput,
		Model:               payload.MInput,
		Student:             payload.SInput,
		PersonaInstructions: payload.PersonaInstructions,
	})
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grading complete", response)
}

func (h *GradeHandler) handleError(c *fiber.Ctx, err error) error {
	message := service.GradeErrorMessage(err)
	switch {
	case errors.Is(err, service.ErrMissingCredential),
		errors.Is(err, ai.ErrMissingAPIKey),
		errors.Is(err, ai.ErrInvalidAPIKey),
		errors.Is(err, service.ErrEmptyQuestionBank):
		return utils.SendError(c, fiber.StatusBadRequest, message)
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("grading failed")
		return utils.SendError(c, fiber.StatusInternalServerError, message)
	}
}
