package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// GradingHandler runs orchestrated gradings from multipart submissions.
type GradingHandler struct {
	gate     *service.GradingGate
	personas *service.PersonaCatalog
	policy   *bluemonday.Policy
	logger   zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(gate *service.GradingGate, personas *service.PersonaCatalog, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		gate:     gate,
		personas: personas,
		policy:   bluemonday.UGCPolicy(),
		logger:   logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register wires the grading run endpoint behind the given middlewares.
func (h *GradingHandler) Register(router fiber.Router, middlewares ...fiber.Handler) {
	router.Post("", append(middlewares, h.run)...)
}

// RegisterPersonas wires the persona listing endpoint.
func (h *GradingHandler) RegisterPersonas(router fiber.Router) {
	router.Get("", h.listPersonas)
}

func (h *GradingHandler) run(c *fiber.Ctx) error {
	credential := strings.TrimSpace(c.FormValue("credential"))
	if credential == "" {
		credential = strings.TrimSpace(c.Get("X-API-Key"))
	}

	cmd := service.GradingCommand{
		Credential: credential,
		Persona: service.PersonaChoice{
			Profile:    c.FormValue("persona"),
			CustomText: c.FormValue("custom_persona"),
		},
	}

	slots := make(map[models.Role]service.SlotRequest, len(models.Roles))
	for _, role := range models.Roles {
		slot, err := slotFromForm(c, role)
		if err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, err.Error())
		}
		slots[role] = slot
	}
	cmd.Question = slots[models.RoleQuestion]
	cmd.Model = slots[models.RoleModel]
	cmd.Student = slots[models.RoleStudent]

	outcome, err := h.gate.Run(c.UserContext(), service.CredentialFingerprint(credential), cmd)
	if err != nil {
		return h.handleError(c, err)
	}

	return utils.SendSuccess(c, "grading complete", h.buildResponse(outcome))
}

func slotFromForm(c *fiber.Ctx, role models.Role) (service.SlotRequest, error) {
	slot := service.SlotRequest{Role: role, Mode: models.InputModeImage}

	if raw := strings.TrimSpace(c.FormValue(string(role) + "_mode")); raw != "" {
		mode, ok := models.ParseInputMode(raw)
		if !ok {
			return service.SlotRequest{}, fmt.Errorf("invalid %s_mode %q", role, raw)
		}
		slot.Mode = mode
	}

	slot.Text = c.FormValue(string(role) + "_text")
	if header, err := c.FormFile(string(role) + "_file"); err == nil && header != nil {
		slot.File = service.MultipartFile{Header: header}
	}
	return slot, nil
}

func (h *GradingHandler) buildResponse(outcome service.GradingOutcome) dto.GradingRunResponse {
	results := make([]dto.GradingResultResponse, 0, len(outcome.Results))
	for _, result := range outcome.Results {
		results = append(results, dto.GradingResultResponse{
			ID:              result.Entry.ID,
			Question:        result.Entry.Question,
			Grade:           result.Evaluation.Grade,
			Feedback:        result.Evaluation.Feedback,
			FeedbackHTML:    h.policy.Sanitize(strings.ReplaceAll(result.Evaluation.Feedback, "\n", "<br>")),
			ExtractedAnswer: result.Evaluation.ExtractedAnswer,
			ModelAnswer:     result.Entry.ModelAnswer,
			SimilarityScore: result.SimilarityScore,
		})
	}
	return dto.GradingRunResponse{
		RunID:        outcome.RunID,
		PersonaLabel: outcome.PersonaLabel,
		Results:      results,
	}
}

func (h *GradingHandler) listPersonas(c *fiber.Ctx) error {
	profiles := h.personas.Profiles()
	response := make([]dto.PersonaResponse, 0, len(profiles))
	for _, profile := range profiles {
		label := service.CustomPersonaLabel
		if profile != service.PersonaCustom {
			directive, err := h.personas.Resolve(service.PersonaChoice{Profile: profile})
			if err != nil {
				continue
			}
			label = directive.Label
		}
		response = append(response, dto.PersonaResponse{Profile: profile, Label: label})
	}
	return utils.SendSuccess(c, "personas retrieved", response)
}

func (h *GradingHandler) handleError(c *fiber.Ctx, err error) error {
	var missingInput *service.MissingInputError
	var remote *service.RemoteGradingError

	switch {
	case errors.Is(err, service.ErrInputTooLarge):
		return utils.SendError(c, fiber.StatusRequestEntityTooLarge, firstLine(err))
	case errors.Is(err, service.ErrMissingCredential),
		errors.As(err, &missingInput),
		errors.Is(err, service.ErrMissingPersona),
		errors.Is(err, service.ErrUnknownPersona),
		errors.Is(err, service.ErrUnsupportedMedia):
		return utils.SendError(c, fiber.StatusBadRequest, firstLine(err))
	case errors.Is(err, service.ErrInvalidCredential):
		return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrGradingInProgress):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.As(err, &remote):
		requestLogger(h.logger, c).Warn().Str("remote_message", remote.Message).Msg("grading capability failed")
		return utils.SendError(c, fiber.StatusBadGateway, remote.Message)
	case errors.Is(err, context.Canceled):
		return utils.SendError(c, fiber.StatusRequestTimeout, "grading request cancelled")
	default:
		requestLogger(h.logger, c).Error().Err(err).Msg("grading run failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "grading failed")
	}
}

// Joined collection errors are reported one per line; clients get the first.
func firstLine(err error) string {
	message := err.Error()
	if idx := strings.IndexByte(message, '\n'); idx >= 0 {
		return message[:idx]
	}
	return message
}
