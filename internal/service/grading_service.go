package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

const defaultGradingTimeout = 3 * time.Minute

// ProgressFunc receives every state a run enters.
type ProgressFunc func(state GradingState)

// GradingCommand is one request to grade a student sheet.
type GradingCommand struct {
	Credential string
	Persona    PersonaChoice
	Question   SlotRequest
	Model      SlotRequest
	Student    SlotRequest
	Progress   ProgressFunc
}

// GradingOutcome is the result of a successful run.
type GradingOutcome struct {
	RunID        string
	Persona      models.PersonaDirective
	PersonaLabel string
	Results      []models.ScoredResult
}

// RunRecord describes a finished run, successful or not.
type RunRecord struct {
	RunID     string
	Persona   models.PersonaDirective
	Results   []models.ScoredResult
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// RunRecorder stores finished runs.
type RunRecorder interface {
	Record(ctx context.Context, record RunRecord) error
}

// GradingServiceConfig tunes the orchestrator.
type GradingServiceConfig struct {
	Timeout       time.Duration
	MatchEmptyIDs bool
}

// GradingService runs the grading pipeline: credential check, input
// collection, dispatch and reconciliation.
type GradingService interface {
	Run(ctx context.Context, cmd GradingCommand) (GradingOutcome, error)
}

type gradingService struct {
	collector  InputCollector
	personas   *PersonaCatalog
	dispatcher Dispatcher
	recorder   RunRecorder
	reconciler Reconciler
	timeout    time.Duration
	logger     zerolog.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// NewGradingService wires the orchestrator. recorder may be nil.
func NewGradingService(collector InputCollector, personas *PersonaCatalog, dispatcher Dispatcher, recorder RunRecorder, cfg GradingServiceConfig, logger zerolog.Logger) GradingService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultGradingTimeout
	}
	return &gradingService{
		collector:  collector,
		personas:   personas,
		dispatcher: dispatcher,
		recorder:   recorder,
		reconciler: Reconciler{MatchEmptyIDs: cfg.MatchEmptyIDs},
		timeout:    cfg.Timeout,
		logger:     logger.With().Str("component", "grading_service").Logger(),
		tracer:     otel.Tracer("github.com/noah-isme/gema-grader/internal/service/grading"),
		now:        time.Now,
	}
}

func (s *gradingService) Run(ctx context.Context, cmd GradingCommand) (GradingOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "grading.run")
	defer span.End()

	runID := uuid.NewString()
	started := s.now()
	logger := s.logger.With().Str("run_id", runID).Logger()
	span.SetAttributes(attribute.String("grading.run_id", runID))

	machine := newGradingStateMachine(func(from, to GradingState) {
		logger.Debug().Str("from", string(from)).Str("to", string(to)).Msg("grading state changed")
		if cmd.Progress != nil {
			cmd.Progress(to)
		}
	})

	outcome, persona, err := s.run(ctx, machine, cmd)
	duration := s.now().Sub(started)
	outcome.RunID = runID

	observability.GradingDuration().Observe(duration.Seconds())
	if err != nil {
		machine.fail()
		observability.GradingRuns().WithLabelValues(outcomeLabel(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading failed")
		logger.Warn().Err(err).Dur("duration", duration).Msg("grading run failed")
	} else {
		observability.GradingRuns().WithLabelValues("done").Inc()
		span.SetAttributes(attribute.Int("grading.results", len(outcome.Results)))
		span.SetStatus(codes.Ok, "graded")
		logger.Info().Int("results", len(outcome.Results)).Dur("duration", duration).Msg("grading run completed")
	}

	s.record(ctx, logger, RunRecord{
		RunID:     runID,
		Persona:   persona,
		Results:   outcome.Results,
		Err:       err,
		StartedAt: started,
		Duration:  duration,
	})

	if err != nil {
		return GradingOutcome{}, err
	}
	return outcome, nil
}

func (s *gradingService) run(ctx context.Context, machine *gradingStateMachine, cmd GradingCommand) (GradingOutcome, models.PersonaDirective, error) {
	if err := machine.transition(StateValidatingCredential); err != nil {
		return GradingOutcome{}, models.PersonaDirective{}, err
	}
	credential := strings.TrimSpace(cmd.Credential)
	if credential == "" {
		return GradingOutcome{}, models.PersonaDirective{}, ErrMissingCredential
	}

	if err := machine.transition(StateCollectingInputs); err != nil {
		return GradingOutcome{}, models.PersonaDirective{}, err
	}
	cmd.Question.Role, cmd.Model.Role, cmd.Student.Role = models.RoleQuestion, models.RoleModel, models.RoleStudent
	question, model, student, err := s.collector.CollectAll(ctx, cmd.Question, cmd.Model, cmd.Student)
	if err != nil {
		return GradingOutcome{}, models.PersonaDirective{}, err
	}

	if err := machine.transition(StateDispatching); err != nil {
		return GradingOutcome{}, models.PersonaDirective{}, err
	}
	persona, err := s.personas.Resolve(cmd.Persona)
	if err != nil {
		return GradingOutcome{}, models.PersonaDirective{}, err
	}
	request := models.GradingRequest{
		Credential:          credential,
		Question:            question,
		Model:               model,
		Student:             student,
		PersonaInstructions: persona.Instructions,
	}

	if err := machine.transition(StateAwaitingResponse); err != nil {
		return GradingOutcome{}, persona, err
	}
	response, err := s.dispatch(ctx, request)
	if err != nil {
		return GradingOutcome{}, persona, err
	}

	if err := machine.transition(StateReconciling); err != nil {
		return GradingOutcome{}, persona, err
	}
	results := s.reconciler.Reconcile(response)
	for _, result := range results {
		observability.SimilarityScores().Observe(result.SimilarityScore)
	}

	if err := machine.transition(StateDone); err != nil {
		return GradingOutcome{}, persona, err
	}
	return GradingOutcome{Persona: persona, PersonaLabel: persona.Label, Results: results}, persona, nil
}

func (s *gradingService) dispatch(ctx context.Context, request models.GradingRequest) (models.GradingResponse, error) {
	dispatchCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	response, err := s.dispatcher.Dispatch(dispatchCtx, request)
	if err == nil {
		return response, nil
	}

	if ctx.Err() != nil {
		return models.GradingResponse{}, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) || dispatchCtx.Err() != nil {
		return models.GradingResponse{}, &RemoteGradingError{Message: "grading request timed out"}
	}

	if errors.Is(err, ai.ErrInvalidAPIKey) || errors.Is(err, ErrInvalidCredential) {
		return models.GradingResponse{}, ErrInvalidCredential
	}

	var remote *RemoteGradingError
	if errors.As(err, &remote) {
		if strings.Contains(remote.Message, ai.InvalidAPIKeyMarker) {
			return models.GradingResponse{}, ErrInvalidCredential
		}
		return models.GradingResponse{}, remote
	}
	return models.GradingResponse{}, &RemoteGradingError{Message: err.Error()}
}

func (s *gradingService) record(ctx context.Context, logger zerolog.Logger, record RunRecord) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(context.WithoutCancel(ctx), record); err != nil {
		logger.Warn().Err(err).Msg("failed to record grading run")
	}
}

func outcomeLabel(err error) string {
	var missingInput *MissingInputError
	var remote *RemoteGradingError
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing_credential"
	case errors.As(err, &missingInput):
		return "missing_input"
	case errors.Is(err, ErrMissingPersona), errors.Is(err, ErrUnknownPersona):
		return "invalid_persona"
	case errors.Is(err, ErrInvalidCredential):
		return "invalid_credential"
	case errors.As(err, &remote):
		return "remote_error"
	default:
		return "error"
	}
}
