package ai

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/api/option"
)

const providerGemini = "gemini"

// GeminiConfig defines configuration options for the Gemini model.
type GeminiConfig struct {
	Model       string
	Temperature float32
	Logger      zerolog.Logger
}

// GeminiModel implements Model against the Google Gemini API.
type GeminiModel struct {
	cfg    GeminiConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewGeminiModel builds a Gemini backed model.
func NewGeminiModel(cfg GeminiConfig) *GeminiModel {
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = "gemini-2.5-pro"
	}

	return &GeminiModel{
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/gemini"),
		logger: cfg.Logger.With().Str("component", "gemini_model").Logger(),
	}
}

// Name returns the provider name.
func (g *GeminiModel) Name() string { return providerGemini }

// ExtractItems transcribes numbered questions or answers from input.
func (g *GeminiModel) ExtractItems(ctx context.Context, apiKey string, input Input, kind ItemKind) ([]Item, error) {
	parts := []genai.Part{}
	if input.Mode == ModeImage {
		blob, err := imageParts(input)
		if err != nil {
			return nil, err
		}
		parts = append(parts, blob...)
	}
	parts = append(parts, genai.Text(extractionUserPrompt(kind, input)))

	content, err := g.generate(ctx, apiKey, "extract_"+string(kind), extractionSystemPrompt(kind), parts)
	if err != nil {
		return nil, err
	}
	return DecodeItems(content)
}

// GradeAnswers grades the student's sheet against bank.
func (g *GeminiModel) GradeAnswers(ctx context.Context, apiKey string, student Input, bank []BankEntry, persona string) ([]Evaluation, error) {
	parts := []genai.Part{genai.Text(studentSheetPrompt(student))}
	if student.Mode == ModeImage {
		blob, err := imageParts(student)
		if err != nil {
			return nil, err
		}
		parts = append(parts, blob...)
	}

	bankPrompt, err := questionBankPrompt(bank)
	if err != nil {
		return nil, err
	}
	parts = append(parts, genai.Text(bankPrompt))

	content, err := g.generate(ctx, apiKey, "grade", gradingSystemPrompt(persona), parts)
	if err != nil {
		return nil, err
	}
	return DecodeEvaluations(content)
}

func (g *GeminiModel) generate(parent context.Context, apiKey, operation, system string, parts []genai.Part) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", ErrMissingAPIKey
	}

	ctx, span := g.tracer.Start(parent, "gemini."+operation, trace.WithAttributes(
		attribute.String("model", g.cfg.Model),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		modelDuration.WithLabelValues(providerGemini, operation).Observe(time.Since(start).Seconds())
	}()

	fail := func(err error) (string, error) {
		modelFailures.WithLabelValues(providerGemini, operation).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(strings.TrimSpace(apiKey)))
	if err != nil {
		return fail(classifyGeminiError(err))
	}
	defer client.Close()

	model := client.GenerativeModel(g.cfg.Model)
	temperature := g.cfg.Temperature
	model.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temperature,
		ResponseMIMEType: "application/json",
	}
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		g.logger.Warn().Err(err).Str("operation", operation).Msg("gemini request failed")
		return fail(classifyGeminiError(err))
	}

	text := firstText(resp)
	if text == "" {
		return fail(fmt.Errorf("%w: empty response", ErrMalformedOutput))
	}
	return text, nil
}

func imageParts(input Input) ([]genai.Part, error) {
	data, err := base64.StdEncoding.DecodeString(input.Data)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return []genai.Part{genai.Blob{MIMEType: input.MimeType, Data: data}}, nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		var builder strings.Builder
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				builder.WriteString(string(text))
			}
		}
		if builder.Len() > 0 {
			return builder.String()
		}
	}
	return ""
}

func classifyGeminiError(err error) error {
	message := err.Error()
	if strings.Contains(message, InvalidAPIKeyMarker) || strings.Contains(message, "API key not valid") {
		return fmt.Errorf("%w: %v", ErrInvalidAPIKey, err)
	}
	return fmt.Errorf("gemini: %w", err)
}
