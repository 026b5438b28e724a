package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const providerOpenAI = "openai"

// OpenAIConfig defines configuration options for the OpenAI model.
type OpenAIConfig struct {
	Model       string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	Logger      zerolog.Logger
}

// OpenAIModel implements Model against the OpenAI chat completion API.
type OpenAIModel struct {
	cfg    OpenAIConfig
	tracer trace.Tracer
	logger zerolog.Logger
}

// NewOpenAIModel builds a new model using the provided configuration.
func NewOpenAIModel(cfg OpenAIConfig) *OpenAIModel {
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}

	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 4096
	}

	logger := cfg.Logger
	if logger.GetLevel() == zerolog.Disabled {
		logger = zerolog.Nop()
	}

	return &OpenAIModel{
		cfg:    cfg,
		tracer: otel.Tracer("github.com/noah-isme/gema-grader/pkg/ai/openai"),
		logger: logger.With().Str("component", "openai_model").Logger(),
	}
}

// Name returns the provider name.
func (e *OpenAIModel) Name() string { return providerOpenAI }

// ExtractItems transcribes numbered questions or answers from input.
func (e *OpenAIModel) ExtractItems(ctx context.Context, apiKey string, input Input, kind ItemKind) ([]Item, error) {
	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}
	if input.Mode == ModeImage {
		user.MultiContent = []openai.ChatMessagePart{
			imagePart(input),
			{Type: openai.ChatMessagePartTypeText, Text: extractionUserPrompt(kind, input)},
		}
	} else {
		user.Content = extractionUserPrompt(kind, input)
	}

	content, err := e.complete(ctx, apiKey, "extract_"+string(kind), extractionSystemPrompt(kind), user)
	if err != nil {
		return nil, err
	}
	return DecodeItems(content)
}

// GradeAnswers grades the student's sheet against bank.
func (e *OpenAIModel) GradeAnswers(ctx context.Context, apiKey string, student Input, bank []BankEntry, persona string) ([]Evaluation, error) {
	bankPrompt, err := questionBankPrompt(bank)
	if err != nil {
		return nil, err
	}

	parts := []openai.ChatMessagePart{{Type: openai.ChatMessagePartTypeText, Text: studentSheetPrompt(student)}}
	if student.Mode == ModeImage {
		parts = append(parts, imagePart(student))
	}
	parts = append(parts, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: bankPrompt})

	user := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, MultiContent: parts}
	content, err := e.complete(ctx, apiKey, "grade", gradingSystemPrompt(persona), user)
	if err != nil {
		return nil, err
	}
	return DecodeEvaluations(content)
}

func (e *OpenAIModel) complete(parent context.Context, apiKey, operation, system string, user openai.ChatCompletionMessage) (string, error) {
	if strings.TrimSpace(apiKey) == "" {
		return "", ErrMissingAPIKey
	}

	ctx, span := e.tracer.Start(parent, "openai."+operation, trace.WithAttributes(
		attribute.String("model", e.cfg.Model),
	))
	defer span.End()

	config := openai.DefaultConfig(strings.TrimSpace(apiKey))
	if e.cfg.BaseURL != "" {
		config.BaseURL = e.cfg.BaseURL
	}
	client := openai.NewClientWithConfig(config)

	start := time.Now()
	request := openai.ChatCompletionRequest{
		Model:       e.cfg.Model,
		MaxTokens:   e.cfg.MaxTokens,
		Temperature: e.cfg.Temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: system,
			},
			user,
		},
	}

	resp, err := client.CreateChatCompletion(ctx, request)
	modelDuration.WithLabelValues(providerOpenAI, operation).Observe(time.Since(start).Seconds())
	if err != nil {
		err = classifyOpenAIError(err)
		modelFailures.WithLabelValues(providerOpenAI, operation).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Warn().Err(err).Str("operation", operation).Msg("openai request failed")
		return "", err
	}

	if len(resp.Choices) == 0 {
		err := fmt.Errorf("%w: no choices returned from openai", ErrMalformedOutput)
		modelFailures.WithLabelValues(providerOpenAI, operation).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.Int("usage.total_tokens", resp.Usage.TotalTokens))
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func imagePart(input Input) openai.ChatMessagePart {
	return openai.ChatMessagePart{
		Type: openai.ChatMessagePartTypeImageURL,
		ImageURL: &openai.ChatMessageImageURL{
			URL:    "data:" + input.MimeType + ";base64," + input.Data,
			Detail: openai.ImageURLDetailHigh,
		},
	}
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		code, _ := apiErr.Code.(string)
		if apiErr.HTTPStatusCode == http.StatusUnauthorized || code == "invalid_api_key" {
			return fmt.Errorf("%w: %v", ErrInvalidAPIKey, err)
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", ErrInvalidAPIKey, err)
	}
	return fmt.Errorf("openai: %w", err)
}
