package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/observability"
)

// FileSource is an uploaded or local file backing an image slot.
type FileSource interface {
	Name() string
	ContentType() string
	Open() (io.ReadCloser, error)
}

// SlotRequest describes how one role's input should be collected.
type SlotRequest struct {
	Role models.Role
	Mode models.InputMode
	Text string
	File FileSource
}

// InputCollector turns slot requests into validated InputSlots.
type InputCollector interface {
	Collect(ctx context.Context, req SlotRequest) (models.InputSlot, error)
	CollectAll(ctx context.Context, question, model, student SlotRequest) (models.InputSlot, models.InputSlot, models.InputSlot, error)
}

type inputCollector struct {
	maxSize int64
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// NewInputCollector constructs a collector rejecting files above maxSizeMB.
func NewInputCollector(maxSizeMB int, logger zerolog.Logger) InputCollector {
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	return &inputCollector{
		maxSize: int64(maxSizeMB) * 1024 * 1024,
		logger:  logger.With().Str("component", "input_collector").Logger(),
		tracer:  otel.Tracer("github.com/noah-isme/gema-grader/internal/service/input"),
	}
}

func (c *inputCollector) Collect(ctx context.Context, req SlotRequest) (models.InputSlot, error) {
	_, span := c.tracer.Start(ctx, "input.collect")
	defer span.End()

	span.SetAttributes(
		attribute.String("input.role", string(req.Role)),
		attribute.String("input.mode", string(req.Mode)),
	)

	var (
		slot models.InputSlot
		err  error
	)
	switch req.Mode {
	case models.InputModeText:
		slot, err = c.collectText(req)
	case models.InputModeImage:
		slot, err = c.collectImage(req)
	default:
		err = &MissingInputError{Role: req.Role, Mode: models.InputModeImage}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "collection failed")
		return models.InputSlot{}, err
	}

	span.SetStatus(codes.Ok, "collected")
	return slot, nil
}

func (c *inputCollector) collectText(req SlotRequest) (models.InputSlot, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		observability.InputRejected().WithLabelValues("missing").Inc()
		return models.InputSlot{}, &MissingInputError{Role: req.Role, Mode: models.InputModeText}
	}
	return models.InputSlot{Role: req.Role, Mode: models.InputModeText, Data: text}, nil
}

func (c *inputCollector) collectImage(req SlotRequest) (models.InputSlot, error) {
	if req.File == nil {
		observability.InputRejected().WithLabelValues("missing").Inc()
		return models.InputSlot{}, &MissingInputError{Role: req.Role, Mode: models.InputModeImage}
	}

	handle, err := req.File.Open()
	if err != nil {
		return models.InputSlot{}, err
	}
	defer handle.Close()

	buf := bytes.NewBuffer(nil)
	if _, err := io.Copy(buf, io.LimitReader(handle, c.maxSize+1)); err != nil {
		return models.InputSlot{}, err
	}
	if int64(buf.Len()) > c.maxSize {
		observability.InputRejected().WithLabelValues("size").Inc()
		return models.InputSlot{}, fmt.Errorf("%s: %w", req.Role.Code(), ErrInputTooLarge)
	}
	if buf.Len() == 0 {
		observability.InputRejected().WithLabelValues("missing").Inc()
		return models.InputSlot{}, &MissingInputError{Role: req.Role, Mode: models.InputModeImage}
	}

	mimeType := normalizeMime(req.File.ContentType())
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = normalizeMime(mimetype.Detect(buf.Bytes()).String())
	}
	if !isAllowedMime(mimeType) {
		observability.InputRejected().WithLabelValues("type").Inc()
		c.logger.Debug().Str("role", string(req.Role)).Str("mime", mimeType).Msg("rejected input file")
		return models.InputSlot{}, fmt.Errorf("%s: %w", req.Role.Code(), ErrUnsupportedMedia)
	}

	return models.InputSlot{
		Role:     req.Role,
		Mode:     models.InputModeImage,
		Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType: mimeType,
	}, nil
}

// CollectAll collects the three inputs concurrently. Every failure is
// reported, joined in role order.
func (c *inputCollector) CollectAll(ctx context.Context, question, model, student SlotRequest) (models.InputSlot, models.InputSlot, models.InputSlot, error) {
	requests := []SlotRequest{question, model, student}
	slots := make([]models.InputSlot, len(requests))
	errs := make([]error, len(requests))

	var wg sync.WaitGroup
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			slots[i], errs[i] = c.Collect(ctx, requests[i])
		}(i)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return models.InputSlot{}, models.InputSlot{}, models.InputSlot{}, err
	}
	return slots[0], slots[1], slots[2], nil
}

func normalizeMime(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if idx := strings.Index(value, ";"); idx >= 0 {
		value = strings.TrimSpace(value[:idx])
	}
	return value
}

func isAllowedMime(mime string) bool {
	return strings.HasPrefix(mime, "image/") || mime == "application/pdf"
}

// MultipartFile adapts an uploaded form file to FileSource.
type MultipartFile struct {
	Header *multipart.FileHeader
}

func (f MultipartFile) Name() string { return f.Header.Filename }

func (f MultipartFile) ContentType() string { return f.Header.Header.Get("Content-Type") }

func (f MultipartFile) Open() (io.ReadCloser, error) { return f.Header.Open() }

// PathFile adapts a local file to FileSource. The content type is left to
// detection.
type PathFile struct {
	Path string
}

func (f PathFile) Name() string { return filepath.Base(f.Path) }

func (f PathFile) ContentType() string { return "" }

func (f PathFile) Open() (io.ReadCloser, error) { return os.Open(f.Path) }
