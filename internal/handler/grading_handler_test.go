package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/models"
	"github.com/noah-isme/gema-grader/internal/service"
)

func newGradingApp(t *testing.T, dispatcher service.Dispatcher, maxSizeMB int) *fiber.App {
	t.Helper()
	personas, err := service.NewPersonaCatalog(nil)
	require.NoError(t, err)

	svc := service.NewGradingService(
		service.NewInputCollector(maxSizeMB, testLogger()),
		personas,
		dispatcher,
		nil,
		service.GradingServiceConfig{Timeout: 5 * time.Second},
		testLogger(),
	)
	h := handler.NewGradingHandler(service.NewGradingGate(svc), personas, testLogger())

	app := fiber.New()
	h.Register(app.Group("/api/v1/gradings"))
	h.RegisterPersonas(app.Group("/api/v1/personas"))
	return app
}

func textFields(credential string) map[string]string {
	return map[string]string{
		"credential":    credential,
		"persona":       "strict",
		"question_mode": "text",
		"question_text": "Q1 What is the powerhouse of the cell?\nQ2 Define osmosis.",
		"model_mode":    "text",
		"model_text":    "1) The mitochondria produces energy\n2) Water moves across a semipermeable membrane",
		"student_mode":  "image",
	}
}

func studentSheet() formFile {
	return formFile{field: "student_file", filename: "student.png", content: pngHeader}
}

func postGrading(t *testing.T, app *fiber.App, fields map[string]string, files ...formFile) *http.Response {
	t.Helper()
	body, contentType := multipartBody(t, fields, files...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gradings", body)
	req.Header.Set("Content-Type", contentType)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestGradingHandlerRun(t *testing.T) {
	dispatcher := &dispatcherStub{response: cellBiologyResponse()}
	app := newGradingApp(t, dispatcher, 1)

	resp := postGrading(t, app, textFields("key-123"), studentSheet())
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	payload := decodeResponse(t, resp)
	require.True(t, payload.Success)

	var run dto.GradingRunResponse
	require.NoError(t, json.Unmarshal(payload.Data, &run))
	require.NotEmpty(t, run.RunID)
	require.Equal(t, "Strict", run.PersonaLabel)
	require.Len(t, run.Results, 2)

	first := run.Results[0]
	require.Equal(t, "Q1", first.ID)
	require.Equal(t, 9.0, first.Grade)
	require.InDelta(t, 1.0, first.SimilarityScore, 1e-9)
	require.Contains(t, first.FeedbackHTML, "Correct.<br>")
	require.NotContains(t, first.FeedbackHTML, "<script>")

	request := dispatcher.lastRequest()
	require.Equal(t, "key-123", request.Credential)
	require.Equal(t, models.InputModeText, request.Question.Mode)
	require.Equal(t, models.InputModeImage, request.Student.Mode)
	require.Equal(t, "image/png", request.Student.MimeType)
}

func TestGradingHandlerReadsCredentialHeader(t *testing.T) {
	dispatcher := &dispatcherStub{response: cellBiologyResponse()}
	app := newGradingApp(t, dispatcher, 1)

	fields := textFields("")
	body, contentType := multipartBody(t, fields, studentSheet())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gradings", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-API-Key", "header-key")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	require.Equal(t, "header-key", dispatcher.lastRequest().Credential)
}

func TestGradingHandlerClientErrors(t *testing.T) {
	app := newGradingApp(t, &dispatcherStub{response: cellBiologyResponse()}, 1)

	t.Run("missing credential", func(t *testing.T) {
		resp := postGrading(t, app, textFields(""), studentSheet())
		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		require.Equal(t, service.ErrMissingCredential.Error(), decodeResponse(t, resp).Message)
	})

	t.Run("missing student sheet", func(t *testing.T) {
		resp := postGrading(t, app, textFields("key-123"))
		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "please upload an image for S", decodeResponse(t, resp).Message)
	})

	t.Run("invalid mode", func(t *testing.T) {
		fields := textFields("key-123")
		fields["model_mode"] = "audio"
		resp := postGrading(t, app, fields, studentSheet())
		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("empty custom persona", func(t *testing.T) {
		fields := textFields("key-123")
		fields["persona"] = "custom"
		fields["custom_persona"] = "  \n\t "
		resp := postGrading(t, app, fields, studentSheet())
		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unsupported media", func(t *testing.T) {
		resp := postGrading(t, app, textFields("key-123"), formFile{field: "student_file", filename: "notes.txt", content: []byte("plain text answers")})
		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	})

	t.Run("file too large", func(t *testing.T) {
		large := append(append([]byte{}, pngHeader...), bytes.Repeat([]byte{0}, 1024*1024)...)
		resp := postGrading(t, app, textFields("key-123"), formFile{field: "student_file", filename: "student.png", content: large})
		require.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
	})
}

func TestGradingHandlerRemoteErrors(t *testing.T) {
	t.Run("invalid credential", func(t *testing.T) {
		app := newGradingApp(t, &dispatcherStub{err: &service.RemoteGradingError{Message: "API_KEY_INVALID"}}, 1)
		resp := postGrading(t, app, textFields("bad-key"), studentSheet())
		require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("malformed model output", func(t *testing.T) {
		app := newGradingApp(t, &dispatcherStub{err: &service.RemoteGradingError{Message: service.MessageMalformedOutput}}, 1)
		resp := postGrading(t, app, textFields("key-123"), studentSheet())
		require.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
		require.Equal(t, service.MessageMalformedOutput, decodeResponse(t, resp).Message)
	})
}

func TestGradingHandlerRejectsConcurrentRunForSameCredential(t *testing.T) {
	dispatcher := &dispatcherStub{
		response: cellBiologyResponse(),
		entered:  make(chan struct{}, 1),
		release:  make(chan struct{}),
	}
	app := newGradingApp(t, dispatcher, 1)

	body, contentType := multipartBody(t, textFields("key-123"), studentSheet())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/gradings", body)
	req.Header.Set("Content-Type", contentType)

	done := make(chan int, 1)
	go func() {
		resp, err := app.Test(req, -1)
		if err != nil {
			done <- 0
			return
		}
		done <- resp.StatusCode
	}()

	select {
	case <-dispatcher.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("first grading never reached the dispatcher")
	}

	resp := postGrading(t, app, textFields("key-123"), studentSheet())
	require.Equal(t, fiber.StatusConflict, resp.StatusCode)

	close(dispatcher.release)
	require.Equal(t, fiber.StatusOK, <-done)
}

func TestPersonaListing(t *testing.T) {
	app := newGradingApp(t, &dispatcherStub{}, 1)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/personas", nil), -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var personas []dto.PersonaResponse
	require.NoError(t, json.Unmarshal(decodeResponse(t, resp).Data, &personas))
	require.Equal(t, []dto.PersonaResponse{
		{Profile: "balanced", Label: "Balanced"},
		{Profile: "insightful", Label: "Insightful"},
		{Profile: "strict", Label: "Strict"},
		{Profile: "custom", Label: "Custom Persona"},
	}, personas)
}
