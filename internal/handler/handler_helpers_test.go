package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/models"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func decodeResponse(t *testing.T, resp *http.Response) envelope {
	t.Helper()
	defer resp.Body.Close()
	var payload envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload
}

type formFile struct {
	field    string
	filename string
	content  []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...formFile) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for key, value := range fields {
		require.NoError(t, writer.WriteField(key, value))
	}
	for _, file := range files {
		part, err := writer.CreateFormFile(file.field, file.filename)
		require.NoError(t, err)
		_, err = part.Write(file.content)
		require.NoError(t, err)
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

// dispatcherStub answers every dispatch with response or err. When release is
// set, Dispatch signals entered and waits for release or cancellation.
type dispatcherStub struct {
	response models.GradingResponse
	err      error
	entered  chan struct{}
	release  chan struct{}

	mu       sync.Mutex
	requests []models.GradingRequest
}

func (d *dispatcherStub) Dispatch(ctx context.Context, req models.GradingRequest) (models.GradingResponse, error) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	if d.release != nil {
		d.entered <- struct{}{}
		select {
		case <-d.release:
		case <-ctx.Done():
			return models.GradingResponse{}, ctx.Err()
		}
	}
	if d.err != nil {
		return models.GradingResponse{}, d.err
	}
	return d.response, nil
}

func (d *dispatcherStub) lastRequest() models.GradingRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.requests[len(d.requests)-1]
}

func cellBiologyResponse() models.GradingResponse {
	return models.GradingResponse{
		QuestionBank: []models.QuestionBankEntry{
			{ID: "Q1", Question: "What is the powerhouse of the cell?", ModelAnswer: "The mitochondria produces energy"},
			{ID: "Q2", Question: "Define osmosis.", ModelAnswer: "Water moves across a semipermeable membrane"},
		},
		Evaluation: []models.Evaluation{
			{ID: "1", Grade: 9, ExtractedAnswer: "mitochondria produces energy", Feedback: "Correct.\nMention ATP <script>x</script>"},
			{ID: "2", Grade: 4, ExtractedAnswer: "water moves", Feedback: "Incomplete."},
		},
	}
}
