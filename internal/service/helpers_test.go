package service

import (
	"bytes"
	"context"
	"mime/multipart"
	"net/textproto"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/models"
)

var pngHeader = []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A, 0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

func multipartFile(t *testing.T, filename, contentType string, content []byte) MultipartFile {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreatePart(textproto.MIMEHeader{
		"Content-Disposition": {"form-data; name=\"file\"; filename=\"" + filename + "\""},
		"Content-Type":        {contentType},
	})
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	reader := multipart.NewReader(body, writer.Boundary())
	form, err := reader.ReadForm(int64(len(content) + 1024))
	require.NoError(t, err)
	t.Cleanup(func() { _ = form.RemoveAll() })
	files := form.File["file"]
	require.Len(t, files, 1)
	return MultipartFile{Header: files[0]}
}

func textSlot(text string) SlotRequest {
	return SlotRequest{Mode: models.InputModeText, Text: text}
}

type dispatcherStub struct {
	mu       sync.Mutex
	calls    int
	requests []models.GradingRequest
	response models.GradingResponse
	err      error
	block    bool
}

func (d *dispatcherStub) Dispatch(ctx context.Context, req models.GradingRequest) (models.GradingResponse, error) {
	d.mu.Lock()
	d.calls++
	d.requests = append(d.requests, req)
	d.mu.Unlock()

	if d.block {
		<-ctx.Done()
		return models.GradingResponse{}, ctx.Err()
	}
	return d.response, d.err
}

func (d *dispatcherStub) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

type recorderStub struct {
	mu      sync.Mutex
	records []RunRecord
	err     error
}

func (r *recorderStub) Record(ctx context.Context, record RunRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
	return r.err
}

func newTestCatalog(t *testing.T) *PersonaCatalog {
	t.Helper()
	catalog, err := NewPersonaCatalog(nil)
	require.NoError(t, err)
	return catalog
}
