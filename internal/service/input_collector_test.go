package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-grader/internal/models"
)

func TestInputCollectorText(t *testing.T) {
	collector := NewInputCollector(1, testLogger())

	slot, err := collector.Collect(context.Background(), SlotRequest{Role: models.RoleQuestion, Mode: models.InputModeText, Text: "  Q1 What is osmosis?\n"})
	require.NoError(t, err)
	require.Equal(t, models.InputSlot{Role: models.RoleQuestion, Mode: models.InputModeText, Data: "Q1 What is osmosis?"}, slot)

	_, err = collector.Collect(context.Background(), SlotRequest{Role: models.RoleModel, Mode: models.InputModeText, Text: " \t\n"})
	var missing *MissingInputError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, models.RoleModel, missing.Role)
	require.Equal(t, models.InputModeText, missing.Mode)
	require.Equal(t, "please enter text for M", err.Error())
}

func TestInputCollectorImageMissing(t *testing.T) {
	collector := NewInputCollector(1, testLogger())

	_, err := collector.Collect(context.Background(), SlotRequest{Role: models.RoleStudent, Mode: models.InputModeImage, Text: "ignored"})
	var missing *MissingInputError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, "please upload an image for S", err.Error())
}

func TestInputCollectorImageDetectsMime(t *testing.T) {
	collector := NewInputCollector(1, testLogger())
	file := multipartFile(t, "sheet.png", "application/octet-stream", pngHeader)

	slot, err := collector.Collect(context.Background(), SlotRequest{Role: models.RoleQuestion, Mode: models.InputModeImage, File: file})
	require.NoError(t, err)
	require.Equal(t, models.InputModeImage, slot.Mode)
	require.Equal(t, "image/png", slot.MimeType)
	require.Equal(t, base64.StdEncoding.EncodeToString(pngHeader), slot.Data)
}

func TestInputCollectorImageDeclaredMime(t *testing.T) {
	collector := NewInputCollector(1, testLogger())
	file := multipartFile(t, "sheet.jpg", "image/jpeg; charset=binary", []byte("jpeg-bytes"))

	slot, err := collector.Collect(context.Background(), SlotRequest{Role: models.RoleModel, Mode: models.InputModeImage, File: file})
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", slot.MimeType)
}

func TestInputCollectorRejectsUnsupportedAndLargeFiles(t *testing.T) {
	collector := NewInputCollector(1, testLogger())

	text := multipartFile(t, "notes.txt", "", []byte("plain text answers"))
	_, err := collector.Collect(context.Background(), SlotRequest{Role: models.RoleStudent, Mode: models.InputModeImage, File: text})
	require.ErrorIs(t, err, ErrUnsupportedMedia)
	require.Equal(t, "S: file type not allowed", err.Error())

	large := multipartFile(t, "huge.png", "image/png", bytes.Repeat([]byte("a"), 2*1024*1024))
	_, err = collector.Collect(context.Background(), SlotRequest{Role: models.RoleStudent, Mode: models.InputModeImage, File: large})
	require.ErrorIs(t, err, ErrInputTooLarge)
	require.True(t, strings.HasPrefix(err.Error(), "S: "))
}

func TestInputCollectorCollectAllNamesRejectedSheets(t *testing.T) {
	collector := NewInputCollector(1, testLogger())

	_, _, _, err := collector.CollectAll(context.Background(),
		SlotRequest{Role: models.RoleQuestion, Mode: models.InputModeImage, File: multipartFile(t, "q.png", "image/png", bytes.Repeat([]byte("a"), 2*1024*1024))},
		SlotRequest{Role: models.RoleModel, Mode: models.InputModeText, Text: "1) Mitochondria"},
		SlotRequest{Role: models.RoleStudent, Mode: models.InputModeImage, File: multipartFile(t, "s.txt", "", []byte("plain text answers"))},
	)
	require.ErrorIs(t, err, ErrInputTooLarge)
	require.ErrorIs(t, err, ErrUnsupportedMedia)

	lines := strings.Split(err.Error(), "\n")
	require.Len(t, lines, 2)
	require.True(t, strings.HasPrefix(lines[0], "Q: "))
	require.Equal(t, "S: file type not allowed", lines[1])
}

func TestInputCollectorPathFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "answers.png")
	require.NoError(t, os.WriteFile(path, pngHeader, 0o600))

	collector := NewInputCollector(1, testLogger())
	slot, err := collector.Collect(context.Background(), SlotRequest{Role: models.RoleStudent, Mode: models.InputModeImage, File: PathFile{Path: path}})
	require.NoError(t, err)
	require.Equal(t, "image/png", slot.MimeType)
	require.Equal(t, "answers.png", PathFile{Path: path}.Name())
}

func TestInputCollectorCollectAllReportsEveryFailure(t *testing.T) {
	collector := NewInputCollector(1, testLogger())

	_, _, _, err := collector.CollectAll(context.Background(),
		SlotRequest{Role: models.RoleQuestion, Mode: models.InputModeText},
		SlotRequest{Role: models.RoleModel, Mode: models.InputModeText, Text: "1) Mitochondria"},
		SlotRequest{Role: models.RoleStudent, Mode: models.InputModeImage},
	)
	require.Error(t, err)

	var first *MissingInputError
	require.True(t, errors.As(err, &first))
	require.Equal(t, models.RoleQuestion, first.Role)
	require.Contains(t, err.Error(), "please enter text for Q")
	require.Contains(t, err.Error(), "please upload an image for S")
	require.NotContains(t, err.Error(), "for M")
}

func TestInputCollectorCollectAll(t *testing.T) {
	collector := NewInputCollector(1, testLogger())

	question, model, student, err := collector.CollectAll(context.Background(),
		SlotRequest{Role: models.RoleQuestion, Mode: models.InputModeText, Text: "Q1 Powerhouse of the cell?"},
		SlotRequest{Role: models.RoleModel, Mode: models.InputModeText, Text: "1) Mitochondria"},
		SlotRequest{Role: models.RoleStudent, Mode: models.InputModeImage, File: multipartFile(t, "s.png", "image/png", pngHeader)},
	)
	require.NoError(t, err)
	require.Equal(t, models.RoleQuestion, question.Role)
	require.Equal(t, "1) Mitochondria", model.Data)
	require.Equal(t, models.InputModeImage, student.Mode)
}
