package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

func extractionSystemPrompt(kind ItemKind) string {
	return fmt.Sprintf(`You are an OCR and data extraction tool. Read all text in the provided input.
The input contains %[1]s.
Find every one of the %[1]s, identify its number or ID (for example "Q1", "1)", "Answer 1") and transcribe its full text.
Respond ONLY with a JSON array of objects shaped like {"id": "string", "text": "string"}.`, kind)
}

func extractionUserPrompt(kind ItemKind, input Input) string {
	if input.Mode == ModeImage {
		return fmt.Sprintf("Extract all %s from this image.", kind)
	}
	return fmt.Sprintf("Here is the text:\n\n%s\n\nExtract all %s from this text.", input.Data, kind)
}

func gradingSystemPrompt(persona string) string {
	builder := strings.Builder{}
	builder.WriteString("You are an expert grader.\n---\n")
	builder.WriteString(strings.TrimSpace(persona))
	builder.WriteString("\n---\n")
	builder.WriteString(`You receive a student's answer sheet (text or image) and a JSON list of questions with model answers.
1. Read the student's answer sheet.
2. For each question in the JSON, find the student's corresponding answer.
3. Compare the student's answer with the model_answer.
4. Grade the answer from 0 to 10 following the grading style above.
5. Write feedback following the grading style above.
Respond ONLY with a JSON array of objects shaped like
{"id": "string", "extracted_answer": "string", "grade": number, "feedback": "string"}.`)
	return builder.String()
}

func studentSheetPrompt(student Input) string {
	if student.Mode == ModeImage {
		return "The student's answer sheet is attached as an image."
	}
	return "Here is the student's answer sheet text:\n\n" + student.Data
}

func questionBankPrompt(bank []BankEntry) (string, error) {
	payload, err := json.Marshal(bank)
	if err != nil {
		return "", fmt.Errorf("encode question bank: %w", err)
	}
	return "Grade the student's answers using this question bank: " + string(payload), nil
}
