package ai

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const itemsSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "text"],
    "properties": {
      "id": {"type": ["string", "number"]},
      "text": {"type": "string"}
    }
  }
}`

const evaluationsSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["id", "grade"],
    "properties": {
      "id": {"type": ["string", "number"]},
      "extracted_answer": {"type": ["string", "null"]},
      "grade": {"type": ["number", "string"]},
      "feedback": {"type": ["string", "null"]}
    }
  }
}`

var (
	itemsSchema       = jsonschema.MustCompileString("items.schema.json", itemsSchemaJSON)
	evaluationsSchema = jsonschema.MustCompileString("evaluations.schema.json", evaluationsSchemaJSON)
)

// StripCodeFences removes a surrounding Markdown code fence from model output.
func StripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// DecodeItems parses extraction output into items.
func DecodeItems(content string) ([]Item, error) {
	raw, err := validatedArray(content, itemsSchema)
	if err != nil {
		return nil, err
	}

	var payload []struct {
		ID   json.RawMessage `json:"id"`
		Text string          `json:"text"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	items := make([]Item, 0, len(payload))
	for _, entry := range payload {
		items = append(items, Item{ID: rawID(entry.ID), Text: strings.TrimSpace(entry.Text)})
	}
	return items, nil
}

// DecodeEvaluations parses grading output. Grades given as numeric strings are
// accepted and every grade is clamped to the 0-10 scale.
func DecodeEvaluations(content string) ([]Evaluation, error) {
	raw, err := validatedArray(content, evaluationsSchema)
	if err != nil {
		return nil, err
	}

	var payload []struct {
		ID              json.RawMessage `json:"id"`
		ExtractedAnswer *string         `json:"extracted_answer"`
		Grade           json.RawMessage `json:"grade"`
		Feedback        *string         `json:"feedback"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}

	evaluations := make([]Evaluation, 0, len(payload))
	for _, entry := range payload {
		grade, err := parseGrade(entry.Grade)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		evaluation := Evaluation{ID: rawID(entry.ID), Grade: grade}
		if entry.ExtractedAnswer != nil {
			evaluation.ExtractedAnswer = *entry.ExtractedAnswer
		}
		if entry.Feedback != nil {
			evaluation.Feedback = *entry.Feedback
		}
		evaluations = append(evaluations, evaluation)
	}
	return evaluations, nil
}

// validatedArray strips fences, unwraps a single-array object and checks the
// array against schema.
func validatedArray(content string, schema *jsonschema.Schema) (json.RawMessage, error) {
	raw, err := unwrapArray([]byte(StripCodeFences(content)))
	if err != nil {
		return nil, err
	}

	var document interface{}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(&document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if err := schema.Validate(document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return raw, nil
}

// arrayKeys are the wrapper fields models use around the expected array,
// in order of preference.
var arrayKeys = []string{"items", "evaluation", "evaluations", "questions", "answers", "results"}

// unwrapArray returns content when it is a JSON array. For an object such as
// {"items": [...]} it returns the first known wrapper field holding an array,
// else the only array valued field. Several unknown array fields are rejected.
func unwrapArray(content []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedOutput)
	}

	switch trimmed[0] {
	case '[':
		return trimmed, nil
	case '{':
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		for _, key := range arrayKeys {
			if value, ok := fields[key]; ok && isJSONArray(value) {
				return bytes.TrimSpace(value), nil
			}
		}
		var found json.RawMessage
		count := 0
		for _, value := range fields {
			if isJSONArray(value) {
				found = bytes.TrimSpace(value)
				count++
			}
		}
		switch count {
		case 0:
			return nil, fmt.Errorf("%w: object without array field", ErrMalformedOutput)
		case 1:
			return found, nil
		default:
			return nil, fmt.Errorf("%w: object with %d array fields", ErrMalformedOutput, count)
		}
	default:
		return nil, fmt.Errorf("%w: expected JSON array", ErrMalformedOutput)
	}
}

func isJSONArray(value json.RawMessage) bool {
	value = bytes.TrimSpace(value)
	return len(value) > 0 && value[0] == '['
}

func rawID(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	return strings.TrimSpace(string(raw))
}

func parseGrade(raw json.RawMessage) (float64, error) {
	var grade float64
	if err := json.Unmarshal(raw, &grade); err != nil {
		var text string
		if err := json.Unmarshal(raw, &text); err != nil {
			return 0, fmt.Errorf("grade %s is not a number", string(raw))
		}
		text = strings.TrimSpace(text)
		if idx := strings.Index(text, "/"); idx >= 0 {
			text = strings.TrimSpace(text[:idx])
		}
		grade, err = strconv.ParseFloat(text, 64)
		if err != nil {
			return 0, fmt.Errorf("grade %q is not a number", text)
		}
	}

	if grade < 0 {
		grade = 0
	}
	if grade > 10 {
		grade = 10
	}
	return grade, nil
}
