package store

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// templateSchema validates template documents before they are decoded into
// models. It mirrors the struct validation rules so external callers get
// field-level messages for malformed JSON instead of a decode error.
var templateSchema = map[string]any{
	"type":     "object",
	"required": []any{"id", "name", "tasks"},
	"properties": map[string]any{
		"id":          map[string]any{"type": "string", "minLength": 1},
		"name":        map[string]any{"type": "string", "minLength": 3},
		"description": map[string]any{"type": "string"},
		"variables":   map[string]any{"type": "object"},
		"tasks": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]any{"$ref": "#/definitions/task"},
		},
	},
	"definitions": map[string]any{
		"task": map[string]any{
			"type":     "object",
			"required": []any{"id", "type"},
			"properties": map[string]any{
				"id":   map[string]any{"type": "string", "minLength": 1},
				"name": map[string]any{"type": "string"},
				"type": map[string]any{
					"type": "string",
					"enum": []any{"agent", "ai_completion", "custom", "decision"},
				},
				"input":  map[string]any{},
				"output": map[string]any{"type": "string"},
				"depends_on": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
				"config":    map[string]any{"type": "object"},
				"condition": map[string]any{"type": "string"},
				"true_branch": map[string]any{
					"type":  "array",
					"items": map[string]any{"$ref": "#/definitions/task"},
				},
				"false_branch": map[string]any{
					"type":  "array",
					"items": map[string]any{"$ref": "#/definitions/task"},
				},
				"max_retries":    map[string]any{"type": "integer", "minimum": 0},
				"retry_delay_ms": map[string]any{"type": "integer", "minimum": 0},
				"parallel":       map[string]any{"type": "boolean"},
			},
		},
	},
}

// ValidateTemplateJSON checks a raw template document against the template
// schema. A nil return means the document is structurally valid; decoding and
// graph validation still happen at registration.
func ValidateTemplateJSON(raw []byte) error {
	var document any
	if err := json.Unmarshal(raw, &document); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	schemaLoader := gojsonschema.NewGoLoader(templateSchema)
	documentLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTemplate, err)
	}

	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidTemplate, strings.Join(descriptions, "; "))
	}

	return nil
}
