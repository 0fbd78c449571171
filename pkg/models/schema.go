package models

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// workflowDefinitionSchema validates workflow definitions supplied as raw
// JSON, e.g. through the import API. Structural validation happens here;
// semantic checks (ordinal ordering, duplicate ids) happen on the model.
var workflowDefinitionSchema = map[string]any{
	"type":     "object",
	"required": []any{"name", "stages"},
	"properties": map[string]any{
		"name":        map[string]any{"type": "string", "minLength": 3},
		"description": map[string]any{"type": "string"},
		"stages": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []any{"name", "ordinal"},
				"properties": map[string]any{
					"name":       map[string]any{"type": "string"},
					"ordinal":    map[string]any{"type": "integer", "minimum": 1},
					"allow_back": map[string]any{"type": "boolean"},
					"features": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string", "enum": []any{"approval_levels", "formviews"}},
					},
					"levels": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type":     "object",
							"required": []any{"name", "ordinal"},
							"properties": map[string]any{
								"name":    map[string]any{"type": "string"},
								"ordinal": map[string]any{"type": "integer", "minimum": 1},
								"active":  map[string]any{"type": "boolean"},
								"approvers": map[string]any{
									"type": "array",
									"items": map[string]any{
										"type":     "object",
										"required": []any{"type", "identifier"},
										"properties": map[string]any{
											"type":       map[string]any{"type": "string", "enum": []any{"user", "relationship", "relationship_group"}},
											"identifier": map[string]any{"type": "string"},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	},
}

// notificationRuleSchema validates notification rule definitions on import.
var notificationRuleSchema = map[string]any{
	"type":     "object",
	"required": []any{"name", "event_type", "recipient", "subject", "body", "channels"},
	"properties": map[string]any{
		"name":       map[string]any{"type": "string", "minLength": 3},
		"event_type": map[string]any{"type": "string"},
		"recipient":  map[string]any{"type": "string"},
		"subject":    map[string]any{"type": "string"},
		"body":       map[string]any{"type": "string"},
		"channels":   map[string]any{"type": "array", "minItems": 1, "items": map[string]any{"type": "string"}},
		"enabled":    map[string]any{"type": "boolean"},
		"schedule": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"on_event":       map[string]any{"type": "boolean"},
				"offset_seconds": map[string]any{"type": "integer", "minimum": 0},
			},
		},
	},
}

// ValidateWorkflowDefinition checks a decoded workflow definition against the
// workflow JSON schema.
func ValidateWorkflowDefinition(definition map[string]any) error {
	return validateAgainstSchema(workflowDefinitionSchema, definition)
}

// ValidateNotificationRuleDefinition checks a decoded rule definition
// against the notification rule JSON schema.
func ValidateNotificationRuleDefinition(definition map[string]any) error {
	return validateAgainstSchema(notificationRuleSchema, definition)
}

func validateAgainstSchema(schema, data map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	dataLoader := gojsonschema.NewGoLoader(data)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var errors []string
		for _, resultError := range result.Errors() {
			errors = append(errors, resultError.String())
		}

		return fmt.Errorf("JSON schema validation failed: %s", strings.Join(errors, "; "))
	}

	return nil
}
