package schema

import (
	"context"
	"encoding/json"

	"flowtrack/internal/apperr"
	"flowtrack/internal/model"
)

var contentSchemas = map[model.ComponentVariant][]byte{
	model.VariantArticle: []byte(`{
		"type": "object",
		"required": ["body"],
		"properties": {
			"body": {"type": "string", "minLength": 1},
			"readingTimeMinutes": {"type": "integer", "minimum": 0}
		}
	}`),
	model.VariantQuiz: []byte(`{
		"type": "object",
		"required": ["questions"],
		"properties": {
			"questions": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["text", "options"],
					"properties": {
						"text": {"type": "string", "minLength": 1},
						"options": {
							"type": "array",
							"minItems": 2,
							"items": {
								"type": "object",
								"required": ["text", "isCorrect"],
								"properties": {
									"text": {"type": "string", "minLength": 1},
									"isCorrect": {"type": "boolean"}
								}
							},
							"contains": {"properties": {"isCorrect": {"const": true}}}
						}
					}
				}
			}
		}
	}`),
	model.VariantTask: []byte(`{
		"type": "object",
		"required": ["instructions"],
		"properties": {
			"instructions": {"type": "string", "minLength": 1},
			"codeWord": {"type": "string"},
			"hint": {"type": "string"}
		}
	}`),
}

var payloadSchemas = map[model.ComponentVariant][]byte{
	model.VariantArticle: []byte(`{"type": "object"}`),
	model.VariantQuiz: []byte(`{
		"type": "object",
		"properties": {
			"answers": {"type": "array", "items": {"type": "integer", "minimum": 0}}
		}
	}`),
	model.VariantTask: []byte(`{
		"type": "object",
		"properties": {
			"codeWord": {"type": "string"}
		}
	}`),
}

// Validator checks component content and learner payloads per variant
type Validator struct {
	compiler *Compiler
}

func NewValidator(compiler *Compiler) *Validator {
	return &Validator{compiler: compiler}
}

// ValidateContent checks serialized variant content before it is frozen into a snapshot.
func (v *Validator) ValidateContent(ctx context.Context, variant model.ComponentVariant, raw json.RawMessage) error {
	schema, ok := contentSchemas[variant]
	if !ok {
		return apperr.InvalidArgument("unknown component variant %q", variant)
	}
	if err := v.compiler.Validate(ctx, schema, raw); err != nil {
		return apperr.Wrap(apperr.KindInvalidArgument, err, "invalid %s content", variant)
	}
	return nil
}

// ValidatePayload checks an opaque progress payload. An empty payload is accepted.
func (v *Validator) ValidatePayload(ctx context.Context, variant model.ComponentVariant, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	schema, ok := payloadSchemas[variant]
	if !ok {
		return apperr.InvalidArgument("unknown component variant %q", variant)
	}
	if err := v.compiler.Validate(ctx, schema, raw); err != nil {
		return apperr.Wrap(apperr.KindInvalidArgument, err, "malformed %s payload", variant)
	}
	return nil
}
