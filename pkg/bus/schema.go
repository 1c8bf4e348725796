package bus

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Payload schemas for the inbound message contract. Unknown message types
// pass through unvalidated; the stage gate rejects anything that does not
// resolve to a record.
var payloadSchemas = map[string]string{
	MsgNewEmailRequest: `{
		"type": "object",
		"properties": {
			"loan_application_id": {"type": "string"},
			"email_body": {"type": "string"},
			"from_address": {"type": "string", "minLength": 3}
		},
		"required": ["email_body", "from_address"]
	}`,
	MsgExceptionOccurred: `{
		"type": "object",
		"properties": {
			"exception_type": {"type": "string", "minLength": 1},
			"priority": {"type": "string", "enum": ["LOW", "MEDIUM", "HIGH"]},
			"loan_application_id": {"type": "string"},
			"exception_data": {"type": "object"}
		},
		"required": ["exception_type", "loan_application_id"]
	}`,
}

// Validator validates message payloads against their per-type JSON Schema.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles the built-in payload schemas.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*jsonschema.Schema, len(payloadSchemas))}
	for msgType, raw := range payloadSchemas {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		url := fmt.Sprintf("https://ratelock.schemas.local/%s.schema.json", msgType)
		if err := c.AddResource(url, strings.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("load schema %s: %w", msgType, err)
		}
		compiled, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", msgType, err)
		}
		v.schemas[msgType] = compiled
	}
	return v, nil
}

// ValidatePayload checks the payload against the schema for msgType, if one
// is registered.
func (v *Validator) ValidatePayload(msgType string, payload map[string]any) error {
	schema, ok := v.schemas[msgType]
	if !ok {
		return nil
	}
	// jsonschema validates generic any values; map[string]any is accepted
	// directly after a round-trip normalization of nested types.
	if err := schema.Validate(normalize(payload)); err != nil {
		return fmt.Errorf("payload for %s: %w", msgType, err)
	}
	return nil
}

func normalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	default:
		return v
	}
}
