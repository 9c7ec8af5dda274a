package ir

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// irSchema is the closed wire schema for inbound IR documents. Unknown
// fields at the document or step level are a hard rejection.
const irSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": false,
  "required": ["tenant_id", "steps"],
  "properties": {
    "tenant_id": {"type": "string", "minLength": 1},
    "intent_summary": {"type": "string"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["action", "provider", "resource", "idempotency_key"],
        "properties": {
          "action": {"type": "string", "minLength": 1},
          "provider": {"type": "string", "minLength": 1},
          "resource": {"type": "string"},
          "params": {"type": "object"},
          "idempotency_key": {"type": "string"},
          "constraints": {
            "type": "object",
            "additionalProperties": {"type": "string"}
          }
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("ir.schema.json", irSchema)

// Parse decodes and validates an IR document from JSON.
//
// Three gates run in order: the JSON Schema (closed object shapes), a strict
// decode into the typed model (belt and braces against unknown fields), and
// the structural checks of Validate (blank or duplicate idempotency keys).
// Any failure means the document never reaches hashing.
func Parse(data []byte) (*IR, error) {
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("ir: malformed JSON: %w", err)
	}
	if err := compiledSchema.Validate(generic); err != nil {
		return nil, fmt.Errorf("ir: schema violation: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var doc IR
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("ir: strict decode failed: %w", err)
	}

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}
