package streams

import "fmt"

const (
	// EventRunRequested asks a worker to execute one pipeline run.
	EventRunRequested = "run.requested"
	// EventRunCompleted is published once a queued run has been stored.
	EventRunCompleted = "run.completed"
)

// Definition is one schema managed by the registry.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var baseDefinitions = []Definition{
	{
		EventType: EventRunRequested,
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["run_id", "request"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "submitted_by": {"type": "string"},
    "request": {
      "type": "object",
      "required": ["question"],
      "properties": {
        "question": {"type": "string", "minLength": 1},
        "goal": {"type": "string"},
        "output_mode": {"type": "string", "enum": ["", "executive", "analyst"]},
        "email_signer": {"type": "string"}
      }
    }
  },
  "additionalProperties": true
}`),
	},
	{
		EventType: EventRunCompleted,
		Version:   "v1",
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["run_id", "status"],
  "properties": {
    "run_id": {"type": "string", "minLength": 1},
    "status": {"type": "string", "enum": ["succeeded", "rejected"]},
    "errors": {"type": "integer", "minimum": 0},
    "num_sources": {"type": "integer", "minimum": 0},
    "duration_ms": {"type": "integer", "minimum": 0},
    "error": {"type": "string"}
  },
  "additionalProperties": true
}`),
	},
}

// BaseDefinitions returns a copy of the built-in schemas.
func BaseDefinitions() []Definition {
	out := make([]Definition, len(baseDefinitions))
	copy(out, baseDefinitions)
	return out
}

// RegisterBaseSchemas adds the built-in schemas to reg.
func RegisterBaseSchemas(reg *SchemaRegistry) error {
	for _, def := range baseDefinitions {
		if err := reg.Register(def.EventType, def.Version, def.Schema); err != nil {
			return fmt.Errorf("register %s %s: %w", def.EventType, def.Version, err)
		}
	}
	return nil
}

// NewDefaultRegistry returns a registry holding the built-in schemas.
func NewDefaultRegistry() (*SchemaRegistry, error) {
	reg := NewSchemaRegistry()
	if err := RegisterBaseSchemas(reg); err != nil {
		return nil, err
	}
	return reg, nil
}
