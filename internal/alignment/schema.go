package alignment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var payloadSchema = []byte(`{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["characters", "character_start_times_seconds", "character_end_times_seconds"],
  "properties": {
    "characters": {
      "oneOf": [
        {"type": "string"},
        {"type": "array", "items": {"type": "string"}}
      ]
    },
    "character_start_times_seconds": {"type": "array", "items": {"type": "number", "minimum": 0}},
    "character_end_times_seconds": {"type": "array", "items": {"type": "number", "minimum": 0}}
  }
}`)

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("alignment.json", bytes.NewReader(payloadSchema)); err != nil {
			schemaErr = fmt.Errorf("failed to load alignment schema: %w", err)
			return
		}
		compiledSchema, schemaErr = compiler.Compile("alignment.json")
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile alignment schema: %w", schemaErr)
		}
	})
	return compiledSchema, schemaErr
}

// Decode parses a wire payload, checking it against the alignment schema
// and the equal-length rule.
func Decode(data []byte) (*Payload, error) {
	s, err := schema()
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := s.Validate(doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
