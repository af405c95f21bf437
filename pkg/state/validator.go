package state

import (
	"encoding/json"
	"fmt"
)

// ValidationResult reports schema conformance of a state.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// Validator checks states against a schema.
type Validator struct {
	schema *Schema
}

func NewValidator(schema *Schema) *Validator {
	if schema == nil {
		schema = DefaultSchema()
	}
	return &Validator{schema: schema}
}

func (v *Validator) Schema() *Schema {
	return v.schema
}

// Validate checks required fields, value types and size caps. Undeclared
// fields produce warnings, not errors.
func (v *Validator) Validate(s State) ValidationResult {
	result := ValidationResult{Valid: true}

	for _, name := range v.schema.FieldNames() {
		spec := v.schema.Fields[name]
		val, present := s[name]

		if !present || val == nil {
			if spec.Required {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf("Missing required field %s", name))
			}
			continue
		}

		if !typeMatches(spec.Type, val) {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("Invalid type for %s: expected %s, got %T", name, spec.Type, val))
			continue
		}

		if spec.MaxBytes > 0 {
			size := serializedSize(val)
			if size > spec.MaxBytes {
				result.Valid = false
				result.Errors = append(result.Errors, fmt.Sprintf("%s exceeds max size %d (got %d)", name, spec.MaxBytes, size))
			}
		}
	}

	for name := range s {
		if _, declared := v.schema.Fields[name]; !declared {
			result.Warnings = append(result.Warnings, fmt.Sprintf("undeclared field %s", name))
		}
	}

	return result
}

func typeMatches(t FieldType, v any) bool {
	switch t {
	case TypeString:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeNumber:
		switch v.(type) {
		case float64, float32, int, int32, int64, json.Number:
			return true
		}
		return false
	case TypeInteger:
		switch n := v.(type) {
		case int, int32, int64:
			return true
		case float64:
			return n == float64(int64(n))
		case json.Number:
			_, err := n.Int64()
			return err == nil
		}
		return false
	case TypeObject:
		// A referenceable object may be compressed to a "ref:" string.
		if s, ok := v.(string); ok {
			return IsReference(s)
		}
		_, ok := v.(map[string]any)
		return ok
	case TypeArray:
		if s, ok := v.(string); ok {
			return IsReference(s)
		}
		_, ok := v.([]any)
		return ok
	default:
		return false
	}
}

func serializedSize(v any) int {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(b)
}
