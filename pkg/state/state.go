// Package state defines the conversational state shared across agents: a
// versioned field map with schema validation, migration, compression by
// reference and delta computation.
package state

import (
	"encoding/json"
	"fmt"
)

// VersionField is the reserved key carrying the schema version tag.
const VersionField = "_schema_version"

// State maps named fields to values. Values are JSON-shaped: maps, slices,
// strings, numbers and booleans.
type State map[string]any

// Update is a partial state produced by one agent invocation.
type Update map[string]any

// New returns an empty state stamped with the current schema version.
func New() State {
	return State{VersionField: CurrentVersion}
}

// Version returns the state's schema version tag, or empty when absent.
func (s State) Version() string {
	if v, ok := s[VersionField].(string); ok {
		return v
	}
	return ""
}

// Clone returns a deep copy. Map and slice values are copied recursively;
// scalars are shared (they are immutable).
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	out := make(State, len(s))
	for k, v := range s {
		out[k] = deepCopy(v)
	}
	return out
}

// Apply merges an update into the state in place and returns the list of
// written fields.
func (s State) Apply(u Update) []string {
	fields := make([]string, 0, len(u))
	for k, v := range u {
		s[k] = v
		fields = append(fields, k)
	}
	return fields
}

// Has reports whether a field is present and non-nil.
func (s State) Has(field string) bool {
	v, ok := s[field]
	return ok && v != nil
}

// SizeBytes returns the serialized size of the state.
func (s State) SizeBytes() (int, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize state: %w", err)
	}
	return len(b), nil
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = deepCopy(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = deepCopy(e)
		}
		return out
	default:
		return v
	}
}

// Normalize round-trips a value through JSON so typed structs stored in
// state become plain maps. Used before validation and checkpointing.
func Normalize(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}
	return out, nil
}
