package state

import "sort"

// CurrentVersion is the schema version stamped on every checkpointed state.
const CurrentVersion = "2.0.0"

// FieldType describes the expected shape of a state field.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypeBoolean FieldType = "boolean"
	TypeObject  FieldType = "object"
	TypeArray   FieldType = "array"
)

// FieldSpec declares one state field.
type FieldSpec struct {
	Type     FieldType `json:"type"`
	Required bool      `json:"required,omitempty"`

	// MaxBytes caps the serialized size of the field value. Zero means
	// unbounded.
	MaxBytes int `json:"max_bytes,omitempty"`

	// Referenceable fields larger than the inline threshold are moved to
	// the reference store during compression.
	Referenceable bool `json:"referenceable,omitempty"`

	// Sensitive fields are redacted from logs.
	Sensitive bool `json:"sensitive,omitempty"`

	Description string `json:"description,omitempty"`
}

// Schema enumerates the declared state fields for one version.
type Schema struct {
	Version string               `json:"version"`
	Fields  map[string]FieldSpec `json:"fields"`
}

// FieldNames returns the declared field names sorted ascending.
func (s *Schema) FieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for name := range s.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ReferenceableFields returns the fields tagged referenceable, sorted.
func (s *Schema) ReferenceableFields() []string {
	var names []string
	for name, spec := range s.Fields {
		if spec.Referenceable {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// DefaultSchema is the current bunker-planning state schema.
func DefaultSchema() *Schema {
	return &Schema{
		Version: CurrentVersion,
		Fields: map[string]FieldSpec{
			VersionField:     {Type: TypeString, Required: true, Description: "schema version tag"},
			"correlation_id": {Type: TypeString, Description: "request correlation id"},

			"messages":          {Type: TypeArray, Referenceable: true, MaxBytes: 262144, Description: "conversation messages"},
			"route_data":        {Type: TypeObject, Referenceable: true, MaxBytes: 524288, Description: "calculated route: waypoints, distance, ECA legs"},
			"weather_data":      {Type: TypeObject, Referenceable: true, MaxBytes: 524288, Description: "weather along route"},
			"fuel_prices":       {Type: TypeObject, Referenceable: true, MaxBytes: 262144, Description: "port fuel price table"},
			"bunker_ports":      {Type: TypeArray, Referenceable: true, MaxBytes: 262144, Description: "candidate bunker ports"},
			"bunker_analysis":   {Type: TypeObject, Referenceable: true, MaxBytes: 524288, Description: "optimizer output: best option and alternatives"},
			"vessel_list":       {Type: TypeArray, Referenceable: true, MaxBytes: 262144, Description: "vessel master data"},
			"noon_reports":      {Type: TypeArray, Referenceable: true, MaxBytes: 524288, Description: "recent noon reports"},
			"analysis":          {Type: TypeObject, Referenceable: true, MaxBytes: 524288, Description: "synthesized analysis payload"},
			"reasoning_history": {Type: TypeArray, Referenceable: true, MaxBytes: 262144, Description: "planner reasoning trace"},

			"consumption_profile": {Type: TypeObject, MaxBytes: 65536, Description: "speed/consumption curve"},
			"compliance_zones":    {Type: TypeArray, MaxBytes: 65536, Description: "ECA and SECA zones on route"},
			"extracted_entities":  {Type: TypeObject, MaxBytes: 32768, Description: "entities extracted from the query"},

			"errors":       {Type: TypeObject, Description: "errors keyed by agent id"},
			"agent_status": {Type: TypeObject, Description: "status keyed by agent id"},

			"next_agent":             {Type: TypeString, Description: "router target"},
			"execution_plan":         {Type: TypeObject, Referenceable: true, MaxBytes: 262144, Description: "active execution plan"},
			"workflow_stage":         {Type: TypeString, Description: "current workflow stage id"},
			"needs_clarification":    {Type: TypeBoolean, Description: "execution pauses for user input"},
			"clarification_question": {Type: TypeString, Description: "question to surface to the user"},
		},
	}
}
