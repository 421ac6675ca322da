package validation

import (
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
)

// Patterns accepted for numeric form values. Surrounding whitespace is
// tolerated; NaN and infinities are not.
const (
	IntegerPattern = `^\s*[+-]?[0-9]+\s*$`
	NumberPattern  = `^\s*[+-]?([0-9]+(\.[0-9]*)?|\.[0-9]+)([eE][+-]?[0-9]+)?\s*$`
)

// Error codes reported in ValidationError.Code.
const (
	CodeMissingField  = "MISSING_FIELD"
	CodeInvalidNumber = "INVALID_NUMBER"
	CodeUnknownField  = "UNKNOWN_FIELD"
	CodeInvalidType   = "INVALID_TYPE"
	CodeInvalid       = "INVALID_VALUE"
)

// JSONSchema defines the structure for input schemas
type JSONSchema struct {
	Schema               string              `json:"$schema,omitempty"`
	Title                string              `json:"title,omitempty"`
	Type                 string              `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required,omitempty"`
	AdditionalProperties *bool               `json:"additionalProperties,omitempty"`
}

type Property struct {
	Type        string   `json:"type"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Pattern     string   `json:"pattern,omitempty"`
	Minimum     *float64 `json:"minimum,omitempty"`
	Maximum     *float64 `json:"maximum,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Validator holds a compiled schema so it can be reused across requests.
type Validator struct {
	schema   JSONSchema
	compiled *gojsonschema.Schema
}

// NewValidator compiles schema.
func NewValidator(schema JSONSchema) (*Validator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &Validator{schema: schema, compiled: compiled}, nil
}

// Schema returns the schema the validator was built from.
func (v *Validator) Schema() JSONSchema {
	return v.schema
}

// Validate checks input and returns per-field errors sorted by field name.
func (v *Validator) Validate(input map[string]interface{}) *ValidationResult {
	if input == nil {
		input = map[string]interface{}{}
	}

	result, err := v.compiled.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "(root)", Message: err.Error(), Code: CodeInvalid}},
		}
	}
	if result.Valid() {
		return &ValidationResult{Valid: true}
	}

	errs := make([]ValidationError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		errs = append(errs, v.convert(re))
	}
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Field < errs[j].Field })

	return &ValidationResult{Valid: false, Errors: errs}
}

// ValidateInput validates input against schema in one shot.
func ValidateInput(input map[string]interface{}, schema JSONSchema) *ValidationResult {
	v, err := NewValidator(schema)
	if err != nil {
		return &ValidationResult{
			Valid:  false,
			Errors: []ValidationError{{Field: "(schema)", Message: err.Error(), Code: CodeInvalid}},
		}
	}
	return v.Validate(input)
}

func (v *Validator) convert(re gojsonschema.ResultError) ValidationError {
	field := re.Field()
	if prop, ok := re.Details()["property"].(string); ok && prop != "" {
		field = prop
	}

	switch re.Type() {
	case "required":
		return ValidationError{Field: field, Message: "is required", Code: CodeMissingField}
	case "additional_property_not_allowed":
		return ValidationError{Field: field, Message: "is not a known field", Code: CodeUnknownField}
	case "pattern":
		msg := "must be a number"
		if v.schema.Properties[field].Pattern == IntegerPattern {
			msg = "must be an integer"
		}
		return ValidationError{Field: field, Message: msg, Code: CodeInvalidNumber}
	case "invalid_type":
		return ValidationError{Field: field, Message: re.Description(), Code: CodeInvalidType}
	default:
		return ValidationError{Field: field, Message: re.Description(), Code: CodeInvalid}
	}
}

// Bool returns a pointer to b, for AdditionalProperties.
func Bool(b bool) *bool {
	return &b
}
