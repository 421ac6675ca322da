// Package features owns the ordered, typed field set shared by the survey
// form, the JSON API and the model columns.
package features

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	apperrors "heart-risk-predictor/internal/common/errors"
	"heart-risk-predictor/internal/common/validation"
)

// Option is one selectable code of a categorical field.
type Option struct {
	Code  int    `json:"code"`
	Label string `json:"label"`
}

// Field is one named input of the feature record.
type Field struct {
	Name    string   `json:"name"`
	Kind    Kind     `json:"-"`
	Type    string   `json:"type"`
	Label   string   `json:"label"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Options []Option `json:"options,omitempty"`
}

// Schema is the ordered field set. It is immutable once built.
type Schema struct {
	fields []Field
	index  map[string]int
}

// NewSchema builds a schema in column order. classes maps a column to the
// labels of its encoder, where the position of a label is its code.
func NewSchema(columns []string, classes map[string][]string) (*Schema, error) {
	if len(columns) == 0 {
		return nil, fmt.Errorf("no columns")
	}

	s := &Schema{
		fields: make([]Field, 0, len(columns)),
		index:  make(map[string]int, len(columns)),
	}

	for _, name := range columns {
		name = strings.TrimSpace(name)
		if _, dup := s.index[name]; dup {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		def, ok := catalog[name]
		if !ok {
			return nil, fmt.Errorf("no field definition for column %q", name)
		}

		f := Field{
			Name:  name,
			Kind:  def.kind,
			Type:  def.kind.String(),
			Label: def.label,
			Min:   def.min,
			Max:   def.max,
		}

		labels := classes[name]
		if len(labels) == 0 && def.indicator {
			labels = indicatorClasses
		}
		if len(labels) > 0 && def.kind == KindInt {
			f.Options = make([]Option, len(labels))
			for code, label := range labels {
				f.Options[code] = Option{Code: code, Label: label}
			}
		}

		s.index[name] = len(s.fields)
		s.fields = append(s.fields, f)
	}

	return s, nil
}

// Len returns the number of fields.
func (s *Schema) Len() int { return len(s.fields) }

// Fields returns the fields in column order.
func (s *Schema) Fields() []Field {
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Names returns the field names in column order.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// Index returns the column position of name.
func (s *Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}

// JSONSchema describes a submission as an object of numeric strings.
// allowExtra controls whether unknown keys are tolerated, which HTML forms
// need for their submit buttons.
func (s *Schema) JSONSchema(allowExtra bool) validation.JSONSchema {
	props := make(map[string]validation.Property, len(s.fields))
	for _, f := range s.fields {
		pattern := validation.IntegerPattern
		if f.Kind == KindFloat {
			pattern = validation.NumberPattern
		}
		props[f.Name] = validation.Property{
			Type:        "string",
			Title:       f.Label,
			Description: f.Type,
			Pattern:     pattern,
		}
	}
	return validation.JSONSchema{
		Title:                "Heart attack risk survey",
		Type:                 "object",
		Properties:           props,
		Required:             s.Names(),
		AdditionalProperties: validation.Bool(allowExtra),
	}
}

// Parse converts submitted strings into a record. Every field is required
// and nothing is defaulted; all problems are reported together.
func (s *Schema) Parse(values map[string]string) (Record, []apperrors.FieldError) {
	out := make([]float64, len(s.fields))
	var errs []apperrors.FieldError

	for i, f := range s.fields {
		raw, ok := values[f.Name]
		if !ok {
			errs = append(errs, apperrors.FieldError{Field: f.Name, Code: apperrors.ErrCodeMissingField, Message: "is required"})
			continue
		}

		v, err := parseValue(f.Kind, raw)
		if err != nil {
			errs = append(errs, apperrors.FieldError{Field: f.Name, Code: apperrors.ErrCodeInvalidNumber, Message: err.Error()})
			continue
		}

		if msg := f.checkRange(v); msg != "" {
			errs = append(errs, apperrors.FieldError{Field: f.Name, Code: apperrors.ErrCodeValueOutOfRange, Message: msg})
			continue
		}

		out[i] = v
	}

	if len(errs) > 0 {
		return Record{}, errs
	}
	return Record{schema: s, values: out}, nil
}

func parseValue(kind Kind, raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if kind == KindInt {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("must be an integer")
		}
		return float64(n), nil
	}

	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("must be a number")
	}
	return v, nil
}

func (f Field) checkRange(v float64) string {
	if len(f.Options) > 0 && (v < 0 || int(v) >= len(f.Options)) {
		return fmt.Sprintf("must be a code between 0 and %d", len(f.Options)-1)
	}
	if f.Min != nil && v < *f.Min {
		return fmt.Sprintf("must be at least %g", *f.Min)
	}
	if f.Max != nil && v > *f.Max {
		return fmt.Sprintf("must be at most %g", *f.Max)
	}
	return ""
}

// Record is one parsed submission in schema column order.
type Record struct {
	schema *Schema
	values []float64
}

// NewRecord wraps values that are already in column order.
func NewRecord(s *Schema, values []float64) (Record, error) {
	if len(values) != s.Len() {
		return Record{}, fmt.Errorf("record has %d values, schema has %d fields", len(values), s.Len())
	}
	out := make([]float64, len(values))
	copy(out, values)
	return Record{schema: s, values: out}, nil
}

// Schema returns the schema the record was parsed against.
func (r Record) Schema() *Schema { return r.schema }

// Values returns a copy of the values in column order.
func (r Record) Values() []float64 {
	out := make([]float64, len(r.values))
	copy(out, r.values)
	return out
}

// Len returns the number of values.
func (r Record) Len() int { return len(r.values) }

// Get returns the value of the named field.
func (r Record) Get(name string) (float64, bool) {
	if r.schema == nil {
		return 0, false
	}
	i, ok := r.schema.index[name]
	if !ok {
		return 0, false
	}
	return r.values[i], true
}

// Map returns the record keyed by field name.
func (r Record) Map() map[string]float64 {
	out := make(map[string]float64, len(r.values))
	if r.schema == nil {
		return out
	}
	for i, f := range r.schema.fields {
		out[f.Name] = r.values[i]
	}
	return out
}
