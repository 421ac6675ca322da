package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSchema(additional bool) JSONSchema {
	return JSONSchema{
		Type: "object",
		Properties: map[string]Property{
			"Sex":        {Type: "string", Pattern: IntegerPattern},
			"SleepHours": {Type: "string", Pattern: IntegerPattern},
			"BMI":        {Type: "string", Pattern: NumberPattern},
		},
		Required:             []string{"Sex", "SleepHours", "BMI"},
		AdditionalProperties: Bool(additional),
	}
}

func TestValidator_Valid(t *testing.T) {
	v, err := NewValidator(testSchema(false))
	require.NoError(t, err)

	for _, bmi := range []string{"27.5", " 31 ", "-0.5", ".5", "1e2", "30."} {
		res := v.Validate(map[string]interface{}{"Sex": "1", "SleepHours": " 7", "BMI": bmi})
		assert.True(t, res.Valid, "BMI=%q: %+v", bmi, res.Errors)
	}
}

func TestValidator_MissingField(t *testing.T) {
	v, err := NewValidator(testSchema(false))
	require.NoError(t, err)

	res := v.Validate(map[string]interface{}{"Sex": "1", "BMI": "22.1"})
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, ValidationError{Field: "SleepHours", Message: "is required", Code: CodeMissingField}, res.Errors[0])
}

func TestValidator_NonNumeric(t *testing.T) {
	v, err := NewValidator(testSchema(false))
	require.NoError(t, err)

	res := v.Validate(map[string]interface{}{"Sex": "male", "SleepHours": "7.5", "BMI": "NaN"})
	require.False(t, res.Valid)
	require.Len(t, res.Errors, 3)

	assert.Equal(t, "BMI", res.Errors[0].Field)
	assert.Equal(t, "must be a number", res.Errors[0].Message)
	assert.Equal(t, "Sex", res.Errors[1].Field)
	assert.Equal(t, "must be an integer", res.Errors[1].Message)
	assert.Equal(t, "SleepHours", res.Errors[2].Field)
	for _, e := range res.Errors {
		assert.Equal(t, CodeInvalidNumber, e.Code)
	}
}

func TestValidator_AdditionalProperties(t *testing.T) {
	input := map[string]interface{}{"Sex": "0", "SleepHours": "8", "BMI": "20", "submit": "Predict"}

	strict, err := NewValidator(testSchema(false))
	require.NoError(t, err)
	res := strict.Validate(input)
	require.False(t, res.Valid)
	assert.Equal(t, ValidationError{Field: "submit", Message: "is not a known field", Code: CodeUnknownField}, res.Errors[0])

	lenient, err := NewValidator(testSchema(true))
	require.NoError(t, err)
	assert.True(t, lenient.Validate(input).Valid)
}

func TestValidateInput_NonStringValue(t *testing.T) {
	res := ValidateInput(map[string]interface{}{"Sex": 1, "SleepHours": "8", "BMI": "20"}, testSchema(false))
	require.False(t, res.Valid)
	assert.Equal(t, "Sex", res.Errors[0].Field)
	assert.Equal(t, CodeInvalidType, res.Errors[0].Code)
}
