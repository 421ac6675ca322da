package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{ calls int }

func (l *nopLogger) Error(string, map[string]interface{}) { l.calls++ }

func TestNewInvalidFeatureInputError(t *testing.T) {
	err := NewInvalidFeatureInputError([]FieldError{
		{Field: "BMI", Code: ErrCodeInvalidNumber, Message: "must be a number"},
		{Field: "Sex", Code: ErrCodeMissingField, Message: "is required"},
	})

	assert.Equal(t, ErrCodeInvalidFeatureInput, err.Code)
	assert.False(t, err.Retryable)
	assert.Equal(t, "BMI: must be a number; Sex: is required", err.Details)
	assert.Len(t, FieldErrors(err), 2)
	assert.Len(t, FieldErrors(fmt.Errorf("wrapped: %w", err)), 2)
	assert.Nil(t, FieldErrors(fmt.Errorf("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want int
	}{
		{ErrCodeInvalidFeatureInput, http.StatusBadRequest},
		{ErrCodeMalformedBody, http.StatusBadRequest},
		{ErrCodeSchemaMismatch, http.StatusInternalServerError},
		{ErrCodeInferenceFailed, http.StatusInternalServerError},
		{ErrCodeRateLimited, http.StatusTooManyRequests},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrorCode("SOMETHING_ELSE"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.code))
		})
	}
}

func TestConvertToBPMNError(t *testing.T) {
	bpmn := ConvertToBPMNError(NewInvalidFeatureInputError([]FieldError{{Field: "BMI"}}))
	assert.Equal(t, "INVALID_FEATURE_INPUT", bpmn.Code)
	assert.Equal(t, 0, bpmn.Retries)

	bpmn = ConvertToBPMNError(NewDatabaseConnectionFailedError(fmt.Errorf("refused")))
	assert.Equal(t, "DATABASE_CONNECTION_FAILED", bpmn.Code)
	assert.Equal(t, 3, bpmn.Retries)
	assert.Equal(t, "DATABASE_CONNECTION_FAILED", bpmn.ToErrorVariables()["originalErrorCode"])
}

func TestNormalize(t *testing.T) {
	std := NewSchemaMismatchError("24 != 23")
	assert.Same(t, std, Normalize(fmt.Errorf("ctx: %w", std)))

	got := Normalize(fmt.Errorf("boom"))
	assert.Equal(t, ErrCodeInternal, got.Code)
	assert.Equal(t, "boom", got.Details)
}

func TestHTTPErrorHandler_JSONForAPIRoutes(t *testing.T) {
	e := echo.New()
	log := &nopLogger{}
	e.HTTPErrorHandler = NewHTTPErrorHandler(log)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/predict", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	e.HTTPErrorHandler(NewInvalidFeatureInputError([]FieldError{
		{Field: "BMI", Code: ErrCodeInvalidNumber, Message: "must be a number"},
	}), c)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Error struct {
			Code     string `json:"code"`
			Metadata struct {
				Fields []FieldError `json:"fields"`
			} `json:"metadata"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_FEATURE_INPUT", body.Error.Code)
	require.Len(t, body.Error.Metadata.Fields, 1)
	assert.Equal(t, "BMI", body.Error.Metadata.Fields[0].Field)
	assert.Equal(t, 0, log.calls)
}

func TestHTTPErrorHandler_TransportErrors(t *testing.T) {
	e := echo.New()
	log := &nopLogger{}
	e.HTTPErrorHandler = NewHTTPErrorHandler(log)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/missing", nil)
	rec := httptest.NewRecorder()
	e.HTTPErrorHandler(echo.ErrNotFound, e.NewContext(req, rec))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "NOT_FOUND")

	req = httptest.NewRequest(http.MethodGet, "/api/v1/broken", nil)
	rec = httptest.NewRecorder()
	e.HTTPErrorHandler(fmt.Errorf("nil pointer"), e.NewContext(req, rec))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "INTERNAL_ERROR")
	assert.Equal(t, 1, log.calls)
}

func TestHTTPErrorHandler_PlainTextWithoutRenderer(t *testing.T) {
	e := echo.New()
	e.HTTPErrorHandler = NewHTTPErrorHandler(&nopLogger{})

	req := httptest.NewRequest(http.MethodPost, "/predict", nil)
	rec := httptest.NewRecorder()
	e.HTTPErrorHandler(NewMalformedBodyError(fmt.Errorf("bad form")), e.NewContext(req, rec))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Request body could not be decoded", rec.Body.String())
}
