// Package errors provides standardized error handling for the HTTP API and
// the workflow job worker.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// ==========================
// 1. Standard Error Types
// ==========================

// ErrorCode represents standardized internal error codes.
type ErrorCode string

// Request errors: the caller sent something the model cannot score.
const (
	ErrCodeInvalidFeatureInput ErrorCode = "INVALID_FEATURE_INPUT"
	ErrCodeMissingField        ErrorCode = "MISSING_FIELD"
	ErrCodeInvalidNumber       ErrorCode = "INVALID_NUMBER"
	ErrCodeUnknownField        ErrorCode = "UNKNOWN_FIELD"
	ErrCodeValueOutOfRange     ErrorCode = "VALUE_OUT_OF_RANGE"
	ErrCodeMalformedBody       ErrorCode = "MALFORMED_BODY"
)

// Inference errors: the service itself could not produce a prediction.
const (
	ErrCodeSchemaMismatch     ErrorCode = "SCHEMA_MISMATCH"
	ErrCodeInferenceFailed    ErrorCode = "INFERENCE_FAILED"
	ErrCodeArtifactLoadFailed ErrorCode = "ARTIFACT_LOAD_FAILED"
)

// Infrastructure and transport errors.
const (
	ErrCodeRateLimited              ErrorCode = "RATE_LIMITED"
	ErrCodeNotFound                 ErrorCode = "NOT_FOUND"
	ErrCodeMethodNotAllowed         ErrorCode = "METHOD_NOT_ALLOWED"
	ErrCodePayloadTooLarge          ErrorCode = "PAYLOAD_TOO_LARGE"
	ErrCodeBadRequest               ErrorCode = "BAD_REQUEST"
	ErrCodeDatabaseConnectionFailed ErrorCode = "DATABASE_CONNECTION_FAILED"
	ErrCodeRecorderFailed           ErrorCode = "RECORDER_FAILED"
	ErrCodeInternal                 ErrorCode = "INTERNAL_ERROR"
)

// StandardError represents a structured application error.
type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

// FieldError describes one rejected input field.
type FieldError struct {
	Field   string    `json:"field"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

func (f FieldError) String() string {
	return fmt.Sprintf("%s: %s", f.Field, f.Message)
}

// FieldErrors returns the per-field errors attached to err, if any.
func FieldErrors(err error) []FieldError {
	var stdErr *StandardError
	if !errors.As(err, &stdErr) || stdErr.Metadata == nil {
		return nil
	}
	fields, _ := stdErr.Metadata["fields"].([]FieldError)
	return fields
}

// ==========================
// 2. BPMN Error Integration
// ==========================

// BPMNError represents an error that can be thrown to the Camunda workflow engine.
type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

// ToErrorVariables returns a map suitable for setting Camunda job fail variables.
func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}
	for k, v := range e.ErrorVariables {
		vars[k] = v
	}
	return vars
}

// ==========================
// 3. Error Constructors
// ==========================

// NewInvalidFeatureInputError aggregates per-field problems into one
// non-retryable client error.
func NewInvalidFeatureInputError(fields []FieldError) *StandardError {
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f.String())
	}
	return &StandardError{
		Code:      ErrCodeInvalidFeatureInput,
		Message:   "Invalid feature input",
		Details:   strings.Join(parts, "; "),
		Retryable: false,
		Metadata:  map[string]interface{}{"fields": fields},
		Timestamp: time.Now().UTC(),
	}
}

// NewMalformedBodyError creates a non-retryable error for unreadable request bodies.
func NewMalformedBodyError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeMalformedBody,
		Message:   "Request body could not be decoded",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewSchemaMismatchError reports a record that does not line up with the model columns.
func NewSchemaMismatchError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeSchemaMismatch,
		Message:   "Feature record does not match the model schema",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewInferenceFailedError wraps a model evaluation failure.
func NewInferenceFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInferenceFailed,
		Message:   "Model inference failed",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// NewArtifactLoadFailedError reports an unreadable or inconsistent artifact.
func NewArtifactLoadFailedError(artifact string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeArtifactLoadFailed,
		Message:   "Failed to load model artifact",
		Details:   fmt.Sprintf("artifact: %s, error: %s", artifact, err.Error()),
		Retryable: false,
		Metadata:  map[string]interface{}{"artifact": artifact},
		Timestamp: time.Now().UTC(),
	}
}

// NewRateLimitedError creates a retryable throttling error.
func NewRateLimitedError(retryAfter time.Duration) *StandardError {
	return &StandardError{
		Code:      ErrCodeRateLimited,
		Message:   "Too many requests",
		Details:   fmt.Sprintf("retry after %s", retryAfter),
		Retryable: true,
		Metadata:  map[string]interface{}{"retryAfterMs": retryAfter.Milliseconds()},
		Timestamp: time.Now().UTC(),
	}
}

// NewDatabaseConnectionFailedError creates a retryable database connection error.
func NewDatabaseConnectionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeDatabaseConnectionFailed,
		Message:   "Database connection error",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

// NewRecorderFailedError wraps a failed prediction sink write.
func NewRecorderFailedError(recorder string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRecorderFailed,
		Message:   "Prediction recorder failed",
		Details:   fmt.Sprintf("recorder: %s, error: %s", recorder, err.Error()),
		Retryable: true,
		Metadata:  map[string]interface{}{"recorder": recorder},
		Timestamp: time.Now().UTC(),
	}
}

// NewInternalError wraps any unexpected error.
func NewInternalError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeInternal,
		Message:   "Unexpected error",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

// ==========================
// 4. Mappings
// ==========================

// BPMNErrorMapping maps internal codes to the error codes modelled in BPMN.
var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeInvalidFeatureInput: "INVALID_FEATURE_INPUT",
	ErrCodeMissingField:        "INVALID_FEATURE_INPUT",
	ErrCodeInvalidNumber:       "INVALID_FEATURE_INPUT",
	ErrCodeUnknownField:        "INVALID_FEATURE_INPUT",
	ErrCodeValueOutOfRange:     "INVALID_FEATURE_INPUT",
	ErrCodeMalformedBody:       "INVALID_FEATURE_INPUT",
	ErrCodeSchemaMismatch:      "PREDICTION_FAILED",
	ErrCodeInferenceFailed:     "PREDICTION_FAILED",
	ErrCodeArtifactLoadFailed:  "PREDICTION_FAILED",
}

// GetRetryCount returns how many times a job failing with code should be retried.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeDatabaseConnectionFailed,
		ErrCodeRecorderFailed:
		return 3

	case ErrCodeRateLimited:
		return 2

	case ErrCodeInternal:
		return 1

	default:
		return 0 // Input and model errors: no retry
	}
}

// ConvertToBPMNError converts a StandardError to a BPMNError for Camunda.
func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// HTTPStatus maps an error code to the response status of the HTTP API.
func HTTPStatus(code ErrorCode) int {
	switch code {
	case ErrCodeInvalidFeatureInput,
		ErrCodeMissingField,
		ErrCodeInvalidNumber,
		ErrCodeUnknownField,
		ErrCodeValueOutOfRange,
		ErrCodeMalformedBody,
		ErrCodeBadRequest:
		return http.StatusBadRequest
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case ErrCodePayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeDatabaseConnectionFailed:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ==========================
// 5. Helpers
// ==========================

// IsRetryableErrorCode reports whether code is worth retrying.
func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

// IsClientError reports whether code is the caller's fault.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatus(code)
	return status >= 400 && status < 500
}

// GetErrorCategory groups codes for logging and metrics.
func GetErrorCategory(code ErrorCode) string {
	switch code {
	case ErrCodeInvalidFeatureInput, ErrCodeMissingField, ErrCodeInvalidNumber,
		ErrCodeUnknownField, ErrCodeValueOutOfRange, ErrCodeMalformedBody:
		return "VALIDATION"
	case ErrCodeSchemaMismatch, ErrCodeInferenceFailed, ErrCodeArtifactLoadFailed:
		return "MODEL"
	case ErrCodeDatabaseConnectionFailed, ErrCodeRecorderFailed:
		return "INFRASTRUCTURE"
	case ErrCodeRateLimited, ErrCodeNotFound, ErrCodeMethodNotAllowed,
		ErrCodePayloadTooLarge, ErrCodeBadRequest:
		return "TRANSPORT"
	default:
		return "UNKNOWN"
	}
}

// Normalize ensures we always have a StandardError.
func Normalize(err error) *StandardError {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr
	}
	return NewInternalError(err)
}
