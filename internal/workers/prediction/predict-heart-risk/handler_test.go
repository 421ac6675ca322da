// internal/workers/prediction/predict-heart-risk/handler_test.go
package predictheartrisk

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heart-risk-predictor/internal/common/config"
	apperrors "heart-risk-predictor/internal/common/errors"
	"heart-risk-predictor/internal/common/logger"
	"heart-risk-predictor/internal/features"
	"heart-risk-predictor/internal/inference"
	"heart-risk-predictor/internal/models"
	"heart-risk-predictor/internal/predictor"
)

// ==========================
// Test Helper Functions
// ==========================

func createTestConfig() *Config {
	return LoadConfig(config.WorkerConfig{Enabled: true, Timeout: 5000})
}

func newPredictor(t *testing.T) *predictor.Service {
	t.Helper()
	bundle, err := inference.LoadBundle(inference.ArtifactPaths{
		Model:     "../../../inference/testdata/model.txt",
		Encoders:  "../../../inference/testdata/encoders.json",
		Scaler:    "../../../inference/testdata/scaler.json",
		Reference: "../../../inference/testdata/reference.csv",
	}, "test-1", false)
	require.NoError(t, err)

	svc, err := predictor.NewService(predictor.Config{TopFeatures: 5}, bundle, logger.NewTestLogger(t))
	require.NoError(t, err)
	return svc
}

// createJobVariables mirrors what the engine hands the worker: a JSON
// document where numbers arrive as float64.
func createJobVariables(t *testing.T) *Input {
	t.Helper()
	fields := map[string]interface{}{}
	for _, name := range features.DefaultColumns {
		fields[name] = 0
	}
	fields["HadAngina"] = 1
	fields["ChestScan"] = 1
	fields["GeneralHealth"] = 3
	fields["BMI"] = 31.4
	fields["SleepHours"] = "6"

	raw, err := json.Marshal(map[string]interface{}{
		"requestId": "order-17",
		"features":  fields,
	})
	require.NoError(t, err)

	var input Input
	require.NoError(t, json.Unmarshal(raw, &input))
	return &input
}

type stubPredictor struct {
	requestID string
	source    string
	result    *models.PredictionResult
	err       error
}

func (s *stubPredictor) PredictValues(ctx context.Context, source string, _ map[string]interface{}) (*models.PredictionResult, error) {
	s.requestID = predictor.RequestIDFromContext(ctx)
	s.source = source
	return s.result, s.err
}

// ==========================
// Core Functionality Tests
// ==========================

func TestHandler_Execute_Success(t *testing.T) {
	h := NewHandler(createTestConfig(), newPredictor(t), nil, logger.NewTestLogger(t))

	output, err := h.execute(context.Background(), createJobVariables(t))
	require.NoError(t, err)

	assert.Contains(t, []string{models.LabelHighRisk, models.LabelNoRisk}, output.Label)
	assert.Equal(t, output.Probability >= models.RiskThreshold, output.HighRisk)
	assert.NotEmpty(t, output.PredictionID)
	assert.Equal(t, "test-1", output.ModelVersion)
	require.Len(t, output.TopFeatures, 5)
	for i := 1; i < len(output.TopFeatures); i++ {
		assert.GreaterOrEqual(t, output.TopFeatures[i-1].ShapValue, output.TopFeatures[i].ShapValue)
	}
}

func TestHandler_Execute_PropagatesRequestID(t *testing.T) {
	stub := &stubPredictor{result: &models.PredictionResult{
		ID:          "p-1",
		Label:       models.LabelHighRisk,
		HighRisk:    true,
		Probability: 0.91,
	}}
	h := NewHandler(createTestConfig(), stub, nil, logger.NewNoOpLogger())

	output, err := h.execute(context.Background(), &Input{
		RequestID: "order-17",
		Features:  map[string]interface{}{"BMI": 20.0},
	})
	require.NoError(t, err)

	assert.Equal(t, "order-17", stub.requestID)
	assert.Equal(t, "worker", stub.source)
	assert.Equal(t, "p-1", output.PredictionID)
	assert.True(t, output.HighRisk)
}

// ==========================
// Error Handling Tests
// ==========================

func TestHandler_Execute_InvalidInput(t *testing.T) {
	h := NewHandler(createTestConfig(), newPredictor(t), nil, logger.NewTestLogger(t))

	tests := []struct {
		name   string
		input  *Input
		field  string
		mutate func(in *Input)
	}{
		{
			name:  "nil input",
			input: nil,
			field: "features",
		},
		{
			name:  "missing features",
			input: &Input{RequestID: "order-17"},
			field: "features",
		},
		{
			name:   "missing BMI",
			input:  createJobVariables(t),
			field:  "BMI",
			mutate: func(in *Input) { delete(in.Features, "BMI") },
		},
		{
			name:   "non-numeric sleep hours",
			input:  createJobVariables(t),
			field:  "SleepHours",
			mutate: func(in *Input) { in.Features["SleepHours"] = "lots" },
		},
		{
			name:   "unknown field",
			input:  createJobVariables(t),
			field:  "Cholesterol",
			mutate: func(in *Input) { in.Features["Cholesterol"] = 180.0 },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.mutate != nil {
				tt.mutate(tt.input)
			}
			output, err := h.execute(context.Background(), tt.input)
			require.Error(t, err)
			assert.Nil(t, output)

			stdErr := apperrors.Normalize(err)
			assert.Equal(t, apperrors.ErrCodeInvalidFeatureInput, stdErr.Code)
			assert.Equal(t, "INVALID_FEATURE_INPUT", apperrors.ConvertToBPMNError(stdErr).Code)
			assert.Zero(t, apperrors.ConvertToBPMNError(stdErr).Retries)

			var fields []string
			for _, f := range apperrors.FieldErrors(err) {
				fields = append(fields, f.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestHandler_Execute_InferenceFailure(t *testing.T) {
	stub := &stubPredictor{err: apperrors.NewInferenceFailedError(assert.AnError)}
	h := NewHandler(createTestConfig(), stub, nil, logger.NewNoOpLogger())

	_, err := h.execute(context.Background(), &Input{Features: map[string]interface{}{}})
	require.Error(t, err)
	assert.Equal(t, "PREDICTION_FAILED", apperrors.ConvertToBPMNError(apperrors.Normalize(err)).Code)
}

func TestLoadConfig(t *testing.T) {
	assert.Equal(t, 5*time.Second, LoadConfig(config.WorkerConfig{Timeout: 5000}).Timeout)
	assert.Equal(t, 10*time.Second, LoadConfig(config.WorkerConfig{}).Timeout)
}

func TestOutput_Variables(t *testing.T) {
	raw, err := json.Marshal(Output{
		PredictionID: "p-1",
		Label:        models.LabelNoRisk,
		Probability:  0.12,
		TopFeatures:  []models.FeatureContribution{{Feature: "AgeCategory", Value: 3, ShapValue: -0.4}},
	})
	require.NoError(t, err)

	var vars map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &vars))
	for _, key := range []string{"label", "highRisk", "probability", "topFeatures"} {
		assert.Contains(t, vars, key)
	}
}
