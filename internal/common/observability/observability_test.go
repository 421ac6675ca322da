package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"heart-risk-predictor/internal/common/config"
	"heart-risk-predictor/internal/common/logger"
)

func TestObservability_RecordAndShutdown(t *testing.T) {
	obs := New("heart-risk-predictor-test", logger.NewTestLogger(t))
	require.NotNil(t, obs)

	ctx := context.Background()
	assert.NotPanics(t, func() {
		obs.RecordPrediction(ctx, "form", "High Risk of Heart Attack", 3*time.Millisecond)
		obs.RecordJobProcessed(ctx, "completed")
	})
	assert.NoError(t, obs.Shutdown(ctx))
}

func TestObservability_NilSafe(t *testing.T) {
	var obs *Observability
	ctx := context.Background()
	assert.NotPanics(t, func() {
		obs.RecordPrediction(ctx, "api", "No Risk of Heart Attack", time.Millisecond)
		obs.RecordJobProcessed(ctx, "failed")
	})
	assert.NoError(t, obs.Shutdown(ctx))
	assert.NoError(t, (&Observability{}).Shutdown(ctx))
}

func TestInitTracer_NoEndpointIsNoop(t *testing.T) {
	shutdown, err := InitTracer(context.Background(), config.AppConfig{Name: "x"}, config.ObservabilityConfig{})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}
