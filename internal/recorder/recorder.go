// Package recorder fans served predictions out to the optional audit and
// notification sinks. Every sink is best-effort.
package recorder

import (
	"context"
	"errors"
	"time"

	apperrors "heart-risk-predictor/internal/common/errors"
	"heart-risk-predictor/internal/common/logger"
	"heart-risk-predictor/internal/common/metrics"
	"heart-risk-predictor/internal/models"
)

// DefaultTimeout bounds each sink write.
const DefaultTimeout = 2 * time.Second

type Recorder interface {
	Name() string
	Record(ctx context.Context, event *models.PredictionEvent) error
}

// Multi writes to each recorder in turn. A failing recorder does not stop
// the others.
type Multi struct {
	recorders []Recorder
	timeout   time.Duration
	logger    logger.Logger
}

func NewMulti(timeout time.Duration, log logger.Logger, recorders ...Recorder) *Multi {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Multi{recorders: recorders, timeout: timeout, logger: log}
}

// Len returns the number of configured recorders.
func (m *Multi) Len() int {
	return len(m.recorders)
}

// Record returns the joined failures, each as a RECORDER_FAILED error.
// The caller's cancellation is not inherited: a client that disconnects
// after the prediction was computed still gets audited.
func (m *Multi) Record(ctx context.Context, event *models.PredictionEvent) error {
	var errs []error
	for _, r := range m.recorders {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.timeout)
		err := r.Record(rctx, event)
		cancel()
		if err == nil {
			continue
		}

		metrics.RecorderFailures.WithLabelValues(r.Name()).Inc()
		m.logger.Warn("Failed to record prediction", map[string]interface{}{
			"recorder":     r.Name(),
			"predictionId": event.ID,
			"error":        err.Error(),
		})
		errs = append(errs, apperrors.NewRecorderFailedError(r.Name(), err))
	}
	return errors.Join(errs...)
}
