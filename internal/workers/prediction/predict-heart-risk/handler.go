// internal/workers/prediction/predict-heart-risk/handler.go
package predictheartrisk

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"

	apperrors "heart-risk-predictor/internal/common/errors"
	"heart-risk-predictor/internal/common/logger"
	"heart-risk-predictor/internal/common/metrics"
	"heart-risk-predictor/internal/common/observability"
	"heart-risk-predictor/internal/models"
	"heart-risk-predictor/internal/predictor"
)

const (
	TaskType = "predict-heart-risk"
)

// Predictor scores one feature record.
type Predictor interface {
	PredictValues(ctx context.Context, source string, values map[string]interface{}) (*models.PredictionResult, error)
}

type Handler struct {
	config       *Config
	predictor    Predictor
	obs          *observability.Observability
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, p Predictor, obs *observability.Observability, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		predictor:    p,
		obs:          obs,
		errorHandler: apperrors.NewErrorHandler(log),
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	start := time.Now()
	metrics.WorkerJobsActive.WithLabelValues(TaskType).Inc()
	defer func() {
		metrics.WorkerJobsActive.WithLabelValues(TaskType).Dec()
		metrics.WorkerJobDuration.WithLabelValues(TaskType).Observe(time.Since(start).Seconds())
	}()

	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.fail(ctx, client, job, apperrors.NewMalformedBodyError(fmt.Errorf("parse variables: %w", err)))
		return
	}
	if input.RequestID == "" {
		input.RequestID = "job-" + strconv.FormatInt(job.Key, 10)
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.fail(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if input == nil || input.Features == nil {
		return nil, apperrors.NewInvalidFeatureInputError([]apperrors.FieldError{{
			Field:   "features",
			Code:    apperrors.ErrCodeMissingField,
			Message: "features is required",
		}})
	}

	if input.RequestID != "" {
		ctx = predictor.WithRequestID(ctx, input.RequestID)
	}

	result, err := h.predictor.PredictValues(ctx, metrics.SourceWorker, input.Features)
	if err != nil {
		return nil, err
	}

	h.logger.Info("prediction completed", map[string]interface{}{
		"requestId":    input.RequestID,
		"predictionId": result.ID,
		"label":        result.Label,
		"probability":  result.Probability,
	})

	return &Output{
		PredictionID: result.ID,
		Label:        result.Label,
		HighRisk:     result.HighRisk,
		Probability:  result.Probability,
		TopFeatures:  result.TopFeatures,
		ModelVersion: result.ModelVersion,
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	metrics.WorkerJobsCompleted.WithLabelValues(TaskType).Inc()
	h.obs.RecordJobProcessed(ctx, "completed")
}

func (h *Handler) fail(ctx context.Context, client worker.JobClient, job entities.Job, err error) {
	stdErr := apperrors.Normalize(err)
	metrics.WorkerJobsFailed.WithLabelValues(TaskType, string(stdErr.Code)).Inc()
	h.obs.RecordJobProcessed(ctx, "failed")
	h.errorHandler.HandleJobError(ctx, client, job, stdErr)
}
