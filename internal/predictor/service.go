// Package predictor runs the request pipeline shared by the web form, the
// JSON API, the workflow worker and the CLI: validate, build the feature
// record, predict, explain, rank.
package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	apperrors "heart-risk-predictor/internal/common/errors"
	"heart-risk-predictor/internal/common/logger"
	"heart-risk-predictor/internal/common/metrics"
	"heart-risk-predictor/internal/common/observability"
	"heart-risk-predictor/internal/common/validation"
	"heart-risk-predictor/internal/features"
	"heart-risk-predictor/internal/inference"
	"heart-risk-predictor/internal/models"
)

// Recorder receives every served prediction. Failures are logged only.
type Recorder interface {
	Record(ctx context.Context, event *models.PredictionEvent) error
}

type Config struct {
	TopFeatures int
	CachePrefix string
}

// Service is safe for concurrent use; all of its state is read-only after
// construction.
type Service struct {
	config        Config
	bundle        *inference.Bundle
	formValidator *validation.Validator
	apiValidator  *validation.Validator
	cache         Cache
	recorder      Recorder
	obs           *observability.Observability
	tracer        trace.Tracer
	logger        logger.Logger
}

// Option configures optional collaborators of the Service.
type Option func(*Service)

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

func WithObservability(o *observability.Observability) Option {
	return func(s *Service) { s.obs = o }
}

func NewService(cfg Config, bundle *inference.Bundle, log logger.Logger, opts ...Option) (*Service, error) {
	if cfg.TopFeatures <= 0 {
		cfg.TopFeatures = 5
	}

	// HTML forms post their submit button too, so the form schema
	// tolerates extra keys; the JSON API does not.
	formValidator, err := validation.NewValidator(bundle.Schema.JSONSchema(true))
	if err != nil {
		return nil, fmt.Errorf("form schema: %w", err)
	}
	apiValidator, err := validation.NewValidator(bundle.Schema.JSONSchema(false))
	if err != nil {
		return nil, fmt.Errorf("api schema: %w", err)
	}

	s := &Service{
		config:        cfg,
		bundle:        bundle,
		formValidator: formValidator,
		apiValidator:  apiValidator,
		tracer:        otel.Tracer("heart-risk-predictor/predictor"),
		logger:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ModelVersion returns the version of the loaded artifacts.
func (s *Service) ModelVersion() string {
	return s.bundle.Version
}

// Fields returns the form fields in column order.
func (s *Service) Fields() []features.Field {
	return s.bundle.Schema.Fields()
}

// SchemaDescription is the public description of the expected input.
type SchemaDescription struct {
	ModelVersion string                `json:"modelVersion"`
	Threshold    float64               `json:"threshold"`
	TopFeatures  int                   `json:"topFeatures"`
	Fields       []features.Field      `json:"fields"`
	JSONSchema   validation.JSONSchema `json:"jsonSchema"`
}

func (s *Service) Schema() SchemaDescription {
	return SchemaDescription{
		ModelVersion: s.bundle.Version,
		Threshold:    models.RiskThreshold,
		TopFeatures:  s.config.TopFeatures,
		Fields:       s.bundle.Schema.Fields(),
		JSONSchema:   s.apiValidator.Schema(),
	}
}

// PredictForm scores an HTML form submission. Only the first value of a
// repeated key is used; unknown keys are ignored.
func (s *Service) PredictForm(ctx context.Context, form url.Values) (*models.PredictionResult, error) {
	input := make(map[string]interface{}, len(form))
	for key, values := range form {
		if len(values) > 0 {
			input[key] = values[0]
		}
	}
	return s.predict(ctx, metrics.SourceForm, input, s.formValidator)
}

// PredictValues scores a decoded JSON object. Values may be strings or
// numbers; unknown keys are rejected.
func (s *Service) PredictValues(ctx context.Context, source string, values map[string]interface{}) (*models.PredictionResult, error) {
	input := make(map[string]interface{}, len(values))
	for key, v := range values {
		input[key] = normalizeValue(v)
	}
	return s.predict(ctx, source, input, s.apiValidator)
}

// normalizeValue turns JSON numbers into the string form the schema
// validates. Other types are passed through for the validator to reject.
func normalizeValue(v interface{}) interface{} {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 32)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case json.Number:
		return n.String()
	default:
		return v
	}
}

func (s *Service) predict(ctx context.Context, source string, input map[string]interface{}, v *validation.Validator) (*models.PredictionResult, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "predictor.Predict", trace.WithAttributes(
		attribute.String("prediction.source", source),
		attribute.String("model.version", s.bundle.Version),
	))
	defer span.End()

	result, err := s.run(ctx, source, input, v)
	if err != nil {
		stdErr := apperrors.Normalize(err)
		metrics.PredictionsFailed.WithLabelValues(source, string(stdErr.Code)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(stdErr.Code))
		if !apperrors.IsClientError(stdErr.Code) {
			s.logger.Error("Prediction failed", map[string]interface{}{
				"source":    source,
				"errorCode": string(stdErr.Code),
				"details":   stdErr.Details,
			})
		}
		return nil, stdErr
	}

	elapsed := time.Since(start)
	metrics.PredictionsTotal.WithLabelValues(source, result.Label).Inc()
	metrics.PredictionDuration.WithLabelValues(source).Observe(elapsed.Seconds())
	s.obs.RecordPrediction(ctx, source, result.Label, elapsed)

	span.SetAttributes(
		attribute.String("prediction.label", result.Label),
		attribute.Float64("prediction.probability", result.Probability),
		attribute.Bool("prediction.cached", result.Cached),
	)
	return result, nil
}

func (s *Service) run(ctx context.Context, source string, input map[string]interface{}, v *validation.Validator) (*models.PredictionResult, error) {
	if res := v.Validate(input); !res.Valid {
		return nil, apperrors.NewInvalidFeatureInputError(toFieldErrors(res.Errors))
	}

	values := make(map[string]string, len(input))
	for key, raw := range input {
		if str, ok := raw.(string); ok {
			values[key] = str
		}
	}

	rec, fieldErrs := s.bundle.Schema.Parse(values)
	if len(fieldErrs) > 0 {
		return nil, apperrors.NewInvalidFeatureInputError(fieldErrs)
	}

	x, err := s.bundle.Vector(rec)
	if err != nil {
		return nil, err
	}

	key := CacheKey(s.config.CachePrefix, s.bundle.Fingerprint, x)
	if result := s.lookup(ctx, key); result != nil {
		s.record(ctx, source, result, rec)
		return result, nil
	}

	eval, err := s.bundle.Evaluate(rec)
	if err != nil {
		return nil, err
	}

	label, highRisk := models.LabelFor(eval.Probability)
	result := &models.PredictionResult{
		ID:            uuid.NewString(),
		Label:         label,
		HighRisk:      highRisk,
		Probability:   eval.Probability,
		Margin:        eval.Margin,
		ExpectedValue: eval.ExpectedValue,
		TopFeatures:   TopContributions(eval.Contributions, s.config.TopFeatures),
		ModelVersion:  s.bundle.Version,
		CreatedAt:     time.Now().UTC(),
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, result); err != nil {
			s.logger.Warn("Failed to cache prediction", map[string]interface{}{"error": err.Error()})
		}
	}

	s.record(ctx, source, result, rec)
	return result, nil
}

// lookup returns a cached result re-stamped as a new prediction, or nil.
func (s *Service) lookup(ctx context.Context, key string) *models.PredictionResult {
	if s.cache == nil {
		return nil
	}

	cached, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		s.logger.Warn("Prediction cache lookup failed", map[string]interface{}{"error": err.Error()})
		return nil
	case !ok:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil
	}

	metrics.CacheLookups.WithLabelValues("hit").Inc()
	cached.ID = uuid.NewString()
	cached.Cached = true
	cached.CreatedAt = time.Now().UTC()
	return cached
}

func (s *Service) record(ctx context.Context, source string, result *models.PredictionResult, rec features.Record) {
	if s.recorder == nil {
		return
	}
	event := models.NewPredictionEvent(result, source, RequestIDFromContext(ctx), rec.Map())
	if err := s.recorder.Record(ctx, event); err != nil {
		s.logger.Debug("Prediction recorded with errors", map[string]interface{}{
			"predictionId": result.ID,
			"error":        err.Error(),
		})
	}
}

// TopContributions returns the k largest signed contributions in
// descending order. Ties keep column order.
func TopContributions(contribs []inference.Contribution, k int) []models.FeatureContribution {
	ranked := make([]inference.Contribution, len(contribs))
	copy(ranked, contribs)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].SHAP > ranked[j].SHAP })

	if k > len(ranked) {
		k = len(ranked)
	}
	out := make([]models.FeatureContribution, k)
	for i := range out {
		out[i] = models.FeatureContribution{
			Feature:   ranked[i].Feature,
			Value:     ranked[i].Value,
			ShapValue: ranked[i].SHAP,
		}
	}
	return out
}

func toFieldErrors(errs []validation.ValidationError) []apperrors.FieldError {
	out := make([]apperrors.FieldError, 0, len(errs))
	for _, e := range errs {
		code := apperrors.ErrCodeInvalidFeatureInput
		switch e.Code {
		case validation.CodeMissingField:
			code = apperrors.ErrCodeMissingField
		case validation.CodeInvalidNumber, validation.CodeInvalidType:
			code = apperrors.ErrCodeInvalidNumber
		case validation.CodeUnknownField:
			code = apperrors.ErrCodeUnknownField
		}
		out = append(out, apperrors.FieldError{Field: e.Field, Code: code, Message: e.Message})
	}
	return out
}

type requestIDKey struct{}

// WithRequestID attaches the caller's request id to ctx for recorders.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
