package predictor

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "heart-risk-predictor/internal/common/errors"
	"heart-risk-predictor/internal/common/logger"
	"heart-risk-predictor/internal/common/metrics"
	"heart-risk-predictor/internal/features"
	"heart-risk-predictor/internal/inference"
	"heart-risk-predictor/internal/models"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []*models.PredictionEvent
	err    error
}

func (r *captureRecorder) Record(_ context.Context, event *models.PredictionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func loadBundle(t *testing.T) *inference.Bundle {
	t.Helper()
	b, err := inference.LoadBundle(inference.ArtifactPaths{
		Model:     "../inference/testdata/model.txt",
		Encoders:  "../inference/testdata/encoders.json",
		Scaler:    "../inference/testdata/scaler.json",
		Reference: "../inference/testdata/reference.csv",
	}, "test-1", false)
	require.NoError(t, err)
	return b
}

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	s, err := NewService(Config{TopFeatures: 5, CachePrefix: "prediction:"}, loadBundle(t), logger.NewTestLogger(t), opts...)
	require.NoError(t, err)
	return s
}

func highRiskForm() url.Values {
	form := url.Values{}
	for _, name := range features.DefaultColumns {
		form.Set(name, "0")
	}
	form.Set("HadAngina", "1")
	form.Set("ChestScan", "1")
	form.Set("Sex", "1")
	form.Set("GeneralHealth", "3")
	form.Set("HadStroke", "1")
	form.Set("BMI", "31.4")
	form.Set("SleepHours", "6")
	return form
}

func lowRiskValues() map[string]interface{} {
	values := make(map[string]interface{}, len(features.DefaultColumns))
	for _, name := range features.DefaultColumns {
		values[name] = float64(0)
	}
	values["AgeCategory"] = float64(5)
	values["BMI"] = 25.0
	values["GeneralHealth"] = "1"
	return values
}

func fieldCodes(t *testing.T, err error) map[string]apperrors.ErrorCode {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidFeatureInput, apperrors.Normalize(err).Code)
	out := map[string]apperrors.ErrorCode{}
	for _, f := range apperrors.FieldErrors(err) {
		out[f.Field] = f.Code
	}
	return out
}

func TestPredictForm_HighRisk(t *testing.T) {
	s := newService(t)

	form := highRiskForm()
	form.Set("submit", "Predict")

	result, err := s.PredictForm(context.Background(), form)
	require.NoError(t, err)

	assert.Equal(t, models.LabelHighRisk, result.Label)
	assert.True(t, result.HighRisk)
	assert.InDelta(t, 0.852, result.Probability, 1e-3)
	assert.Equal(t, "test-1", result.ModelVersion)
	assert.NotEmpty(t, result.ID)
	assert.False(t, result.Cached)

	require.Len(t, result.TopFeatures, 5)
	for i := 1; i < len(result.TopFeatures); i++ {
		assert.GreaterOrEqual(t, result.TopFeatures[i-1].ShapValue, result.TopFeatures[i].ShapValue)
	}
	assert.Equal(t, "HadAngina", result.TopFeatures[0].Feature)
	assert.Equal(t, 1.0, result.TopFeatures[0].Value)
}

func TestPredictValues_LowRisk(t *testing.T) {
	s := newService(t)

	result, err := s.PredictValues(context.Background(), metrics.SourceAPI, lowRiskValues())
	require.NoError(t, err)

	assert.Equal(t, models.LabelNoRisk, result.Label)
	assert.False(t, result.HighRisk)
	assert.InDelta(t, -1.1, result.Margin, 1e-9)
	assert.Len(t, result.TopFeatures, 5)
}

func TestPredictForm_MissingField(t *testing.T) {
	s := newService(t)

	form := highRiskForm()
	form.Del("BMI")

	_, err := s.PredictForm(context.Background(), form)
	codes := fieldCodes(t, err)
	assert.Equal(t, apperrors.ErrCodeMissingField, codes["BMI"])
	assert.Len(t, codes, 1)
}

func TestPredictForm_NonNumeric(t *testing.T) {
	s := newService(t)

	form := highRiskForm()
	form.Set("BMI", "heavy")
	form.Set("SleepHours", "7.5")

	_, err := s.PredictForm(context.Background(), form)
	codes := fieldCodes(t, err)
	assert.Equal(t, apperrors.ErrCodeInvalidNumber, codes["BMI"])
	assert.Equal(t, apperrors.ErrCodeInvalidNumber, codes["SleepHours"])
}

func TestPredictForm_OutOfRangeCode(t *testing.T) {
	s := newService(t)

	form := highRiskForm()
	form.Set("GeneralHealth", "7")

	_, err := s.PredictForm(context.Background(), form)
	codes := fieldCodes(t, err)
	assert.Equal(t, apperrors.ErrCodeValueOutOfRange, codes["GeneralHealth"])
}

func TestPredictValues_Strict(t *testing.T) {
	s := newService(t)

	values := lowRiskValues()
	values["Cholesterol"] = "200"
	values["AgeCategory"] = 5.5
	values["Sex"] = true

	_, err := s.PredictValues(context.Background(), metrics.SourceAPI, values)
	codes := fieldCodes(t, err)
	assert.Equal(t, apperrors.ErrCodeUnknownField, codes["Cholesterol"])
	assert.Equal(t, apperrors.ErrCodeInvalidNumber, codes["AgeCategory"])
	assert.Equal(t, apperrors.ErrCodeInvalidNumber, codes["Sex"])
	assert.Equal(t, 400, apperrors.HTTPStatus(apperrors.Normalize(err).Code))
}

func TestPredict_CacheHit(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	s := newService(t, WithCache(NewRedisCache(rdb, time.Minute)))

	first, err := s.PredictForm(context.Background(), highRiskForm())
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Len(t, mr.Keys(), 1)

	// same input, different formatting
	form := highRiskForm()
	form.Set("BMI", " 31.40 ")
	second, err := s.PredictForm(context.Background(), form)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Label, second.Label)
	assert.Equal(t, first.Probability, second.Probability)
	assert.Equal(t, first.TopFeatures, second.TopFeatures)
	assert.Equal(t, time.Minute, mr.TTL(mr.Keys()[0]))
}

func cacheKeyFor(t *testing.T, s *Service, form url.Values) string {
	t.Helper()
	values := make(map[string]string, len(form))
	for key, v := range form {
		values[key] = v[0]
	}
	rec, errs := s.bundle.Schema.Parse(values)
	require.Empty(t, errs)
	x, err := s.bundle.Vector(rec)
	require.NoError(t, err)
	return CacheKey("prediction:", s.bundle.Fingerprint, x)
}

func TestPredict_CacheErrorsAreIgnored(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := newService(t, WithCache(NewRedisCache(db, time.Minute)))

	// the SET that follows is unexpected and fails too
	mock.ExpectGet(cacheKeyFor(t, s, highRiskForm())).SetErr(errors.New("connection refused"))

	result, err := s.PredictForm(context.Background(), highRiskForm())
	require.NoError(t, err)
	assert.True(t, result.HighRisk)
	assert.False(t, result.Cached)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPredict_CachedResultFromRedis(t *testing.T) {
	db, mock := redismock.NewClientMock()
	s := newService(t, WithCache(NewRedisCache(db, time.Minute)))

	stored := `{"id":"old","label":"High Risk of Heart Attack","highRisk":true,"probability":0.9,` +
		`"topFeatures":[{"feature":"HadAngina","value":1,"shapValue":1.2}],"modelVersion":"test-1"}`
	mock.ExpectGet(cacheKeyFor(t, s, highRiskForm())).SetVal(stored)

	result, err := s.PredictForm(context.Background(), highRiskForm())
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.NotEqual(t, "old", result.ID)
	assert.Equal(t, 0.9, result.Probability)
	assert.Equal(t, "HadAngina", result.TopFeatures[0].Feature)
	assert.False(t, result.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPredict_RecordsEvent(t *testing.T) {
	rec := &captureRecorder{err: errors.New("sink down")}
	s := newService(t, WithRecorder(rec))

	ctx := WithRequestID(context.Background(), "req-42")
	result, err := s.PredictForm(ctx, highRiskForm())
	require.NoError(t, err, "recorder failures never fail the prediction")

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, result.ID, ev.ID)
	assert.Equal(t, "req-42", ev.RequestID)
	assert.Equal(t, metrics.SourceForm, ev.Source)
	assert.True(t, ev.HighRisk)
	assert.Len(t, ev.Features, 24)
	assert.Equal(t, 31.4, ev.Features["BMI"])
}

func TestPredict_RejectedInputIsNotRecorded(t *testing.T) {
	rec := &captureRecorder{}
	s := newService(t, WithRecorder(rec))

	_, err := s.PredictForm(context.Background(), url.Values{})
	require.Error(t, err)
	assert.Empty(t, rec.events)
}

func TestSchema(t *testing.T) {
	s := newService(t)

	desc := s.Schema()
	assert.Equal(t, "test-1", desc.ModelVersion)
	assert.Equal(t, 0.5, desc.Threshold)
	assert.Len(t, desc.Fields, 24)
	assert.Len(t, desc.JSONSchema.Required, 24)
	require.NotNil(t, desc.JSONSchema.AdditionalProperties)
	assert.False(t, *desc.JSONSchema.AdditionalProperties)
}

func TestTopContributions(t *testing.T) {
	contribs := []inference.Contribution{
		{Feature: "a", SHAP: 0.1},
		{Feature: "b", SHAP: -0.4},
		{Feature: "c", SHAP: 0.3},
		{Feature: "d", SHAP: 0.1},
	}

	top := TopContributions(contribs, 3)
	require.Len(t, top, 3)
	assert.Equal(t, "c", top[0].Feature)
	assert.Equal(t, "a", top[1].Feature)
	assert.Equal(t, "d", top[2].Feature)

	assert.Len(t, TopContributions(contribs, 10), 4)
	assert.Equal(t, "b", TopContributions(contribs, 10)[3].Feature)
	// input order is untouched
	assert.Equal(t, "a", contribs[0].Feature)
}

func TestCacheKey(t *testing.T) {
	k1 := CacheKey("p:", "v1", []float64{1, 2.5})
	assert.Equal(t, k1, CacheKey("p:", "v1", []float64{1, 2.50}))
	assert.NotEqual(t, k1, CacheKey("p:", "v2", []float64{1, 2.5}))
	assert.NotEqual(t, k1, CacheKey("p:", "v1", []float64{12, 0.5}))
	assert.Len(t, k1, len("p:")+40)
}

// retrainedBundle mimics a retrained model that keeps the file format
// version: every leaf is negated, so every probability becomes 1-p.
func retrainedBundle(t *testing.T) *inference.Bundle {
	t.Helper()
	m, err := inference.LoadModel("../inference/testdata/model.txt")
	require.NoError(t, err)
	for _, tree := range m.Trees {
		for i := range tree.LeafValue {
			tree.LeafValue[i] = -tree.LeafValue[i]
		}
	}
	columns, err := inference.LoadReferenceColumns("../inference/testdata/reference.csv")
	require.NoError(t, err)
	encoders, err := inference.LoadEncoders("../inference/testdata/encoders.json")
	require.NoError(t, err)
	b, err := inference.NewBundle(m, columns, encoders, nil, false)
	require.NoError(t, err)
	b.Version = m.Version
	return b
}

func TestPredict_CacheIsNotSharedAcrossModels(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := NewRedisCache(rdb, time.Minute)

	oldBundle, err := inference.LoadBundle(inference.ArtifactPaths{
		Model:     "../inference/testdata/model.txt",
		Encoders:  "../inference/testdata/encoders.json",
		Reference: "../inference/testdata/reference.csv",
	}, "", false)
	require.NoError(t, err)
	newBundle := retrainedBundle(t)
	require.Equal(t, oldBundle.Version, newBundle.Version)

	cfg := Config{TopFeatures: 5, CachePrefix: "prediction:"}
	oldSvc, err := NewService(cfg, oldBundle, logger.NewTestLogger(t), WithCache(cache))
	require.NoError(t, err)
	newSvc, err := NewService(cfg, newBundle, logger.NewTestLogger(t), WithCache(cache))
	require.NoError(t, err)

	before, err := oldSvc.PredictForm(context.Background(), highRiskForm())
	require.NoError(t, err)
	require.True(t, before.HighRisk)

	after, err := newSvc.PredictForm(context.Background(), highRiskForm())
	require.NoError(t, err)
	assert.False(t, after.Cached)
	assert.False(t, after.HighRisk)
	assert.InDelta(t, 1-before.Probability, after.Probability, 1e-9)
	assert.Len(t, mr.Keys(), 2)

	again, err := newSvc.PredictForm(context.Background(), highRiskForm())
	require.NoError(t, err)
	assert.True(t, again.Cached)
	assert.Equal(t, after.Label, again.Label)
}
