package inference

import (
	"fmt"
	"math"

	"heart-risk-predictor/internal/common/config"
	apperrors "heart-risk-predictor/internal/common/errors"
	"heart-risk-predictor/internal/features"
	"heart-risk-predictor/pkg/registry"
)

// ArtifactPaths locates the exported artifacts. Encoders and Scaler are
// optional.
type ArtifactPaths struct {
	Model     string
	Encoders  string
	Scaler    string
	Reference string
}

// Contribution is the TreeSHAP value of one feature for one prediction.
type Contribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
	SHAP    float64 `json:"shapValue"`
}

// Evaluation is the model output for one record. Contributions are in
// schema order and in margin space.
type Evaluation struct {
	Margin        float64
	Probability   float64
	ExpectedValue float64
	Contributions []Contribution
}

// Bundle is the immutable set of artifacts shared by all requests.
type Bundle struct {
	Model    *Model
	Schema   *features.Schema
	Encoders Encoders
	Scaler   *Scaler
	Version  string

	// Fingerprint is a sha256 over the evaluated model content. Cache
	// entries are keyed on it, not on Version.
	Fingerprint string

	applyScaler bool
	// featureOf[j] is the schema position feeding model feature j.
	featureOf []int
	// scalerCol[i] is the scaler column of schema field i, or -1.
	scalerCol []int
}

// LoadFromConfig resolves artifact paths from cfg and the optional
// registry manifest, then loads the bundle.
func LoadFromConfig(cfg config.ModelConfig) (*Bundle, error) {
	paths := ArtifactPaths{
		Model:     cfg.ModelPath,
		Encoders:  cfg.EncodersPath,
		Scaler:    cfg.ScalerPath,
		Reference: cfg.ReferencePath,
	}
	version := ""

	if cfg.RegistryPath != "" {
		reg, err := registry.LoadRegistry(cfg.RegistryPath)
		if err != nil {
			return nil, apperrors.NewArtifactLoadFailedError("registry", err)
		}
		if err := reg.Verify(); err != nil {
			return nil, apperrors.NewArtifactLoadFailedError("registry", err)
		}
		version = reg.Version
		paths = paths.withDefaults(reg.Artifacts)
	}

	return LoadBundle(paths, version, cfg.ApplyScaler)
}

func (p ArtifactPaths) withDefaults(a registry.Artifacts) ArtifactPaths {
	if p.Model == "" {
		p.Model = a.Model
	}
	if p.Encoders == "" {
		p.Encoders = a.Encoders
	}
	if p.Scaler == "" {
		p.Scaler = a.Scaler
	}
	if p.Reference == "" {
		p.Reference = a.Reference
	}
	return p
}

// LoadBundle reads every artifact and cross-checks them. Any failure is
// an ARTIFACT_LOAD_FAILED error.
func LoadBundle(paths ArtifactPaths, version string, applyScaler bool) (*Bundle, error) {
	model, err := LoadModel(paths.Model)
	if err != nil {
		return nil, apperrors.NewArtifactLoadFailedError("model", err)
	}

	columns, err := LoadReferenceColumns(paths.Reference)
	if err != nil {
		return nil, apperrors.NewArtifactLoadFailedError("reference", err)
	}

	var encoders Encoders
	if paths.Encoders != "" {
		if encoders, err = LoadEncoders(paths.Encoders); err != nil {
			return nil, apperrors.NewArtifactLoadFailedError("encoders", err)
		}
	}

	var scaler *Scaler
	if paths.Scaler != "" {
		if scaler, err = LoadScaler(paths.Scaler); err != nil {
			return nil, apperrors.NewArtifactLoadFailedError("scaler", err)
		}
	}

	b, err := NewBundle(model, columns, encoders, scaler, applyScaler)
	if err != nil {
		return nil, apperrors.NewArtifactLoadFailedError("bundle", err)
	}
	b.Version = version
	if b.Version == "" {
		b.Version = model.Version
	}
	return b, nil
}

// NewBundle aligns the model features with the reference columns. Named
// model features must match the columns as a set; a model with default
// Column_i names is aligned by position.
func NewBundle(model *Model, columns []string, encoders Encoders, scaler *Scaler, applyScaler bool) (*Bundle, error) {
	schema, err := features.NewSchema(columns, encoders)
	if err != nil {
		return nil, fmt.Errorf("reference columns: %w", err)
	}
	if schema.Len() != model.NumFeatures {
		return nil, fmt.Errorf("model expects %d features, reference has %d columns", model.NumFeatures, schema.Len())
	}

	b := &Bundle{
		Model:       model,
		Schema:      schema,
		Encoders:    encoders,
		Scaler:      scaler,
		applyScaler: applyScaler,
		featureOf:   make([]int, model.NumFeatures),
	}

	if model.HasDefaultFeatureNames() {
		for j := range b.featureOf {
			b.featureOf[j] = j
		}
	} else {
		seen := make(map[int]bool, model.NumFeatures)
		for j, name := range model.FeatureNames {
			i, ok := schema.Index(name)
			if !ok {
				return nil, fmt.Errorf("model feature %q is not a reference column", name)
			}
			if seen[i] {
				return nil, fmt.Errorf("model feature %q appears twice", name)
			}
			seen[i] = true
			b.featureOf[j] = i
		}
	}

	if applyScaler {
		if scaler == nil {
			return nil, fmt.Errorf("apply_scaler is set but no scaler was loaded")
		}
		b.scalerCol = make([]int, schema.Len())
		for i := range b.scalerCol {
			b.scalerCol[i] = -1
		}
		for k, col := range scaler.Columns {
			i, ok := schema.Index(col)
			if !ok {
				return nil, fmt.Errorf("scaler column %q is not a reference column", col)
			}
			b.scalerCol[i] = k
		}
	}

	b.Fingerprint = b.fingerprint()
	return b, nil
}

// Vector returns the model input for rec, in model feature order.
func (b *Bundle) Vector(rec features.Record) ([]float64, error) {
	if rec.Schema() != b.Schema || rec.Len() != b.Schema.Len() {
		return nil, apperrors.NewSchemaMismatchError(
			fmt.Sprintf("record has %d values, model expects %d", rec.Len(), b.Model.NumFeatures))
	}

	values := rec.Values()
	x := make([]float64, len(b.featureOf))
	for j, i := range b.featureOf {
		v := values[i]
		if b.applyScaler {
			if k := b.scalerCol[i]; k >= 0 {
				v = b.Scaler.Scale(k, v)
			}
		}
		x[j] = v
	}
	return x, nil
}

// Evaluate predicts and explains rec.
func (b *Bundle) Evaluate(rec features.Record) (*Evaluation, error) {
	x, err := b.Vector(rec)
	if err != nil {
		return nil, err
	}

	margin := b.Model.Margin(x)
	if math.IsNaN(margin) || math.IsInf(margin, 0) {
		return nil, apperrors.NewInferenceFailedError(fmt.Errorf("model produced non-finite margin %v", margin))
	}
	phi, expected := b.Model.Contributions(x)

	values := rec.Values()
	names := b.Schema.Names()
	contribs := make([]Contribution, len(names))
	for i, name := range names {
		contribs[i] = Contribution{Feature: name, Value: values[i]}
	}
	for j, i := range b.featureOf {
		contribs[i].SHAP = phi[j]
	}

	return &Evaluation{
		Margin:        margin,
		Probability:   b.Model.Probability(margin),
		ExpectedValue: expected,
		Contributions: contribs,
	}, nil
}
