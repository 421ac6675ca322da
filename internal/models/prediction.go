// internal/models/prediction.go
package models

import "time"

// Risk labels shown to the user. A probability at or above RiskThreshold
// is high risk.
const (
	LabelHighRisk = "High Risk of Heart Attack"
	LabelNoRisk   = "No Risk of Heart Attack"

	RiskThreshold = 0.5
)

// LabelFor returns the label and high-risk flag for a probability.
func LabelFor(probability float64) (string, bool) {
	if probability >= RiskThreshold {
		return LabelHighRisk, true
	}
	return LabelNoRisk, false
}

// FeatureContribution is one entry of the explanation table.
type FeatureContribution struct {
	Feature   string  `json:"feature"`
	Value     float64 `json:"value"`
	ShapValue float64 `json:"shapValue"`
}

type PredictionResult struct {
	ID            string                `json:"id"`
	Label         string                `json:"label"`
	HighRisk      bool                  `json:"highRisk"`
	Probability   float64               `json:"probability"`
	Margin        float64               `json:"margin"`
	ExpectedValue float64               `json:"expectedValue"`
	TopFeatures   []FeatureContribution `json:"topFeatures"`
	ModelVersion  string                `json:"modelVersion"`
	Cached        bool                  `json:"cached"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// PredictionEvent is what recorders persist or publish for every served
// prediction.
type PredictionEvent struct {
	ID           string                `json:"id"`
	RequestID    string                `json:"requestId,omitempty"`
	Source       string                `json:"source"`
	Label        string                `json:"label"`
	HighRisk     bool                  `json:"highRisk"`
	Probability  float64               `json:"probability"`
	ModelVersion string                `json:"modelVersion"`
	Cached       bool                  `json:"cached"`
	Features     map[string]float64    `json:"features"`
	TopFeatures  []FeatureContribution `json:"topFeatures"`
	CreatedAt    time.Time             `json:"createdAt"`
}

// NewPredictionEvent builds the recorder event for result.
func NewPredictionEvent(result *PredictionResult, source, requestID string, features map[string]float64) *PredictionEvent {
	return &PredictionEvent{
		ID:           result.ID,
		RequestID:    requestID,
		Source:       source,
		Label:        result.Label,
		HighRisk:     result.HighRisk,
		Probability:  result.Probability,
		ModelVersion: result.ModelVersion,
		Cached:       result.Cached,
		Features:     features,
		TopFeatures:  result.TopFeatures,
		CreatedAt:    result.CreatedAt,
	}
}
