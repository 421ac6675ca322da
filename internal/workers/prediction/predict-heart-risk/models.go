// internal/workers/prediction/predict-heart-risk/models.go
package predictheartrisk

import "heart-risk-predictor/internal/models"

type Input struct {
	RequestID string                 `json:"requestId"`
	Features  map[string]interface{} `json:"features"`
}

type Output struct {
	PredictionID string                       `json:"predictionId"`
	Label        string                       `json:"label"`
	HighRisk     bool                         `json:"highRisk"`
	Probability  float64                      `json:"probability"`
	TopFeatures  []models.FeatureContribution `json:"topFeatures"`
	ModelVersion string                       `json:"modelVersion"`
}
