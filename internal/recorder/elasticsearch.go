package recorder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/elastic/go-elasticsearch/v8/esapi"

	"heart-risk-predictor/internal/common/database"
	"heart-risk-predictor/internal/models"
)

// IndexMapping is applied when the prediction index does not exist yet.
const IndexMapping = `{
  "mappings": {
    "properties": {
      "id":           {"type": "keyword"},
      "requestId":    {"type": "keyword"},
      "source":       {"type": "keyword"},
      "label":        {"type": "keyword"},
      "highRisk":     {"type": "boolean"},
      "probability":  {"type": "double"},
      "modelVersion": {"type": "keyword"},
      "cached":       {"type": "boolean"},
      "features":     {"type": "object", "dynamic": true},
      "topFeatures": {
        "type": "nested",
        "properties": {
          "feature":   {"type": "keyword"},
          "value":     {"type": "double"},
          "shapValue": {"type": "double"}
        }
      },
      "createdAt":    {"type": "date"}
    }
  }
}`

// ElasticsearchRecorder indexes predictions by id, so a retried write
// overwrites instead of duplicating.
type ElasticsearchRecorder struct {
	client *database.ElasticsearchClient
	index  string
}

func NewElasticsearchRecorder(client *database.ElasticsearchClient, index string) *ElasticsearchRecorder {
	return &ElasticsearchRecorder{client: client, index: index}
}

func (r *ElasticsearchRecorder) Name() string { return "elasticsearch" }

// EnsureIndex creates the index with IndexMapping.
func (r *ElasticsearchRecorder) EnsureIndex(ctx context.Context) error {
	return r.client.EnsureIndex(ctx, r.index, IndexMapping)
}

func (r *ElasticsearchRecorder) Record(ctx context.Context, event *models.PredictionEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      r.index,
		DocumentID: event.ID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, r.client.Client)
	if err != nil {
		return fmt.Errorf("index prediction: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index prediction: %s", res.Status())
	}
	return nil
}
