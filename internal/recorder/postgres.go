package recorder

import (
	"context"
	"encoding/json"
	"fmt"

	"heart-risk-predictor/internal/common/database"
	"heart-risk-predictor/internal/models"
)

const createAuditTable = `CREATE TABLE IF NOT EXISTS prediction_audit (
	id            UUID PRIMARY KEY,
	request_id    TEXT,
	source        TEXT NOT NULL,
	label         TEXT NOT NULL,
	high_risk     BOOLEAN NOT NULL,
	probability   DOUBLE PRECISION NOT NULL,
	model_version TEXT NOT NULL,
	cached        BOOLEAN NOT NULL DEFAULT FALSE,
	features      JSONB NOT NULL,
	contributions JSONB NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL
)`

const createAuditIndex = `CREATE INDEX IF NOT EXISTS prediction_audit_created_at_idx ON prediction_audit (created_at)`

const insertAudit = `INSERT INTO prediction_audit
	(id, request_id, source, label, high_risk, probability, model_version, cached, features, contributions, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

// PostgresRecorder appends every prediction to the prediction_audit table.
type PostgresRecorder struct {
	client *database.PostgresClient
}

func NewPostgresRecorder(client *database.PostgresClient) *PostgresRecorder {
	return &PostgresRecorder{client: client}
}

func (r *PostgresRecorder) Name() string { return "postgres" }

// EnsureSchema creates the audit table and its index if missing.
func (r *PostgresRecorder) EnsureSchema(ctx context.Context) error {
	return r.client.Migrate(ctx, createAuditTable, createAuditIndex)
}

func (r *PostgresRecorder) Record(ctx context.Context, event *models.PredictionEvent) error {
	featuresJSON, err := json.Marshal(event.Features)
	if err != nil {
		return fmt.Errorf("marshal features: %w", err)
	}
	contribJSON, err := json.Marshal(event.TopFeatures)
	if err != nil {
		return fmt.Errorf("marshal contributions: %w", err)
	}

	var requestID interface{}
	if event.RequestID != "" {
		requestID = event.RequestID
	}

	_, err = r.client.DB.ExecContext(ctx, insertAudit,
		event.ID,
		requestID,
		event.Source,
		event.Label,
		event.HighRisk,
		event.Probability,
		event.ModelVersion,
		event.Cached,
		string(featuresJSON),
		string(contribJSON),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert prediction_audit: %w", err)
	}
	return nil
}
