package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile_AppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
model:
  model_path: artifacts/model.txt
  reference_path: artifacts/reference.csv
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "heart-risk-predictor", cfg.App.Name)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 5, cfg.Model.TopFeatures)
	assert.False(t, cfg.Model.ApplyScaler)
	assert.Equal(t, "prediction:", cfg.Cache.KeyPrefix)
	assert.Equal(t, 30, cfg.RateLimit.Capacity)
	assert.Equal(t, "disable", cfg.Database.Postgres.SSLMode)
	assert.Equal(t, "prediction.completed", cfg.Messaging.AMQP.Queue)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, cfg.App.Name, cfg.Observability.ServiceName)
}

func TestLoadFromFile_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("HRP_TEST_ARTIFACTS", "/srv/artifacts")
	path := writeConfig(t, `
model:
  model_path: ${HRP_TEST_ARTIFACTS}/model.txt
  reference_path: ${HRP_TEST_ARTIFACTS}/reference.csv
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "/srv/artifacts/model.txt", cfg.Model.ModelPath)
	assert.Equal(t, "/srv/artifacts/reference.csv", cfg.Model.ReferencePath)
}

func TestLoadFromFile_RegistryIsEnough(t *testing.T) {
	path := writeConfig(t, `
model:
  registry_path: artifacts/registry.json
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "artifacts/registry.json", cfg.Model.RegistryPath)
}

func TestLoadFromFile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing model",
			body:    "app:\n  name: x\n",
			wantErr: "model.model_path",
		},
		{
			name: "cache without redis",
			body: `
model:
  model_path: m.txt
  reference_path: r.csv
cache:
  enabled: true
`,
			wantErr: "database.redis.address",
		},
		{
			name: "postgres without host",
			body: `
model:
  model_path: m.txt
  reference_path: r.csv
database:
  postgres:
    enabled: true
`,
			wantErr: "database.postgres.host",
		},
		{
			name: "sns without topic",
			body: `
model:
  model_path: m.txt
  reference_path: r.csv
alerts:
  sns:
    enabled: true
`,
			wantErr: "alerts.sns.topic_arn",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromFile(writeConfig(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, GetDuration(1500))
}

func TestGetWorkerConfig_Fallback(t *testing.T) {
	cfg := &Config{Workers: map[string]WorkerConfig{
		"predict-heart-risk": {Enabled: false, MaxJobsActive: 2},
	}}

	assert.False(t, IsWorkerEnabled(cfg, "predict-heart-risk"))
	assert.Equal(t, 2, GetWorkerConfig(cfg, "predict-heart-risk").MaxJobsActive)

	def := GetWorkerConfig(cfg, "unknown")
	assert.True(t, def.Enabled)
	assert.Equal(t, 3, def.MaxRetries)
}
