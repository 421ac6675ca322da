// internal/workers/prediction/predict-heart-risk/config.go
package predictheartrisk

import (
	"time"

	"heart-risk-predictor/internal/common/config"
)

type Config struct {
	Timeout time.Duration
}

// LoadConfig reads the job timeout from the worker settings.
func LoadConfig(wcfg config.WorkerConfig) *Config {
	timeout := config.GetDuration(wcfg.Timeout)
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Config{Timeout: timeout}
}
