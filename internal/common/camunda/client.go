// internal/common/camunda/client.go
package camunda

import (
	"context"
	"fmt"

	"heart-risk-predictor/internal/common/config"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// Connect creates a Zeebe client and checks the gateway answers a
// topology request within the configured request timeout.
func Connect(ctx context.Context, cfg config.CamundaConfig) (zbc.Client, error) {
	client, err := zbc.NewClient(&zbc.ClientConfig{
		GatewayAddress:         cfg.BrokerAddress,
		UsePlaintextConnection: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Zeebe client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, config.GetDuration(cfg.RequestTimeout))
	defer cancel()

	if _, err := client.NewTopologyCommand().Send(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Zeebe broker at %s: %w", cfg.BrokerAddress, err)
	}

	return client, nil
}
