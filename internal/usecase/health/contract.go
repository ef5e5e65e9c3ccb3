package health

import (
	"context"

	"github.com/kailas-cloud/venuesearch/internal/usecase/extraction"
)

// DBPinger checks database availability.
type DBPinger interface {
	Ping(ctx context.Context) error
}

// ProviderChecker checks embedding or completion provider availability.
type ProviderChecker interface {
	HealthCheck(ctx context.Context) error
}

// PipelineMonitor reports extraction pipeline liveness.
type PipelineMonitor interface {
	Liveness(ctx context.Context) extraction.Liveness
}
