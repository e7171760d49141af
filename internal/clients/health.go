// internal/clients/health.go
package clients

import (
	"context"
	"time"

	"github.com/sony/gobreaker"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Upstream is a client whose circuit breaker can be reported.
type Upstream interface {
	Name() string
	State() gobreaker.State
}

// ReportHealth publishes each upstream as a gRPC health service, NOT_SERVING
// while its breaker is open, refreshing every interval until ctx ends.
func ReportHealth(ctx context.Context, hs *health.Server, every time.Duration, upstreams ...Upstream) {
	publish := func() {
		for _, u := range upstreams {
			status := healthpb.HealthCheckResponse_SERVING
			if u.State() == gobreaker.StateOpen {
				status = healthpb.HealthCheckResponse_NOT_SERVING
			}
			hs.SetServingStatus(u.Name(), status)
		}
	}

	publish()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			publish()
		}
	}
}
