package monitor

import (
	"context"

	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthServiceName is the gRPC health service reported for the engine.
const HealthServiceName = "silo.monitor.Engine"

// NewHealthServer starts NOT_SERVING and follows the engine loop:
// SERVING once Run starts, NOT_SERVING once it returns or ctx ends.
func NewHealthServer(ctx context.Context, e *Engine) *health.Server {
	hs := health.NewServer()
	set := func(st healthpb.HealthCheckResponse_ServingStatus) {
		hs.SetServingStatus("", st)
		hs.SetServingStatus(HealthServiceName, st)
	}
	set(healthpb.HealthCheckResponse_NOT_SERVING)

	go func() {
		select {
		case <-e.Started():
			set(healthpb.HealthCheckResponse_SERVING)
		case <-ctx.Done():
			return
		}
		select {
		case <-e.Done():
		case <-ctx.Done():
		}
		set(healthpb.HealthCheckResponse_NOT_SERVING)
	}()
	return hs
}
