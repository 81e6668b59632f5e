package simd

import (
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the gRPC health service name of the evaluator
const ServiceName = "ensemble.evaluator"

// HealthReporter publishes the standard gRPC health service. The evaluator
// reports SERVING while an experiment runs.
type HealthReporter struct {
	server *health.Server
}

func NewHealthReporter() *HealthReporter {
	h := &HealthReporter{server: health.NewServer()}
	h.SetServing(false)
	return h
}

// Register adds the health service to srv
func (h *HealthReporter) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, h.server)
}

// SetServing updates the status of both the evaluator and the overall server
func (h *HealthReporter) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", status)
	h.server.SetServingStatus(ServiceName, status)
}

// Shutdown marks every service NOT_SERVING and ignores later updates
func (h *HealthReporter) Shutdown() {
	h.server.Shutdown()
}

// Server exposes the underlying health server, e.g. for in-process checks
func (h *HealthReporter) Server() healthpb.HealthServer {
	return h.server
}
