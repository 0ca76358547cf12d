package handler

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"pharma/backend/internal/logger"
)

const pingTimeout = 2 * time.Second

// Pinger checks the store is reachable, e.g. *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Server implements the standard gRPC health service. The overall service ("") and ServiceName
// report SERVING only when the store answers a ping.
type Server struct {
	healthpb.UnimplementedHealthServer
	pinger Pinger
}

// ServiceName is the name clients may pass in HealthCheckRequest.Service.
const ServiceName = "pharma.auth"

// NewServer returns a health server. A nil pinger always reports SERVING.
func NewServer(pinger Pinger) *Server {
	return &Server{pinger: pinger}
}

// Ready pings the store within a short timeout.
func (s *Server) Ready(ctx context.Context) error {
	if s.pinger == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return s.pinger.PingContext(ctx)
}

// Check reports readiness for the overall server or ServiceName.
func (s *Server) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}
	if err := s.Ready(ctx); err != nil {
		logger.Warn().Err(err).Msg("health: store ping failed")
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
