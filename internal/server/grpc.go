// Package server assembles the gRPC server. It carries only the standard health service; the auth
// API is served over HTTP by package httpapi.
package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	healthhandler "pharma/backend/internal/health/handler"
	"pharma/backend/internal/server/interceptors"
)

// Deps holds the gRPC handler dependencies.
type Deps struct {
	// HealthPinger is used for readiness (e.g. *sql.DB). If nil, Check always reports SERVING.
	HealthPinger healthhandler.Pinger
}

// NewGRPCServer returns a server instrumented with OpenTelemetry, panic recovery and request logging.
func NewGRPCServer(opts ...grpc.ServerOption) *grpc.Server {
	skip := map[string]bool{healthpb.Health_Check_FullMethodName: true}
	base := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.RecoveryUnary(),
			interceptors.LoggingUnary(skip),
		),
	}
	return grpc.NewServer(append(base, opts...)...)
}

// RegisterServices registers every gRPC service with s.
func RegisterServices(s grpc.ServiceRegistrar, deps Deps) {
	healthpb.RegisterHealthServer(s, healthhandler.NewServer(deps.HealthPinger))
}
