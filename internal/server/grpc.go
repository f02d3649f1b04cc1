package server

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"sitekeeper/internal/server/interceptors"
	"sitekeeper/internal/telemetry"
	telemetryotel "sitekeeper/internal/telemetry/otel"
)

// Health RPCs skip authentication and rate limiting so probes always get an answer.
var healthMethods = map[string]bool{
	"/grpc.health.v1.Health/Check": true,
	"/grpc.health.v1.Health/List":  true,
	"/grpc.health.v1.Health/Watch": true,
}

// GRPCDeps holds the dependencies of the gRPC server.
type GRPCDeps struct {
	Authenticator interceptors.Authenticator
	Limiter       interceptors.Limiter
	// Checker backs CheckPermission. If nil, the RPC returns Unimplemented.
	Checker PermissionChecker
	// Blacklist backs IsBlacklisted. If nil, the RPC returns Unimplemented.
	Blacklist BlacklistChecker
	Events    telemetry.EventEmitter
	Metrics   *telemetryotel.Metrics
}

// NewGRPCServer returns a gRPC server exposing AccessService and the standard health service.
// Interceptor order: rejection telemetry, rate limit, authentication.
func NewGRPCServer(deps GRPCDeps, opts ...grpc.ServerOption) (*grpc.Server, *health.Server) {
	chain := []grpc.UnaryServerInterceptor{
		interceptors.TelemetryUnary(deps.Events, healthMethods),
	}
	if deps.Limiter != nil {
		chain = append(chain, interceptors.RateLimitUnary(deps.Limiter, deps.Metrics, healthMethods))
	}
	chain = append(chain, interceptors.AuthUnary(deps.Authenticator, healthMethods))

	opts = append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(chain...),
	}, opts...)
	s := grpc.NewServer(opts...)

	RegisterAccessServiceServer(s, NewAccessServer(deps.Checker, deps.Blacklist))
	hs := health.NewServer()
	hs.SetServingStatus(AccessServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s, hs
}
