package interceptors

import (
	"context"
	"math"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"sitekeeper/internal/ratelimit"
	telemetryotel "sitekeeper/internal/telemetry/otel"
)

// Limiter decides whether a client IP may proceed.
type Limiter interface {
	Allow(ip string) ratelimit.Decision
}

// RateLimitUnary applies the per-IP limiter to every RPC except skipMethods. Over-limit callers get
// ResourceExhausted, blocked callers PermissionDenied; both carry a retry-after trailer in seconds.
func RateLimitUnary(l Limiter, metrics *telemetryotel.Metrics, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if skipMethods[info.FullMethod] {
			return handler(ctx, req)
		}
		d := l.Allow(ClientIP(ctx))
		if d.Allowed {
			return handler(ctx, req)
		}
		metrics.RecordRateLimited(ctx, d.Blocked)
		retry := strconv.FormatInt(int64(math.Ceil(d.RetryAfter.Seconds())), 10)
		_ = grpc.SetTrailer(ctx, metadata.Pairs("retry-after", retry))
		if d.Blocked {
			return nil, status.Error(codes.PermissionDenied, "IP_BLOCKED: client ip is temporarily blocked")
		}
		return nil, status.Error(codes.ResourceExhausted, "RATE_LIMIT_EXCEEDED: rate limit exceeded")
	}
}
