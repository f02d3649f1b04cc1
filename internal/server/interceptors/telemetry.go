package interceptors

import (
	"context"
	"strconv"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sitekeeper/internal/telemetry"
	telemetrydomain "sitekeeper/internal/telemetry/domain"
)

// TelemetryUnary returns a unary server interceptor that emits a security event for each RPC
// rejected as unauthenticated, unauthorized or throttled. Best-effort; a nil emitter no-ops.
func TelemetryUnary(emitter telemetry.EventEmitter, skipMethods map[string]bool) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if emitter == nil || err == nil || skipMethods[info.FullMethod] {
			return resp, err
		}
		code := status.Code(err)
		switch code {
		case codes.Unauthenticated, codes.PermissionDenied, codes.ResourceExhausted:
		default:
			return resp, err
		}
		ev := telemetrydomain.NewEvent(telemetrydomain.EventRPCRejected, "grpc")
		ev.IP = ClientIP(ctx)
		ev.UserID, _ = GetUserID(ctx)
		ev.With("full_method", info.FullMethod).
			With("status_code", code.String()).
			With("duration_ms", strconv.FormatInt(time.Since(start).Milliseconds(), 10))
		telemetry.EmitAsync(emitter, ev)
		return resp, err
	}
}
