package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metrics holds the access-control instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	logins           metric.Int64Counter
	rateLimited      metric.Int64Counter
	permissionDenied metric.Int64Counter
	revokedSessions  metric.Int64Counter
	blacklistSize    metric.Int64ObservableGauge
}

// NewMetrics registers the instruments on provider. A nil provider uses the no-op provider.
// blacklistSize, when non-nil, is observed on every collection.
func NewMetrics(provider metric.MeterProvider, blacklistSize func() int) (*Metrics, error) {
	if provider == nil {
		provider = noop.NewMeterProvider()
	}
	meter := provider.Meter("sitekeeper")
	m := &Metrics{}
	var err error
	if m.logins, err = meter.Int64Counter("sitekeeper.logins",
		metric.WithDescription("Login attempts by outcome.")); err != nil {
		return nil, err
	}
	if m.rateLimited, err = meter.Int64Counter("sitekeeper.rate_limit.rejections",
		metric.WithDescription("Requests rejected by the rate limiter.")); err != nil {
		return nil, err
	}
	if m.permissionDenied, err = meter.Int64Counter("sitekeeper.rbac.denials",
		metric.WithDescription("Requests denied for a missing permission.")); err != nil {
		return nil, err
	}
	if m.revokedSessions, err = meter.Int64Counter("sitekeeper.sessions.revoked",
		metric.WithDescription("Sessions ended before expiry, by reason.")); err != nil {
		return nil, err
	}
	if blacklistSize != nil {
		m.blacklistSize, err = meter.Int64ObservableGauge("sitekeeper.blacklist.size",
			metric.WithDescription("Entries in the token blacklist."),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(int64(blacklistSize()))
				return nil
			}))
		if err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordLogin counts a login attempt. outcome is e.g. "success", "failed" or "blocked".
func (m *Metrics) RecordLogin(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordRateLimited counts a rejected request; blocked is true when the IP is in its block period.
func (m *Metrics) RecordRateLimited(ctx context.Context, blocked bool) {
	if m == nil {
		return
	}
	m.rateLimited.Add(ctx, 1, metric.WithAttributes(attribute.Bool("blocked", blocked)))
}

func (m *Metrics) RecordPermissionDenied(ctx context.Context, permission string) {
	if m == nil {
		return
	}
	m.permissionDenied.Add(ctx, 1, metric.WithAttributes(attribute.String("permission", permission)))
}

func (m *Metrics) RecordSessionsRevoked(ctx context.Context, reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revokedSessions.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}
