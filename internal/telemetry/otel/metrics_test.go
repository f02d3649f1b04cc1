package otel

import (
	"context"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordLogin(ctx, "success")
	m.RecordRateLimited(ctx, true)
	m.RecordPermissionDenied(ctx, "users:read")
	m.RecordSessionsRevoked(ctx, "logout", 1)
}

func TestMetrics_RecordsToReader(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer func() { _ = provider.Shutdown(context.Background()) }()

	m, err := NewMetrics(provider, func() int { return 7 })
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	ctx := context.Background()
	m.RecordLogin(ctx, "success")
	m.RecordLogin(ctx, "failed")
	m.RecordSessionsRevoked(ctx, "logout_all", 3)

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(ctx, &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, md := range sm.Metrics {
			found[md.Name] = true
			switch data := md.Data.(type) {
			case metricdata.Sum[int64]:
				if md.Name == "sitekeeper.sessions.revoked" && data.DataPoints[0].Value != 3 {
					t.Errorf("revoked = %d, want 3", data.DataPoints[0].Value)
				}
				if md.Name == "sitekeeper.logins" && len(data.DataPoints) != 2 {
					t.Errorf("login data points = %d, want 2", len(data.DataPoints))
				}
			case metricdata.Gauge[int64]:
				if data.DataPoints[0].Value != 7 {
					t.Errorf("blacklist size = %d, want 7", data.DataPoints[0].Value)
				}
			}
		}
	}
	for _, name := range []string{"sitekeeper.logins", "sitekeeper.sessions.revoked", "sitekeeper.blacklist.size"} {
		if !found[name] {
			t.Errorf("metric %q not collected", name)
		}
	}
}
