package otel

import (
	"context"
	"encoding/json"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"sitekeeper/internal/telemetry"
	"sitekeeper/internal/telemetry/domain"
)

// recordEmitter is the part of otellog.Logger the adapter uses.
type recordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log records via the given LoggerProvider.
// If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return telemetry.Nop{}
	}
	return &otelEmitter{logger: provider.Logger("sitekeeper.security")}
}

// NewEventEmitterWithLogger wraps any record emitter. Used by tests.
func NewEventEmitterWithLogger(l recordEmitter) telemetry.EventEmitter {
	return &otelEmitter{logger: l}
}

type otelEmitter struct {
	logger recordEmitter
}

// Emit converts the event to an OTel log record: attrs become the JSON body, identifiers become attributes.
func (e *otelEmitter) Emit(ctx context.Context, event *domain.SecurityEvent) error {
	if event == nil {
		return nil
	}
	rec := otellog.Record{}
	ts := event.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetSeverity(severity(event.Severity))
	rec.SetSeverityText(string(event.Severity))
	if len(event.Attrs) > 0 {
		body, err := json.Marshal(event.Attrs)
		if err != nil {
			return err
		}
		rec.SetBody(otellog.BytesValue(body))
	}
	rec.AddAttributes(otellog.String("event_type", string(event.Type)))
	for k, v := range map[string]string{
		"source":     event.Source,
		"user_id":    event.UserID,
		"session_id": event.SessionID,
		"client_ip":  event.IP,
	} {
		if v != "" {
			rec.AddAttributes(otellog.String(k, v))
		}
	}
	e.logger.Emit(ctx, rec)
	return nil
}

func severity(s domain.Severity) otellog.Severity {
	switch s {
	case domain.SeverityCritical:
		return otellog.SeverityError
	case domain.SeverityWarning:
		return otellog.SeverityWarn
	}
	return otellog.SeverityInfo
}
