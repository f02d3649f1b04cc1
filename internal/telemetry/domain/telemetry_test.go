package domain

import "testing"

func TestNewEvent(t *testing.T) {
	e := NewEvent(EventLoginBlocked, "identity").With("risk_score", "85").With("level", "critical")
	if e.Severity != SeverityCritical {
		t.Errorf("Severity = %s, want critical", e.Severity)
	}
	if e.Attrs["risk_score"] != "85" || e.Attrs["level"] != "critical" {
		t.Errorf("Attrs = %v", e.Attrs)
	}
	if e.CreatedAt.IsZero() || e.CreatedAt.Location().String() != "UTC" {
		t.Errorf("CreatedAt = %v", e.CreatedAt)
	}
}

func TestDefaultSeverity(t *testing.T) {
	tests := map[EventType]Severity{
		EventLoginSucceeded:   SeverityInfo,
		EventLoginFailed:      SeverityWarning,
		EventIPBlocked:        SeverityCritical,
		EventPermissionDenied: SeverityWarning,
		EventDeviceTrusted:    SeverityInfo,
	}
	for typ, want := range tests {
		if got := DefaultSeverity(typ); got != want {
			t.Errorf("DefaultSeverity(%s) = %s, want %s", typ, got, want)
		}
	}
}
