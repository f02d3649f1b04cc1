package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Clearenv()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg == nil {
		t.Fatal("Load returned nil config")
	}
	if cfg.HTTPAddr != ":8000" || cfg.GRPCAddr != ":9090" {
		t.Errorf("addrs = %q/%q, want :8000/:9090", cfg.HTTPAddr, cfg.GRPCAddr)
	}
	if cfg.JWTIssuer != "sitekeeper" || cfg.JWTAudience != "sitekeeper-api" {
		t.Errorf("iss/aud = %q/%q", cfg.JWTIssuer, cfg.JWTAudience)
	}
	if cfg.AccessTTL() != time.Hour {
		t.Errorf("AccessTTL = %v, want 1h", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 168*time.Hour {
		t.Errorf("RefreshTTL = %v, want 168h", cfg.RefreshTTL())
	}
	if cfg.BcryptCost != 12 {
		t.Errorf("BcryptCost = %d, want 12", cfg.BcryptCost)
	}
	if cfg.MaxSessionsPerUser != 5 {
		t.Errorf("MaxSessionsPerUser = %d, want 5", cfg.MaxSessionsPerUser)
	}
	if cfg.RateLimitRequests != 100 || cfg.RateLimitWindowMinutes != 5 || cfg.RateLimitBlockMinutes != 15 {
		t.Errorf("rate limit = %d/%d/%d, want 100/5/15", cfg.RateLimitRequests, cfg.RateLimitWindowMinutes, cfg.RateLimitBlockMinutes)
	}
	if cfg.RiskWeightNewDevice != 30 || cfg.RiskWeightNewLocation != 20 || cfg.RiskWeightImpossibleTravel != 35 || cfg.RiskWeightVelocity != 15 {
		t.Errorf("risk weights = %d/%d/%d/%d", cfg.RiskWeightNewDevice, cfg.RiskWeightNewLocation, cfg.RiskWeightImpossibleTravel, cfg.RiskWeightVelocity)
	}
	if cfg.RiskThresholdMedium != 25 || cfg.RiskThresholdHigh != 50 || cfg.RiskThresholdCritical != 75 {
		t.Errorf("risk thresholds = %d/%d/%d", cfg.RiskThresholdMedium, cfg.RiskThresholdHigh, cfg.RiskThresholdCritical)
	}
	if cfg.TravelWindow() != 10*time.Minute || cfg.VelocityWindow() != time.Hour {
		t.Errorf("windows = %v/%v", cfg.TravelWindow(), cfg.VelocityWindow())
	}
	if cfg.PermissionCacheTTL() != 30*time.Second {
		t.Errorf("PermissionCacheTTL = %v, want 30s", cfg.PermissionCacheTTL())
	}
	if cfg.SweepEvery() != time.Minute {
		t.Errorf("SweepEvery = %v, want 1m", cfg.SweepEvery())
	}
	if cfg.SecurityEventsTopic != "sitekeeper-security-events" {
		t.Errorf("SecurityEventsTopic = %q", cfg.SecurityEventsTopic)
	}
	if cfg.KafkaBrokersList() != nil {
		t.Errorf("KafkaBrokersList = %v, want nil", cfg.KafkaBrokersList())
	}
	if cfg.DBMaxOpenConns != 20 || cfg.SeedAdminUsername != "admin" || cfg.ShutdownGrace() != 15*time.Second {
		t.Errorf("db pool/seed admin/shutdown = %d/%q/%v", cfg.DBMaxOpenConns, cfg.SeedAdminUsername, cfg.ShutdownGrace())
	}
}

func TestLoad_EnvVarOverride(t *testing.T) {
	os.Clearenv()
	os.Setenv("GRPC_ADDR", ":7070")
	os.Setenv("JWT_ISSUER", "custom-issuer")
	os.Setenv("BCRYPT_COST", "14")
	os.Setenv("MAX_SESSIONS_PER_USER", "2")
	os.Setenv("RISK_THRESHOLD_CRITICAL", "90")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GRPCAddr != ":7070" {
		t.Errorf("GRPCAddr = %q, want %q", cfg.GRPCAddr, ":7070")
	}
	if cfg.JWTIssuer != "custom-issuer" {
		t.Errorf("JWTIssuer = %q, want %q", cfg.JWTIssuer, "custom-issuer")
	}
	if cfg.BcryptCost != 14 {
		t.Errorf("BcryptCost = %d, want 14", cfg.BcryptCost)
	}
	if cfg.MaxSessionsPerUser != 2 {
		t.Errorf("MaxSessionsPerUser = %d, want 2", cfg.MaxSessionsPerUser)
	}
	if cfg.RiskThresholdCritical != 90 {
		t.Errorf("RiskThresholdCritical = %d, want 90", cfg.RiskThresholdCritical)
	}
}

func TestLoad_BCRYPT_COSTRange(t *testing.T) {
	testCases := []struct {
		name  string
		value string
		want  int
		err   bool
	}{
		{"valid min", "4", 4, false},
		{"valid max", "31", 31, false},
		{"too low", "3", 0, true},
		{"too high", "32", 0, true},
		{"zero", "0", 12, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			os.Setenv("BCRYPT_COST", tc.value)

			cfg, err := Load()
			if tc.err {
				if err == nil {
					t.Fatal("Load should return error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.BcryptCost != tc.want {
				t.Errorf("BcryptCost = %d, want %d", cfg.BcryptCost, tc.want)
			}
		})
	}
}

func TestLoad_Validation(t *testing.T) {
	testCases := []struct {
		name string
		env  map[string]string
	}{
		{"zero session limit", map[string]string{"MAX_SESSIONS_PER_USER": "0"}},
		{"zero rate limit", map[string]string{"RATE_LIMIT_REQUESTS": "0"}},
		{"zero window", map[string]string{"RATE_LIMIT_WINDOW_MINUTES": "0"}},
		{"thresholds out of order", map[string]string{"RISK_THRESHOLD_HIGH": "80"}},
		{"production without secret", map[string]string{"APP_ENV": "production"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			os.Clearenv()
			for k, v := range tc.env {
				os.Setenv(k, v)
			}
			cfg, err := Load()
			if err == nil {
				t.Fatal("Load should return error")
			}
			if cfg != nil {
				t.Error("Load should return nil config on error")
			}
		})
	}
}

func TestDurationAccessors_Fallbacks(t *testing.T) {
	cfg := &Config{
		JWTAccessTTL:  "invalid",
		JWTRefreshTTL: "0",
		SweepInterval: "",
	}
	if cfg.AccessTTL() != time.Hour {
		t.Errorf("AccessTTL = %v, want 1h", cfg.AccessTTL())
	}
	if cfg.RefreshTTL() != 168*time.Hour {
		t.Errorf("RefreshTTL = %v, want 168h", cfg.RefreshTTL())
	}
	if cfg.SweepEvery() != time.Minute {
		t.Errorf("SweepEvery = %v, want 1m", cfg.SweepEvery())
	}
}

func TestPermissionCacheTTL(t *testing.T) {
	testCases := []struct {
		in   string
		want time.Duration
	}{
		{"0", 0},
		{"0s", 0},
		{"-5s", 0},
		{"2m", 2 * time.Minute},
		{"bogus", 30 * time.Second},
	}
	for _, tc := range testCases {
		cfg := &Config{RBACCacheTTL: tc.in}
		if got := cfg.PermissionCacheTTL(); got != tc.want {
			t.Errorf("PermissionCacheTTL(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestKafkaBrokersList(t *testing.T) {
	cfg := &Config{KafkaBrokers: " a:9092, ,b:9092 "}
	got := cfg.KafkaBrokersList()
	if len(got) != 2 || got[0] != "a:9092" || got[1] != "b:9092" {
		t.Errorf("KafkaBrokersList = %v", got)
	}
	var nilCfg *Config
	if nilCfg.KafkaBrokersList() != nil {
		t.Error("nil config should return nil brokers")
	}
}

func TestTrustedProxiesList(t *testing.T) {
	cfg := &Config{TrustedProxies: "10.0.0.0/8,  192.168.1.1"}
	got := cfg.TrustedProxiesList()
	if len(got) != 2 || got[0] != "10.0.0.0/8" || got[1] != "192.168.1.1" {
		t.Errorf("TrustedProxiesList = %v", got)
	}
	if (&Config{}).TrustedProxiesList() != nil {
		t.Error("empty TRUSTED_PROXIES should trust no proxy")
	}
}

func TestShutdownGrace(t *testing.T) {
	if got := (&Config{ShutdownTimeout: "3s"}).ShutdownGrace(); got != 3*time.Second {
		t.Errorf("ShutdownGrace = %v", got)
	}
	if got := (&Config{ShutdownTimeout: "soon"}).ShutdownGrace(); got != 15*time.Second {
		t.Errorf("ShutdownGrace fallback = %v", got)
	}
}
