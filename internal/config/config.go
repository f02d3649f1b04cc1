// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the gin HTTP API listens on (e.g. :8000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address the access decision gRPC server listens on (e.g. :9090).
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// DatabaseURL is the Postgres DSN. Empty runs every store in memory only.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// DBMaxOpenConns caps the Postgres connection pool.
	DBMaxOpenConns int `mapstructure:"DB_MAX_OPEN_CONNS"`
	// RedisURL (redis://host:6379/0) enables persistence of the token blacklist.
	RedisURL string `mapstructure:"REDIS_URL"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// TrustedProxies is a comma-separated list of proxy IPs/CIDRs whose X-Forwarded-For is honoured.
	TrustedProxies string `mapstructure:"TRUSTED_PROXIES"`
	// ShutdownTimeout bounds graceful shutdown of the HTTP and gRPC servers.
	ShutdownTimeout string `mapstructure:"SHUTDOWN_TIMEOUT"`

	// JWTSecret is the HMAC signing secret, inline or "file:<path>". At least 32 bytes.
	JWTSecret string `mapstructure:"JWT_SECRET"`
	// JWTIssuer is the iss claim.
	JWTIssuer string `mapstructure:"JWT_ISSUER"`
	// JWTAudience is the aud claim.
	JWTAudience string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "1h").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token and session lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`
	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost int `mapstructure:"BCRYPT_COST"`
	// MaxSessionsPerUser caps concurrently active sessions; older ones are displaced.
	MaxSessionsPerUser int `mapstructure:"MAX_SESSIONS_PER_USER"`

	RateLimitRequests      int `mapstructure:"RATE_LIMIT_REQUESTS"`
	RateLimitWindowMinutes int `mapstructure:"RATE_LIMIT_WINDOW_MINUTES"`
	RateLimitBlockMinutes  int `mapstructure:"RATE_LIMIT_BLOCK_MINUTES"`
	// RateLimitCleanupEvery triggers an inline bucket cleanup every N requests.
	RateLimitCleanupEvery int `mapstructure:"RATE_LIMIT_CLEANUP_EVERY"`

	// Login risk weights, thresholds and windows.
	RiskWeightNewDevice        int     `mapstructure:"RISK_WEIGHT_NEW_DEVICE"`
	RiskWeightNewLocation      int     `mapstructure:"RISK_WEIGHT_NEW_LOCATION"`
	RiskWeightImpossibleTravel int     `mapstructure:"RISK_WEIGHT_IMPOSSIBLE_TRAVEL"`
	RiskWeightVelocity         int     `mapstructure:"RISK_WEIGHT_VELOCITY"`
	RiskThresholdMedium        int     `mapstructure:"RISK_THRESHOLD_MEDIUM"`
	RiskThresholdHigh          int     `mapstructure:"RISK_THRESHOLD_HIGH"`
	RiskThresholdCritical      int     `mapstructure:"RISK_THRESHOLD_CRITICAL"`
	RiskTravelWindow           string  `mapstructure:"RISK_TRAVEL_WINDOW"`
	RiskTravelDistanceKm       float64 `mapstructure:"RISK_TRAVEL_DISTANCE_KM"`
	RiskMaxSpeedKmh            float64 `mapstructure:"RISK_MAX_SPEED_KMH"`
	RiskVelocityWindow         string  `mapstructure:"RISK_VELOCITY_WINDOW"`
	RiskVelocityLogins         int     `mapstructure:"RISK_VELOCITY_LOGINS"`
	// RiskPolicyFile optionally points at a Rego module replacing the built-in login risk policy.
	RiskPolicyFile string `mapstructure:"RISK_POLICY_FILE"`

	// GeoIPBaseURL is the ip-api.com compatible lookup endpoint.
	GeoIPBaseURL string `mapstructure:"GEOIP_BASE_URL"`
	// RBACCacheTTL is how long a user's effective permission set is cached ("0" disables).
	RBACCacheTTL string `mapstructure:"RBAC_CACHE_TTL"`
	// SweepInterval is the period of the blacklist, rate limiter and session expiry sweeps.
	SweepInterval string `mapstructure:"SWEEP_INTERVAL"`

	// KafkaBrokers is a comma-separated list of Kafka brokers for security events. Empty disables Kafka.
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`
	// SecurityEventsTopic is the Kafka topic for security events.
	SecurityEventsTopic string `mapstructure:"SECURITY_EVENTS_TOPIC"`
	// Worker-only: consumer group ID for the security event worker.
	KafkaGroupID string `mapstructure:"KAFKA_GROUP_ID"`
	// Worker-only: Loki URL the worker pushes events to (e.g. http://localhost:3100).
	LokiURL string `mapstructure:"LOKI_URL"`

	// Seed-only: credentials of the bootstrap administrator.
	SeedAdminUsername string `mapstructure:"SEED_ADMIN_USERNAME"`
	SeedAdminPassword string `mapstructure:"SEED_ADMIN_PASSWORD"`

	// OTLPEndpoint is the OTLP gRPC collector endpoint. Empty disables OTel export.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env. Returns an error if required fields are invalid.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8000")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("APP_ENV", "")
	v.SetDefault("TRUSTED_PROXIES", "")
	v.SetDefault("SHUTDOWN_TIMEOUT", "15s")
	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("JWT_ISSUER", "sitekeeper")
	v.SetDefault("JWT_AUDIENCE", "sitekeeper-api")
	v.SetDefault("JWT_ACCESS_TTL", "1h")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("MAX_SESSIONS_PER_USER", 5)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW_MINUTES", 5)
	v.SetDefault("RATE_LIMIT_BLOCK_MINUTES", 15)
	v.SetDefault("RATE_LIMIT_CLEANUP_EVERY", 1000)
	v.SetDefault("RISK_WEIGHT_NEW_DEVICE", 30)
	v.SetDefault("RISK_WEIGHT_NEW_LOCATION", 20)
	v.SetDefault("RISK_WEIGHT_IMPOSSIBLE_TRAVEL", 35)
	v.SetDefault("RISK_WEIGHT_VELOCITY", 15)
	v.SetDefault("RISK_THRESHOLD_MEDIUM", 25)
	v.SetDefault("RISK_THRESHOLD_HIGH", 50)
	v.SetDefault("RISK_THRESHOLD_CRITICAL", 75)
	v.SetDefault("RISK_TRAVEL_WINDOW", "10m")
	v.SetDefault("RISK_TRAVEL_DISTANCE_KM", 1000)
	v.SetDefault("RISK_MAX_SPEED_KMH", 900)
	v.SetDefault("RISK_VELOCITY_WINDOW", "1h")
	v.SetDefault("RISK_VELOCITY_LOGINS", 5)
	v.SetDefault("RISK_POLICY_FILE", "")
	v.SetDefault("GEOIP_BASE_URL", "http://ip-api.com/json")
	v.SetDefault("RBAC_CACHE_TTL", "30s")
	v.SetDefault("SWEEP_INTERVAL", "1m")
	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("SECURITY_EVENTS_TOPIC", "sitekeeper-security-events")
	v.SetDefault("KAFKA_GROUP_ID", "sitekeeper-security-worker")
	v.SetDefault("LOKI_URL", "")
	v.SetDefault("SEED_ADMIN_USERNAME", "admin")
	v.SetDefault("SEED_ADMIN_PASSWORD", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", false)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if cfg.GRPCAddr == "" {
		return nil, errors.New("config: GRPC_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.MaxSessionsPerUser < 1 {
		return nil, errors.New("config: MAX_SESSIONS_PER_USER must be at least 1")
	}
	if cfg.RateLimitRequests < 1 || cfg.RateLimitWindowMinutes < 1 || cfg.RateLimitBlockMinutes < 0 {
		return nil, errors.New("config: RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW_MINUTES must be positive")
	}
	if !(cfg.RiskThresholdMedium < cfg.RiskThresholdHigh && cfg.RiskThresholdHigh < cfg.RiskThresholdCritical) {
		return nil, errors.New("config: RISK_THRESHOLD_* must be strictly increasing (medium < high < critical)")
	}
	if cfg.Env == "production" && cfg.JWTSecret == "" {
		return nil, errors.New("config: JWT_SECRET must be set when APP_ENV=production")
	}

	return &cfg, nil
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 1h if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, time.Hour)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// TravelWindow parses RiskTravelWindow. Returns 10m if unset or invalid.
func (c *Config) TravelWindow() time.Duration {
	return parseDuration(c.RiskTravelWindow, 10*time.Minute)
}

// VelocityWindow parses RiskVelocityWindow. Returns 1h if unset or invalid.
func (c *Config) VelocityWindow() time.Duration {
	return parseDuration(c.RiskVelocityWindow, time.Hour)
}

// SweepEvery parses SweepInterval. Returns 1m if unset or invalid.
func (c *Config) SweepEvery() time.Duration {
	return parseDuration(c.SweepInterval, time.Minute)
}

// PermissionCacheTTL parses RBACCacheTTL. "0" (or any non-positive value) disables caching;
// an unparsable value falls back to 30s.
func (c *Config) PermissionCacheTTL() time.Duration {
	d, err := time.ParseDuration(c.RBACCacheTTL)
	if err != nil {
		return 30 * time.Second
	}
	if d < 0 {
		return 0
	}
	return d
}

// ShutdownGrace parses ShutdownTimeout. Returns 15s if unset or invalid.
func (c *Config) ShutdownGrace() time.Duration {
	return parseDuration(c.ShutdownTimeout, 15*time.Second)
}

// KafkaBrokersList returns Kafka broker addresses from the comma-separated config.
// Security events go to Kafka only when the list is non-empty.
func (c *Config) KafkaBrokersList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.KafkaBrokers)
}

// TrustedProxiesList returns the trusted proxy addresses; nil trusts no proxy.
func (c *Config) TrustedProxiesList() []string {
	if c == nil {
		return nil
	}
	return splitList(c.TrustedProxies)
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
