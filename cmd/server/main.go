// Server runs the HTTP API, the access decision gRPC service and the background sweeper.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"sitekeeper/internal/audit"
	audithandler "sitekeeper/internal/audit/handler"
	"sitekeeper/internal/blacklist"
	"sitekeeper/internal/bootstrap"
	"sitekeeper/internal/config"
	"sitekeeper/internal/device/geo"
	devicehandler "sitekeeper/internal/device/handler"
	devicesecurity "sitekeeper/internal/device/security"
	healthhandler "sitekeeper/internal/health/handler"
	identityhandler "sitekeeper/internal/identity/handler"
	identityservice "sitekeeper/internal/identity/service"
	"sitekeeper/internal/policy/engine"
	"sitekeeper/internal/ratelimit"
	ratelimithandler "sitekeeper/internal/ratelimit/handler"
	rbacengine "sitekeeper/internal/rbac/engine"
	rbachandler "sitekeeper/internal/rbac/handler"
	"sitekeeper/internal/rbac/routes"
	rbacservice "sitekeeper/internal/rbac/service"
	"sitekeeper/internal/security"
	"sitekeeper/internal/server"
	"sitekeeper/internal/server/interceptors"
	"sitekeeper/internal/server/middleware"
	sessionhandler "sitekeeper/internal/session/handler"
	"sitekeeper/internal/session/store"
	"sitekeeper/internal/sweeper"
	"sitekeeper/internal/telemetry"
	telemetryotel "sitekeeper/internal/telemetry/otel"
	"sitekeeper/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("server: %v", err)
	}
	log.Println("server: stopped")
}

// clientIP finds the caller address set by the HTTP middleware or the gRPC peer.
func clientIP(ctx context.Context) string {
	if ip := middleware.ClientIPFromContext(ctx); ip != "" {
		return ip
	}
	return interceptors.ClientIP(ctx)
}

func run(ctx context.Context, cfg *config.Config) error {
	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, "sitekeeper", cfg.OTLPInsecure)
	if err != nil {
		return err
	}
	providers.SetGlobal()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = providers.Shutdown(shutdownCtx)
	}()

	secret, err := security.LoadSecret(cfg.JWTSecret)
	if err != nil {
		return err
	}
	table, err := routes.Default()
	if err != nil {
		return err
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	events := telemetry.Fanout{telemetryotel.NewEventEmitter(providers.LoggerProvider)}
	if kp := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.SecurityEventsTopic); kp != nil {
		events = append(events, kp)
		defer kp.Close()
		log.Printf("server: security events to Kafka topic %s", cfg.SecurityEventsTopic)
	}

	var blOpts []blacklist.Option
	var redisPersister *blacklist.RedisPersister
	if cfg.RedisURL != "" {
		client, err := blacklist.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		redisPersister = blacklist.NewRedisPersister(client)
		blOpts = append(blOpts, blacklist.WithPersister(redisPersister))
	}
	tokens := blacklist.New(cfg.AccessTTL(), blOpts...)
	if redisPersister != nil {
		n, err := blacklist.WarmFromRedis(ctx, tokens, redisPersister)
		if err != nil {
			log.Printf("server: warm blacklist: %v", err)
		}
		log.Printf("server: warmed %d blacklisted tokens", n)
	}

	metrics, err := telemetryotel.NewMetrics(providers.MeterProvider, tokens.Len)
	if err != nil {
		return err
	}

	sessions := store.New(st.sessionPersister())
	st.warmSessions(ctx, sessions)

	rbacEngine := rbacengine.New(st.rbac, cfg.PermissionCacheTTL())
	rbacAdmin := rbacservice.NewService(st.rbac, rbacEngine)
	hasher := security.NewHasher(cfg.BcryptCost)
	if st.conn == nil && cfg.SeedAdminPassword != "" {
		if _, err := bootstrap.Seed(ctx, rbacAdmin, st.users, hasher, table.Permissions(),
			bootstrap.Admin{Username: cfg.SeedAdminUsername, Password: cfg.SeedAdminPassword}); err != nil {
			return err
		}
		log.Printf("server: in-memory administrator %s ready", cfg.SeedAdminUsername)
	}

	thresholds := engine.Thresholds{Medium: cfg.RiskThresholdMedium, High: cfg.RiskThresholdHigh, Critical: cfg.RiskThresholdCritical}
	module, err := engine.LoadPolicyFile(cfg.RiskPolicyFile)
	if err != nil {
		return err
	}
	policy, err := engine.NewReloadingPolicy(ctx, module, thresholds)
	if err != nil {
		return err
	}

	devices := devicesecurity.NewService(devicesecurity.Config{
		Weights: devicesecurity.Weights{
			NewDevice:        cfg.RiskWeightNewDevice,
			NewLocation:      cfg.RiskWeightNewLocation,
			ImpossibleTravel: cfg.RiskWeightImpossibleTravel,
			Velocity:         cfg.RiskWeightVelocity,
		},
		TravelWindow:     cfg.TravelWindow(),
		TravelDistanceKm: cfg.RiskTravelDistanceKm,
		MaxSpeedKmh:      cfg.RiskMaxSpeedKmh,
		VelocityWindow:   cfg.VelocityWindow(),
		VelocityLogins:   cfg.RiskVelocityLogins,
	}, st.devices, sessions, tokens, policy)

	auditLogger := audit.NewLogger(st.audit, clientIP)
	auth := identityservice.NewAuthService(identityservice.Deps{
		Users:     st.users,
		Sessions:  sessions,
		Blacklist: tokens,
		Devices:   devices,
		Locator:   geo.NewIPAPILocator(cfg.GeoIPBaseURL),
		Roles:     rbacAdmin,
		Hasher:    hasher,
		Tokens:    security.NewTokenProvider(secret, cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL()),
		Audit:     auditLogger,
		Events:    events,
		Metrics:   metrics,
	}, identityservice.Config{
		RefreshTTL:  cfg.RefreshTTL(),
		MaxSessions: cfg.MaxSessionsPerUser,
	})

	limiter := ratelimit.New(ratelimit.Config{
		Requests:      cfg.RateLimitRequests,
		Window:        time.Duration(cfg.RateLimitWindowMinutes) * time.Minute,
		BlockDuration: time.Duration(cfg.RateLimitBlockMinutes) * time.Minute,
		CleanupEvery:  uint64(max(cfg.RateLimitCleanupEvery, 0)),
	})

	var pinger healthhandler.Pinger
	if st.conn != nil {
		pinger = st.conn
	}
	router, err := server.NewRouter(server.HTTPDeps{
		Limiter:        limiter,
		Authenticator:  auth,
		Checker:        rbacEngine,
		Routes:         table,
		Audit:          auditLogger,
		Events:         events,
		Metrics:        metrics,
		TrustedProxies: cfg.TrustedProxiesList(),
		Handlers: []server.Registrar{
			healthhandler.NewHandler(pinger, policy),
			identityhandler.NewHandler(auth),
			sessionhandler.NewHandler(sessions, auth),
			devicehandler.NewHandler(devices, sessions, auditLogger, events),
			rbachandler.NewHandler(rbacAdmin, rbacEngine),
			audithandler.NewHandler(st.audit),
			ratelimithandler.NewHandler(limiter),
		},
	})
	if err != nil {
		return err
	}
	httpSrv := server.NewHTTPServer(cfg.HTTPAddr, router)

	grpcSrv, grpcHealth := server.NewGRPCServer(server.GRPCDeps{
		Authenticator: auth,
		Limiter:       limiter,
		Checker:       rbacEngine,
		Blacklist:     tokens,
		Events:        events,
		Metrics:       metrics,
	})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Printf("server: HTTP listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		log.Printf("server: gRPC listening on %s", cfg.GRPCAddr)
		return grpcSrv.Serve(lis)
	})
	g.Go(func() error {
		return sweeper.New(cfg.SweepEvery(), tokens, limiter, sessions, metrics).Run(gctx)
	})
	if cfg.RiskPolicyFile != "" {
		g.Go(func() error {
			if err := policy.WatchFile(gctx, cfg.RiskPolicyFile); err != nil {
				log.Printf("server: risk policy hot reload disabled: %v", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Println("server: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
		defer cancel()
		grpcHealth.Shutdown()
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		err := httpSrv.Shutdown(shutdownCtx)
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}
		return err
	})
	return g.Wait()
}
