package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/peopleops/portal/pkg/audit"
	"github.com/peopleops/portal/pkg/config"
	"github.com/peopleops/portal/pkg/middleware"
	"github.com/peopleops/portal/pkg/observability"
	"github.com/peopleops/portal/pkg/permissions"
	"github.com/peopleops/portal/pkg/tenants"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	// Database
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelPing()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	if cfg.Observability.MetricsEnabled {
		go pollDBStats(db, metrics)
	}

	ctx := context.Background()
	if err := permissions.RunMigrations(ctx, db); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	if err := tenants.Migrate(db); err != nil {
		log.Fatalf("Failed to migrate tenants: %v", err)
	}

	store := permissions.NewStore(db)
	if err := permissions.InitializeCatalog(ctx, store); err != nil {
		log.Fatalf("Failed to seed permission catalog: %v", err)
	}
	if err := permissions.InitializeSystemRoles(ctx, store); err != nil {
		log.Fatalf("Failed to seed system roles: %v", err)
	}

	auditLogger, err := audit.NewDBLogger(db)
	if err != nil {
		log.Fatalf("Failed to create audit logger: %v", err)
	}
	defer auditLogger.Close()

	// Resolution pipeline
	resolver := permissions.NewResolver(store, logger, metrics)
	cache := permissions.NewResolvedSetCache(resolver, cfg.Cache.Size, cfg.Cache.TTL, metrics)

	// Invalidation bus
	var bus permissions.Bus
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		redisBus := permissions.NewRedisBus(redisClient, cache, logger)
		if err := redisBus.Start(ctx); err != nil {
			log.Fatalf("Failed to start invalidation bus: %v", err)
		}
		bus = redisBus
		logger.WithField("addr", cfg.Redis.Addr).Info("redis invalidation bus started")
	} else {
		bus = permissions.NewLocalBus(cache)
		logger.Info("running single-instance, local invalidation only")
	}
	defer bus.Close()

	// Demo mode
	demo := permissions.NewDemoTable()
	if cfg.Demo.Enabled && cfg.Demo.FixturePath != "" {
		if err := demo.LoadFile(cfg.Demo.FixturePath); err != nil {
			log.Fatalf("Failed to load demo fixture: %v", err)
		}
		if err := demo.Watch(ctx, cfg.Demo.FixturePath, logger); err != nil {
			log.Fatalf("Failed to watch demo fixture: %v", err)
		}
		logger.WithField("path", cfg.Demo.FixturePath).Info("demo fixture loaded")
	}

	// Expired override sweeper
	sweeper := permissions.NewSweeper(store, bus, logger, metrics)
	if err := sweeper.Start(cfg.Cache.SweepSchedule); err != nil {
		log.Fatalf("Failed to start override sweeper: %v", err)
	}
	defer sweeper.Stop()

	// Routing
	guard := permissions.NewGuard(cache, demo, logger, metrics)

	router := mux.NewRouter()
	router.Use(middleware.RequestIDMiddleware)
	if cfg.Observability.MetricsEnabled {
		router.Use(metrics.HTTPMiddleware)
	}
	router.Use(auditContext(auditLogger))
	router.Use(middleware.NewSessionMiddleware(cfg.Demo.Enabled).Handler)

	permissions.NewHandler(store, cache, bus, demo, logger).RegisterRoutes(router, guard)
	tenants.NewHandler(tenants.NewPostgresService(db)).RegisterRoutes(router,
		guard.RequireResource(permissions.ResourceSettings, permissions.ActionRead, permissions.ScopeCompany),
		guard.RequireResource(permissions.ResourceSettings, permissions.ActionUpdate, permissions.ScopeCompany),
	)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Health and metrics on a separate listener, unauthenticated.
	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	if cfg.Observability.MetricsEnabled {
		healthMux.Handle("/metrics", observability.Handler(registry))
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("health server listening")
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("health server failed")
		}
	}()

	go func() {
		logger.WithField("addr", server.Addr).Info("portal server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("health server shutdown failed")
	}
}

// pollDBStats feeds the connection pool gauges
func pollDBStats(db *sql.DB, metrics *observability.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		metrics.ObserveDBStats(db.Stats())
	}
}

// auditContext makes the audit logger reachable from request handlers
func auditContext(logger audit.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(audit.WithLogger(r.Context(), logger)))
		})
	}
}
