// Package main provides the entry point for the Harmonie edge service.
// It initializes all dependencies, sets up HTTP routes with middleware,
// and starts the server with graceful shutdown support.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/auth"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/cache"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/database"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/handlers"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/metrics"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/middleware"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/ratelimit"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/redis"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/repository"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/startup"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/pkg/logger"
)

// services is everything the router needs.
type services struct {
	store    redis.Store
	dbMgr    *database.Manager
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	stack    *middleware.Stack
	sessions *auth.SessionManager
	admin    auth.AdminService
	janitor  *auth.Janitor
	origin   *handlers.OriginProxy
}

func main() {
	// Load .env.local file only in development (when GO_ENV is not set or set to "development")
	goEnv := os.Getenv("GO_ENV")
	if goEnv == "" || goEnv == "development" {
		if err := godotenv.Load(".env.local"); err != nil {
			if !os.IsNotExist(err) {
				fmt.Fprintf(os.Stderr, "Warning: Error loading .env.local file: %v\n", err)
			}
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewWithConfig(&cfg.Logging)
	log.Info("Starting Harmonie edge service")
	log.WithFields(logrus.Fields{
		"build_id":      cfg.Site.BuildID,
		"port":          cfg.Server.Port,
		"host":          cfg.Server.Host,
		"tls":           cfg.IsTLSEnabled(),
		"db_driver":     cfg.Database.Driver,
		"mail_provider": cfg.Mail.Provider,
	}).Info("Service configuration loaded")

	svc, err := initializeServices(cfg, log)
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize services")
	}
	defer closeStore(svc.store, log)
	defer closeDatabase(svc.dbMgr, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.janitor.Run(ctx)

	server := setupServer(cfg, svc, log)
	runServer(server, cfg, log)
}

func initializeServices(cfg *config.Config, log *logrus.Logger) (*services, error) {
	svc := &services{registry: prometheus.NewRegistry()}
	svc.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc.metrics = metrics.New(svc.registry)

	var redisClient *goredis.Client
	svc.store, redisClient = initializeStore(cfg, log)

	dbMgr, err := database.NewManager(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	svc.dbMgr = dbMgr

	repo := newRepository(dbMgr)
	if err := startup.NewBootstrapper(cfg, dbMgr, repo, log).Run(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to bootstrap database: %w", err)
	}

	mailer, err := newMailer(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailer: %w", err)
	}

	pages := cache.NewVersionController(svc.store, cfg, svc.metrics, log)
	limiter := ratelimit.NewLimiter(svc.store, ratelimit.RoutesFromConfig(cfg.RateLimit.Routes), svc.metrics, log)

	svc.sessions = auth.NewSessionManager(cfg, repo, pages, mailer, svc.metrics, log)
	svc.janitor = auth.NewJanitor(repo, cfg.Auth.JanitorInterval, svc.metrics, log)
	svc.admin = auth.NewAdminService(svc.store, repo, pages, svc.janitor, log)
	svc.stack = middleware.NewStack(cfg, redisClient, limiter, pages, svc.sessions, svc.metrics, log)

	svc.origin, err = handlers.NewOriginProxy(cfg.Site.OriginURL, cfg.Server.WriteTimeout, log)
	if err != nil {
		return nil, err
	}
	if cfg.Site.OriginURL == "" {
		log.Warn("No origin configured: pages and CRUD endpoints will answer 503")
	}

	return svc, nil
}

// initializeStore connects to Redis and falls back to the in-memory store. The
// raw client is returned for the global token bucket, nil on fallback.
func initializeStore(cfg *config.Config, log *logrus.Logger) (redis.Store, *goredis.Client) {
	redisStore, err := redis.NewClient(&cfg.Redis, log)
	if err != nil {
		log.WithError(err).Warn("Failed to connect to Redis, falling back to in-memory store")
		log.Warn("Note: page cache, rate limits and cache version are per-instance and lost on restart")
		return redis.NewMemoryStore(log), nil
	}

	log.Info("Successfully connected to Redis store")
	return redisStore, redisStore.GetRedisClient()
}

func newRepository(dbMgr *database.Manager) repository.Repository {
	switch {
	case dbMgr.Postgres() != nil:
		return repository.NewPostgresRepository(dbMgr.Postgres().Pool)
	case dbMgr.MySQL() != nil:
		return repository.NewMySQLRepository(dbMgr.MySQL().DB)
	default:
		return repository.NewMemoryRepository()
	}
}

func closeStore(store redis.Store, log *logrus.Logger) {
	if storeErr := store.Close(); storeErr != nil {
		log.WithError(storeErr).Error("Failed to close store connection")
	}
}

func closeDatabase(dbMgr *database.Manager, log *logrus.Logger) {
	if dbMgr != nil {
		dbMgr.Close()
		log.Info("Database connections closed")
	}
}

func setupServer(cfg *config.Config, svc *services, log *logrus.Logger) *http.Server {
	stack := svc.stack
	origin := svc.origin

	healthHandler := handlers.NewHealthHandler(cfg, svc.store, svc.dbMgr, svc.metrics, log)
	adminAuthHandler := handlers.NewAuthHandler(models.ContextAdmin, svc.sessions, log)
	musicianAuthHandler := handlers.NewAuthHandler(models.ContextMusician, svc.sessions, log)
	adminHandler := handlers.NewAdminHandler(svc.admin, log)

	router := mux.NewRouter()

	// Served by the edge itself.
	healthHandler.RegisterRoutes(router, svc.registry)
	adminAuthHandler.RegisterRoutes(router)
	musicianAuthHandler.RegisterRoutes(router)

	edgeRouter := router.PathPrefix("/api/admin/edge").Subrouter()
	edgeRouter.Use(stack.RequireAdmin)
	adminHandler.RegisterRoutes(edgeRouter, stack.RequireSuperAdmin)

	// Login pages are public.
	router.Path("/admin/login").Handler(origin)
	router.Path("/musician/login").Handler(origin)

	adminOrigin := stack.Chain(origin, stack.RequireAdmin, stack.InvalidateOnMutation)
	router.Path("/admin").Handler(adminOrigin)
	router.PathPrefix("/admin/").Handler(adminOrigin)
	router.PathPrefix("/api/admin/").Handler(adminOrigin)

	musicianOrigin := stack.RequireMusician(origin)
	router.Path("/musician").Handler(musicianOrigin)
	router.PathPrefix("/musician/").Handler(musicianOrigin)
	router.PathPrefix("/api/musician/").Handler(musicianOrigin)

	router.PathPrefix("/api/").Handler(origin)
	router.PathPrefix("/").Handler(stack.PageCache(origin))

	finalHandler := stack.Chain(
		router,
		stack.Recovery,
		stack.RequestLogger,
		stack.SecurityHeaders,
		stack.CORS,
		stack.GlobalRateLimit,
		stack.RouteRateLimit,
		stack.ContentType,
	)

	return &http.Server{
		Addr:         cfg.ServerAddr(),
		Handler:      finalHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
}

func runServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	go startServer(server, cfg, log)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.WithError(shutdownErr).Error("Server forced to shutdown")
	} else {
		log.Info("Server exited gracefully")
	}
}

func startServer(server *http.Server, cfg *config.Config, log *logrus.Logger) {
	log.WithFields(logrus.Fields{
		"addr": server.Addr,
		"tls":  cfg.IsTLSEnabled(),
	}).Info("Starting HTTP server")

	var startErr error
	if cfg.IsTLSEnabled() {
		startErr = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
	} else {
		startErr = server.ListenAndServe()
	}

	if startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
		log.WithError(startErr).Fatal("Failed to start server")
	}
}
