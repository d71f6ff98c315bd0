package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crucial707/equipment-manager/internal/config"
	"github.com/crucial707/equipment-manager/internal/db"
	"github.com/crucial707/equipment-manager/internal/handlers"
	"github.com/crucial707/equipment-manager/internal/logger"
	"github.com/crucial707/equipment-manager/internal/middleware"
	"github.com/crucial707/equipment-manager/internal/repo"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// defaultMaxBodyBytes bounds JSON request bodies.
const defaultMaxBodyBytes = 1 << 20

func main() {
	// A missing .env is fine; the environment wins over it.
	_ = godotenv.Load()

	cfg, err := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})
	defer log.Sync()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database FIRST
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	database, err := db.Connect(connectCtx, cfg)
	cancel()
	if err != nil {
		log.Fatal("failed to connect to database",
			zap.String("kind", db.KindOf(err).String()),
			zap.Error(err))
	}
	defer database.Close()
	log.Info("connected to database", zap.String("host", cfg.DBHost), zap.String("name", cfg.DBName))

	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.DatabaseURL(), log); err != nil {
			log.Fatal("migrations failed", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(database, cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API listening", zap.String("addr", srv.Addr), zap.Bool("tls", cfg.TLSEnabled()))
		if cfg.TLSEnabled() {
			errCh <- srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	// Start server LAST; stop on signal.
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
		}
	}
}

// newRouter wires repositories, handlers and middleware onto one chi router.
func newRouter(database *sql.DB, cfg config.Config, log *zap.Logger) http.Handler {
	if log == nil {
		log = zap.NewNop()
	}
	retry := db.NewRetrier(database, cfg.DBQueryTimeout, log)
	equipmentRepo := repo.NewEquipmentRepo(database, retry)
	auditRepo := repo.NewAuditRepo(database, retry)
	userRepo := repo.NewUserRepo(database, retry)

	equipment := &handlers.EquipmentHandler{
		Repo:           equipmentRepo,
		Audit:          auditRepo,
		Log:            log,
		FuzzyThreshold: cfg.FuzzyThreshold,
	}
	transfer := &handlers.TransferHandler{
		Repo:           equipmentRepo,
		Log:            log,
		FuzzyThreshold: cfg.FuzzyThreshold,
		MaxBytes:       cfg.ImportMaxBytes,
	}
	network := &handlers.NetworkHandler{
		Repo:           equipmentRepo,
		Log:            log,
		FuzzyThreshold: cfg.FuzzyThreshold,
		MaxEquipment:   cfg.GraphMaxEquipment,
	}
	reports := &handlers.ReportHandler{Repo: equipmentRepo, Log: log}
	audit := &handlers.AuditHandler{Repo: auditRepo, Log: log}
	users := &handlers.UserHandler{Repo: userRepo, Log: log}
	auth := &handlers.AuthHandler{
		UserRepo: userRepo,
		Secret:   []byte(cfg.JWTSecret),
		TokenTTL: time.Duration(cfg.JWTExpireHours) * time.Hour,
		Log:      log,
	}
	health := &handlers.HealthHandler{DB: database, Log: log}

	proxies, err := middleware.ParseProxies(cfg.TrustedProxies)
	if err != nil {
		log.Warn("ignoring trusted proxies", zap.Error(err))
	}

	importMax := cfg.ImportMaxBytes
	if importMax <= 0 {
		importMax = handlers.DefaultImportMaxBytes
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.Recoverer(log, nil))
	r.Use(middleware.RequestLog(log))
	r.Use(middleware.Prometheus)
	r.Use(middleware.SecurityHeaders(cfg.TLSEnabled(), middleware.APIContentSecurityPolicy))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	// Public
	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthRateLimiter(proxies).Middleware)
		r.Use(middleware.MaxBytes(defaultMaxBodyBytes))
		r.Post("/auth/register", auth.Register)
		r.Post("/auth/login", auth.Login)
	})

	// Protected
	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTMiddleware([]byte(cfg.JWTSecret)))

		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBytes(defaultMaxBodyBytes))

			r.Get("/equipment", equipment.List)
			r.Post("/equipment", equipment.Create)
			r.Post("/equipment/batch", equipment.Batch)
			r.Get("/equipment/{id}", equipment.Get)
			r.Put("/equipment/{id}", equipment.Update)
			r.Delete("/equipment/{id}", equipment.Delete)
			r.Get("/equipment/{id}/audit", equipment.History)

			r.Post("/search", equipment.Search)
			r.Get("/export", transfer.Export)
			r.Post("/export", transfer.ExportSearch)
			r.Get("/graph", network.Graph)
			r.Get("/stats", reports.Stats)
			r.Get("/lookup", reports.Lookup)
			r.Get("/audit", audit.List)
			r.Get("/users", users.List)
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.ImportRateLimiter(proxies).Middleware)
			r.Use(middleware.MaxBytes(importMax))
			r.Post("/import", transfer.Import)
		})
	})

	return r
}
