package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/crucial707/equipment-manager/internal/config"
	"github.com/crucial707/equipment-manager/internal/logger"
	"github.com/crucial707/equipment-manager/internal/scheduler"
	"github.com/crucial707/equipment-manager/internal/session"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	log := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Output: cfg.LogOutput})
	defer log.Sync()
	if err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := session.NewStore(ctx, cfg, session.WithLogger(log))
	if err != nil {
		log.Fatal("session store unavailable", zap.Error(err))
	}
	defer store.Close()

	// Redis expires keys itself; only the memory store needs sweeping.
	if mem, ok := store.(*session.MemoryStore); ok {
		if _, err := scheduler.Start(ctx, log, scheduler.SessionSweeper(mem, log)); err != nil {
			log.Fatal("scheduler failed to start", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:              ":" + cfg.WebPort,
		Handler:           newServer(cfg, store, log).routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("web UI listening",
			zap.String("addr", srv.Addr),
			zap.String("api", cfg.APIURL),
			zap.Bool("tls", cfg.TLSEnabled()))
		if cfg.TLSEnabled() {
			errCh <- srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

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
