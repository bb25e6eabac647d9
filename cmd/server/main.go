package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ippclub/dora-registry/internal/config"
	"github.com/ippclub/dora-registry/internal/handler"
	"github.com/ippclub/dora-registry/internal/logger"
	"github.com/ippclub/dora-registry/internal/service"
	"github.com/ippclub/dora-registry/internal/store"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := pflag.StringP("config", "c", config.DefaultPath, "path to the configuration file")
	pflag.Parse()

	// Load configuration
	cfg, err := config.LoadFromFile(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.InitLogger(cfg)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	st, err := store.NewSQLiteStore(cfg.Storage.Path, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	syncService := service.NewSyncService(cfg, st, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Import once before serving so the index matches the storage directory
	if _, err := syncService.SyncAll(ctx); err != nil {
		log.Error("initial sync failed", zap.Error(err))
	}

	api, err := handler.NewAPI(cfg, log, st, syncService)
	if err != nil {
		log.Fatal("failed to create API handler", zap.Error(err))
	}
	defer api.Close()

	r := chi.NewRouter()
	api.RegisterRoutes(r)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()

	// Start periodic sync
	go func() {
		ticker := time.NewTicker(cfg.Sync.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := syncService.SyncAll(ctx); err != nil {
					log.Error("periodic sync failed", zap.Error(err))
				} else {
					log.Info("periodic sync completed successfully")
				}
			}
		}
	}()

	<-ctx.Done()

	// Graceful shutdown
	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited properly")
}
