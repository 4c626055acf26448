package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/zatekoja/onesystem-clinic/internal/api/handlers"
	"github.com/zatekoja/onesystem-clinic/internal/api/middleware"
	"github.com/zatekoja/onesystem-clinic/internal/bootstrap"
	"github.com/zatekoja/onesystem-clinic/internal/domain/entities"
	"github.com/zatekoja/onesystem-clinic/internal/infrastructure/observability"
	"github.com/zatekoja/onesystem-clinic/pkg/config"
	"github.com/zatekoja/onesystem-clinic/pkg/secrets"
)

func main() {
	if _, err := secrets.ApplyFromEnv(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load secrets: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	observability.InitLogger(cfg.OTEL.ServiceName+"-sse", cfg.App.Env, cfg.App.LogLevel)

	if !cfg.Redis.Enabled {
		log.Warn().Msg("Redis disabled; the SSE server only sees events published in this process")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.Build(ctx, cfg, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize clinic core")
	}
	defer rt.Close()

	if err := rt.Core.Bus.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to subscribe to clinic channels")
	}
	go rt.Core.Bus.WatchMarkers(ctx, cfg.Bus.MarkerPollInterval, entities.Topics()...)

	sseHandler := handlers.NewSSEHandler(rt.Core.Bus)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.HandleFunc("GET /api/stream/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"connected_clients": %d}`, sseHandler.ClientCount())
	})
	mux.HandleFunc("GET /api/stream/{topic}", sseHandler.Stream)

	var handler http.Handler = mux
	handler = middleware.LoggingMiddleware(handler)
	handler = middleware.CORSMiddleware(cfg.Server.AllowedOrigins)(handler)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info().Str("addr", serverAddr).Msg("SSE server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("SSE server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("SSE server shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during SSE server shutdown")
	}
	log.Info().Msg("SSE server stopped")
}
