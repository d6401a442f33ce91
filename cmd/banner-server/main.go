package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"
	"github.com/tendant/simple-banners/pkg/simplebanners/api"
	"github.com/tendant/simple-banners/pkg/simplebanners/config"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file; environment variables override it")
	flag.Parse()

	serverConfig, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("Failed to load server configuration", "err", err)
		os.Exit(1)
	}

	logger := newLogger(serverConfig.Environment)
	slog.SetDefault(logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	ctx := context.Background()
	components, err := serverConfig.BuildService(ctx, reg, logger)
	if err != nil {
		slog.Error("Failed to build service", "err", err)
		os.Exit(1)
	}
	defer components.Close()

	handler, err := routes(serverConfig, components, reg, logger)
	if err != nil {
		slog.Error("Failed to build routes", "err", err)
		os.Exit(1)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", serverConfig.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		dbType, _ := serverConfig.DatabaseType()
		slog.Info("Banner server starting",
			"port", serverConfig.Port,
			"env", serverConfig.Environment,
			"database", dbType,
			"export", serverConfig.ExportURL != "",
			"redis", serverConfig.RedisURL != "")

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "err", err)
	}
	slog.Info("Server exiting")
}

func loadConfig(path string) (*config.ServerConfig, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

func newLogger(environment string) *slog.Logger {
	if environment == "production" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// routes mounts health checks, /metrics and the banner API. Admin routes
// are guarded by the API key when one is configured.
func routes(cfg *config.ServerConfig, components *config.Components, reg *prometheus.Registry, logger *slog.Logger) (http.Handler, error) {
	routerConfig := api.RouterConfig{
		PageSize:   cfg.DefaultPageSize,
		LiveMaxAge: 30 * time.Second,
	}

	if cfg.APIKeySHA256 != "" {
		apiKeyMiddleware, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{
				"admin": cfg.APIKeySHA256,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize API key middleware: %w", err)
		}
		routerConfig.AdminMiddleware = append(routerConfig.AdminMiddleware, apiKeyMiddleware)
	} else {
		logger.Warn("No API key configured; admin routes are unauthenticated")
	}

	r := chi.NewRouter()
	r.Use(api.LoggingMiddleware(logger))

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Mount("/", api.NewRouter(components.Service, routerConfig))

	return r, nil
}
