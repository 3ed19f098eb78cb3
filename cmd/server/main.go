package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"stream-proxy/internal/platform/config"
	"stream-proxy/internal/platform/logger"
	"stream-proxy/internal/platform/metrics"
	"stream-proxy/internal/proxy"

	"github.com/go-chi/chi/v5"
)

const shutdownTimeout = 10 * time.Second

func main() {
	_ = config.Load()

	port := config.GetEnv("PORT", "8080")
	dataDir := config.GetEnv("DATA_DIR", "data/streams")
	jwtSecret := config.GetEnv("JWT_SECRET", "")
	keyAuthToken := config.GetEnv("KEY_AUTH_TOKEN", "")
	naming := proxy.ParseNamingStrategy(config.GetEnv("SEGMENT_NAMING", "path"))

	tokenTTL := config.GetEnvDuration("TOKEN_TTL", proxy.DefaultTokenTTL)
	fetchTimeout := config.GetEnvDuration("FETCH_TIMEOUT", proxy.DefaultFetchTimeout)
	refreshInterval := config.GetEnvDuration("REFRESH_INTERVAL", proxy.DefaultRefreshInterval)
	refreshWindow := config.GetEnvDuration("REFRESH_WINDOW", proxy.DefaultRefreshWindow)
	refreshConcurrency := config.GetEnvInt("REFRESH_CONCURRENCY", proxy.DefaultRefreshConcurrency)
	cleanupInterval := config.GetEnvDuration("CLEANUP_INTERVAL", proxy.DefaultCleanupInterval)
	sessionTTL := config.GetEnvDuration("SESSION_TTL", proxy.DefaultSessionTTL)

	log := logger.NewFromEnv()

	issuer := proxy.NewIssuer([]byte(jwtSecret), tokenTTL)
	artifacts := proxy.NewArtifacts(dataDir)
	registry := proxy.NewRegistry(proxy.NewInMemoryStore(), artifacts, log)
	fetcher := proxy.NewFetcher(fetchTimeout)
	segments := proxy.NewSegmentProxy(fetcher, keyAuthToken)
	svc := proxy.NewService(issuer, registry, fetcher, segments, artifacts, naming, log)
	met := metrics.New()
	h := proxy.NewHandler(svc, log, met)

	r := chi.NewRouter()
	r.Use(logger.RequestLogger(log))
	r.Use(metrics.RequestMiddleware(met))
	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		met.Handler(func() { met.SetActiveSessions(registry.ActiveSessionCount()) }).ServeHTTP(w, req)
	})
	h.Routes(r)

	bg, stopBg := context.WithCancel(context.Background())
	refreshSched := proxy.NewRefreshScheduler(registry, svc, refreshInterval, refreshWindow, int64(refreshConcurrency), log, met)
	cleanupSched := proxy.NewCleanupScheduler(registry, cleanupInterval, sessionTTL, log, met)
	go refreshSched.Run(bg)
	go cleanupSched.Run(bg)

	addr := ":" + port
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	log.Info("server starting",
		"port", port,
		"data_dir", dataDir,
		"segment_naming", string(naming),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutdown signal received, draining connections")
	stopBg()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
