package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"qms/walkin-service/internal/auth"
	"qms/walkin-service/internal/config"
	"qms/walkin-service/internal/dashboard"
	"qms/walkin-service/internal/directory"
	"qms/walkin-service/internal/httpapi"
	"qms/walkin-service/internal/metrics"
	"qms/walkin-service/internal/queue"
	"qms/walkin-service/internal/storage"
	"qms/walkin-service/internal/telemetry"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg := config.Load()
	logger := telemetry.InitLogger("walkin-service", cfg.Env, cfg.LogLevel)
	shutdownTracing := telemetry.Setup("walkin-service")
	defer func() { _ = shutdownTracing(context.Background()) }()
	metrics.Register()

	serviceLoc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid service timezone")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	st, err := storage.Open(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("store init failed")
	}
	defer func() { _ = st.Close() }()

	engine := queue.NewEngine(st, queue.Options{
		Location: serviceLoc,
		Logger:   logger,
	})
	dir := directory.NewService(st, logger)

	dashboardOpts := dashboard.Options{CacheTTL: cfg.DashboardCacheTTL, Logger: logger}
	if cfg.RedisAddr != "" && cfg.DashboardCacheTTL > 0 {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer func() { _ = client.Close() }()
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable; dashboard cache will retry per request")
		}
		pingCancel()
		dashboardOpts.Cache = dashboard.NewRedisCache(client)
	}
	dash := dashboard.NewService(st, engine, dir, dashboardOpts)
	engine.SetNotifier(dash)
	dir.SetNotifier(dash)

	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		SessionPerMinute: cfg.ActorRateLimitPerMinute,
		SessionBurst:     cfg.ActorRateLimitBurst,
		TrustedProxies:   cfg.TrustedProxies,
	})
	handler := httpapi.NewHandler(httpapi.Options{
		Auth:      auth.NewService(st, auth.Options{SessionTTL: cfg.SessionTTL, Logger: logger}),
		Queue:     engine,
		Dashboard: dash,
		Directory: dir,
		Health:    st,
		Limiter:   limiter,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(handler.Routes())), "walkin-service"),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", server.Addr).Str("timezone", serviceLoc.String()).Msg("walkin-service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
}
