package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/resthouse-booking/cmd/mainconfig"
	"github.com/wolfman30/resthouse-booking/internal/api/router"
	"github.com/wolfman30/resthouse-booking/internal/app/bootstrap"
	appconfig "github.com/wolfman30/resthouse-booking/internal/config"
	"github.com/wolfman30/resthouse-booking/internal/http/handlers"
	"github.com/wolfman30/resthouse-booking/internal/observability/metrics"
	"github.com/wolfman30/resthouse-booking/internal/webchat"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

func main() {
	if err := appconfig.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}
	cfg := appconfig.Load()

	logger := logging.NewWithOptions(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat})
	logger.Info("starting resthouse booking server",
		"env", cfg.Env,
		"port", cfg.Port,
		"timezone", cfg.Timezone,
	)

	ctx := context.Background()
	metricsHandler, convMetrics := setupMetrics()
	deps := bootstrap.Deps{Logger: logger, Metrics: convMetrics}

	pool := bootstrap.ConnectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool != nil {
		defer pool.Close()
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	bookingSvc, err := bootstrap.BuildBookingService(cfg, bootstrap.BuildBookingRepository(pool, logger), deps)
	if err != nil {
		logger.Error("failed to build booking service", "error", err)
		os.Exit(1)
	}

	sender, provider := bootstrap.BuildEmailSender(cfg, buildSESClient(ctx, cfg, logger), logger)
	logger.Info("email sender configured", "provider", provider)
	mailer := bootstrap.BuildBookingMailer(cfg, sender, deps)

	fallback, closeFallback := bootstrap.BuildFallbackResponder(ctx, cfg, logger)
	defer closeFallback()

	engine, err := bootstrap.BuildEngine(cfg, bootstrap.EngineParts{
		Bookings: bookingSvc,
		Mailer:   mailer,
		Sessions: bootstrap.BuildSessionStore(redisClient, cfg),
		Fallback: fallback,
	}, deps)
	if err != nil {
		logger.Error("failed to build conversation engine", "error", err)
		os.Exit(1)
	}

	if cfg.AdminPasswordHash == "" && cfg.AdminPassword == "" {
		logger.Warn("no admin password configured; admin login is disabled")
	}

	r := router.New(&router.Config{
		Logger:         logger,
		Metrics:        convMetrics,
		MetricsHandler: metricsHandler,
		Chat:           webchat.NewHandler(engine, bootstrap.BuildTranscriptStore(redisClient, cfg), logger),
		Bookings:       handlers.NewBookingHandler(bookingSvc, mailer, logger),
		Admin: handlers.NewAdminBookingsHandler(bookingSvc, handlers.AdminCredentials{
			Username:     cfg.AdminUsername,
			Password:     cfg.AdminPassword,
			PasswordHash: cfg.AdminPasswordHash,
			JWTSecret:    cfg.AdminJWTSecret,
			SessionTTL:   cfg.AdminSessionTTL,
			SecureCookie: cfg.Env == "production",
		}, logger),
		AdminJWTSecret:     cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimit:          cfg.ChatRateLimit,
		RateBurst:          cfg.ChatRateBurst,
		HealthChecks:       healthChecks(pool, redisClient),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// setupMetrics builds a private registry so /metrics only exposes this process.
func setupMetrics() (http.Handler, *metrics.ConversationMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewConversationMetrics(reg)
}

// buildSESClient returns nil unless SES is the selected email provider.
func buildSESClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) *sesv2.Client {
	if cfg.EmailProvider != "ses" {
		return nil
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		return nil
	}
	return sesv2.NewFromConfig(awsCfg)
}

func healthChecks(pool *pgxpool.Pool, redisClient *redis.Client) map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if pool != nil {
		checks["postgres"] = pool.Ping
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
