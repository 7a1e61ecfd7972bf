package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/resthouse-booking/internal/bookings"
	appconfig "github.com/wolfman30/resthouse-booking/internal/config"
	"github.com/wolfman30/resthouse-booking/internal/conversation"
	"github.com/wolfman30/resthouse-booking/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// ConnectPostgresPool opens a pgx pool, or returns nil for an empty URL or an
// unreachable database.
func ConnectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Error("postgres not reachable", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

// BuildBookingRepository prefers Postgres and falls back to the in-memory
// repository, which loses data on restart.
func BuildBookingRepository(pool *pgxpool.Pool, logger *logging.Logger) bookings.Repository {
	if pool != nil {
		return bookings.NewPostgresRepository(pool)
	}
	if logger != nil {
		logger.Warn("DATABASE_URL not set; bookings are kept in memory")
	}
	return bookings.NewMemoryRepository()
}

// BuildSessionStore returns the Redis session store when Redis is available.
func BuildSessionStore(redisClient *redis.Client, cfg *appconfig.Config) conversation.SessionStore {
	if redisClient == nil {
		return conversation.NewMemorySessionStore()
	}
	return conversation.NewRedisSessionStore(redisClient, cfg.SessionTTL)
}

// BuildTranscriptStore returns the chat transcript store, or nil without Redis.
func BuildTranscriptStore(redisClient *redis.Client, cfg *appconfig.Config) *conversation.TranscriptStore {
	if redisClient == nil {
		return nil
	}
	return conversation.NewTranscriptStore(redisClient, cfg.SessionTTL)
}
