package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type ClientOptions struct {
	Address  string
	Password string
	DB       int
	PoolSize int
}

const connectTimeout = 5 * time.Second

// Connect dials Redis, verifies it answers and brings the key layout up to
// date before any repository touches it.
func Connect(ctx context.Context, opts ClientOptions, logger *zap.SugaredLogger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:            opts.Address,
		Password:        opts.Password,
		DB:              opts.DB,
		PoolSize:        opts.PoolSize,
		MinIdleConns:    2,
		DialTimeout:     connectTimeout,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		MaxRetries:      2,
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 500 * time.Millisecond,
	})

	setupCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if err := client.Ping(setupCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Address, err)
	}
	if err := Migrate(setupCtx, client, logger); err != nil {
		client.Close()
		return nil, fmt.Errorf("migrate redis: %w", err)
	}

	logger.Infow("Connected to Redis", "address", opts.Address, "db", opts.DB, "pool_size", opts.PoolSize)
	return client, nil
}
