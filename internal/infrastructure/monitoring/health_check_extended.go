package monitoring

import (
	"context"
	"time"

	"peercall/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

func (h *HealthChecker) AddRedisCheck(client *redis.Client, interval, timeout time.Duration) {
	h.AddCheck("redis", func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}, interval, timeout)
}

// AddRepositoryCheck probes the room store with a cheap count.
func (h *HealthChecker) AddRepositoryCheck(repo ports.RoomRepository, interval, timeout time.Duration) {
	h.AddCheck("rooms", func(ctx context.Context) error {
		_, err := repo.Count(ctx)
		return err
	}, interval, timeout)
}
