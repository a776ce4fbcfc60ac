package repositories

import (
	"context"

	"peercall/internal/core/ports"
	"peercall/internal/infrastructure/repositories/memory"
	redisrepo "peercall/internal/infrastructure/repositories/redis"
	"peercall/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Stores is the room storage chosen at startup. Redis is nil when rooms
// live in process memory.
type Stores struct {
	Rooms ports.RoomRepository
	Redis *redis.Client
}

// Open uses Redis when it is enabled and reachable and otherwise keeps rooms
// in memory, so a single instance still runs without it.
func Open(ctx context.Context, cfg *config.Config, logger *zap.SugaredLogger) *Stores {
	s := &Stores{}

	if cfg.Redis.Enabled {
		client, err := redisrepo.Connect(ctx, redisrepo.ClientOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}, logger)
		if err != nil {
			logger.Warnw("Redis unavailable, keeping rooms in memory", "error", err)
		} else {
			s.Redis = client
			s.Rooms = redisrepo.NewRedisRoomRepository(client, cfg.Rooms.RetentionTTL)
		}
	}
	if s.Rooms == nil {
		s.Rooms = memory.NewMemoryRoomRepository()
	}

	logger.Infow("Room storage ready", "backend", s.Backend())
	return s
}

func (s *Stores) Backend() string {
	if s.Redis != nil {
		return BackendRedis
	}
	return BackendMemory
}

func (s *Stores) Close() error {
	if s.Redis == nil {
		return nil
	}
	return s.Redis.Close()
}
