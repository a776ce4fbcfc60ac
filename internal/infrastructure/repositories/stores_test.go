package repositories

import (
	"context"
	"os"
	"testing"
	"time"

	"peercall/internal/core/domain"
	"peercall/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpen_FallsBackToMemory(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = "127.0.0.1:1" // nothing listens here

	s := Open(context.Background(), cfg, zap.NewNop().Sugar())
	defer s.Close()

	assert.Equal(t, BackendMemory, s.Backend())
	assert.Nil(t, s.Redis)
	require.NoError(t, s.Rooms.Create(context.Background(), domain.NewRoom("abc1234", time.Now())))
}

func TestOpen_MemoryWhenDisabled(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = false

	s := Open(context.Background(), cfg, zap.NewNop().Sugar())
	assert.Equal(t, BackendMemory, s.Backend())
	assert.NoError(t, s.Close())
}

func TestOpen_UsesRedisWhenReachable(t *testing.T) {
	addr := os.Getenv("PEERCALL_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("PEERCALL_TEST_REDIS_ADDR not set")
	}
	cfg := config.DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = addr
	cfg.Redis.DB = 15

	s := Open(context.Background(), cfg, zap.NewNop().Sugar())
	defer s.Close()

	assert.Equal(t, BackendRedis, s.Backend())
	n, err := s.Rooms.Count(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 0)
}
