package distributed

import (
	"context"
	"fmt"
	"time"

	"peercall/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// SweepLeaseKey is held by the instance currently allowed to expire rooms.
const SweepLeaseKey = "peercall:lease:sweeper"

// renewScript extends the lease only while holder still owns it.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLease is a single-holder lease kept in one Redis key. It is not
// renewed in the background: holders call TryAcquire more often than ttl.
type RedisLease struct {
	client *redis.Client
	key    string
	holder string
	ttl    time.Duration
}

func NewRedisLease(client *redis.Client, key, holder string, ttl time.Duration) ports.Lease {
	return &RedisLease{client: client, key: key, holder: holder, ttl: ttl}
}

func (l *RedisLease) TryAcquire(ctx context.Context) (bool, error) {
	acquired, err := l.client.SetNX(ctx, l.key, l.holder, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lease %s: %w", l.key, err)
	}
	if acquired {
		return true, nil
	}

	renewed, err := renewScript.Run(ctx, l.client, []string{l.key}, l.holder, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to renew lease %s: %w", l.key, err)
	}
	return renewed == 1, nil
}

// Release drops the lease if this holder owns it. Releasing a lease held by
// someone else is a no-op.
func (l *RedisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.holder).Err(); err != nil {
		return fmt.Errorf("failed to release lease %s: %w", l.key, err)
	}
	return nil
}
