package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	schemaKey     = "peercall:schema"
	schemaLockKey = "peercall:schema:lock"
	schemaLockTTL = 30 * time.Second
)

type migration struct {
	version int
	name    string
	up      func(ctx context.Context, client *redis.Client) error
}

var migrations = []migration{
	{1, "prune orphaned active-room entries", pruneOrphanedRooms},
	{2, "drop legacy active-room index", dropLegacyIndex},
}

// SchemaVersion reports the last migration applied, 0 on a fresh server.
func SchemaVersion(ctx context.Context, client *redis.Client) (int, error) {
	v, err := client.HGet(ctx, schemaKey, "version").Int()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// Migrate applies pending migrations in order. Only one instance migrates at
// a time; the others proceed once the lock holder has finished or expired.
func Migrate(ctx context.Context, client *redis.Client, logger *zap.SugaredLogger) error {
	ok, err := client.SetNX(ctx, schemaLockKey, strconv.FormatInt(time.Now().UnixNano(), 10), schemaLockTTL).Result()
	if err != nil {
		return fmt.Errorf("lock schema: %w", err)
	}
	if !ok {
		logger.Infow("Schema migration running elsewhere, skipping")
		return nil
	}
	defer client.Del(context.WithoutCancel(ctx), schemaLockKey)

	current, err := SchemaVersion(ctx, client)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		logger.Infow("Applying migration", "version", m.version, "name", m.name)
		if err := m.up(ctx, client); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
		if err := client.HSet(ctx, schemaKey,
			"version", m.version,
			"applied_at", time.Now().UTC().Format(time.RFC3339),
		).Err(); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		current = m.version
	}

	logger.Debugw("Schema up to date", "version", current)
	return nil
}

// pruneOrphanedRooms drops index members whose room document has expired.
func pruneOrphanedRooms(ctx context.Context, client *redis.Client) error {
	members, err := client.ZRange(ctx, activeRoomsKey, 0, -1).Result()
	if err != nil || len(members) == 0 {
		return err
	}

	exists := make([]*redis.IntCmd, len(members))
	if _, err := client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, m := range members {
			exists[i] = pipe.Exists(ctx, roomKeyPrefix+m)
		}
		return nil
	}); err != nil {
		return err
	}

	var orphans []interface{}
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			orphans = append(orphans, members[i])
		}
	}
	if len(orphans) == 0 {
		return nil
	}
	return client.ZRem(ctx, activeRoomsKey, orphans...).Err()
}

// dropLegacyIndex removes the index kept under the room key prefix, which
// could collide with a room named "active".
func dropLegacyIndex(ctx context.Context, client *redis.Client) error {
	const legacy = roomKeyPrefix + "active"
	if t, err := client.Type(ctx, legacy).Result(); err != nil || t != "zset" {
		return err
	}
	return client.Del(ctx, legacy).Err()
}
