package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/retry"
	"peercall/pkg/utils"

	"github.com/redis/go-redis/v9"
)

const (
	roomKeyPrefix  = "peercall:room:"
	activeRoomsKey = "peercall:rooms:active"
	maxTxRetries   = 5
)

type RedisRoomRepository struct {
	client *redis.Client
	ttl    time.Duration
	clock  utils.Clock
}

// NewRedisRoomRepository stores each room as a JSON document whose TTL is
// refreshed on every write; a sorted set indexes rooms by last activity.
func NewRedisRoomRepository(client *redis.Client, ttl time.Duration) ports.RoomRepository {
	return &RedisRoomRepository{
		client: client,
		ttl:    ttl,
		clock:  utils.RealClock(),
	}
}

type roomRecord struct {
	ID           domain.RoomID                      `json:"id"`
	Participants []domain.ParticipantID             `json:"participants,omitempty"`
	Offer        *domain.SessionDescription         `json:"offer,omitempty"`
	Answer       *domain.SessionDescription         `json:"answer,omitempty"`
	Candidates   map[domain.Side][]domain.Candidate `json:"candidates,omitempty"`
	CreatedAt    time.Time                          `json:"created_at"`
	LastActivity time.Time                          `json:"last_activity"`
}

func encodeRoom(room *domain.Room) ([]byte, error) {
	return json.Marshal(roomRecord{
		ID:           room.ID,
		Participants: room.Participants,
		Offer:        room.Offer,
		Answer:       room.Answer,
		Candidates:   room.Candidates,
		CreatedAt:    room.CreatedAt,
		LastActivity: room.LastActivity,
	})
}

func decodeRoom(data []byte) (*domain.Room, error) {
	var rec roomRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	room := &domain.Room{
		ID:           rec.ID,
		Participants: rec.Participants,
		Offer:        rec.Offer,
		Answer:       rec.Answer,
		Candidates:   rec.Candidates,
		CreatedAt:    rec.CreatedAt,
		LastActivity: rec.LastActivity,
	}
	if room.Candidates == nil {
		room.Candidates = make(map[domain.Side][]domain.Candidate)
	}
	return room, nil
}

func (r *RedisRoomRepository) roomKey(id domain.RoomID) string {
	return roomKeyPrefix + string(id)
}

func activityScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (r *RedisRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	data, err := encodeRoom(room)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	// SETNX is the atomic check-and-insert
	ok, err := r.client.SetNX(ctx, r.roomKey(room.ID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create room in Redis: %w", err)
	}
	if !ok {
		return domain.ErrRoomAlreadyExists
	}

	if err := r.client.ZAdd(ctx, activeRoomsKey, redis.Z{
		Score:  activityScore(room.LastActivity),
		Member: string(room.ID),
	}).Err(); err != nil {
		return fmt.Errorf("failed to index room: %w", err)
	}

	return nil
}

func (r *RedisRoomRepository) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	data, err := r.client.Get(ctx, r.roomKey(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room from Redis: %w", err)
	}
	return decodeRoom(data)
}

func (r *RedisRoomRepository) Update(ctx context.Context, id domain.RoomID, fn func(*domain.Room) error) (*domain.Room, error) {
	key := r.roomKey(id)

	// optimistic transaction, retried when another writer touched the key
	policy := retry.Fixed(maxTxRetries, 10*time.Millisecond)
	policy.Jitter = true
	policy.Retryable = func(err error) bool { return errors.Is(err, redis.TxFailedErr) }

	updated, err := retry.DoValue(ctx, policy, func() (*domain.Room, error) {
		var result *domain.Room
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err == redis.Nil {
				return domain.ErrRoomNotFound
			}
			if err != nil {
				return err
			}

			room, err := decodeRoom(data)
			if err != nil {
				return err
			}
			if err := fn(room); err != nil {
				return err
			}

			payload, err := encodeRoom(room)
			if err != nil {
				return err
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, r.ttl)
				pipe.ZAdd(ctx, activeRoomsKey, redis.Z{
					Score:  activityScore(room.LastActivity),
					Member: string(room.ID),
				})
				return nil
			})
			if err != nil {
				return err
			}
			result = room
			return nil
		}, key)
		return result, err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *RedisRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	n, err := r.client.Del(ctx, r.roomKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete room from Redis: %w", err)
	}
	if err := r.client.ZRem(ctx, activeRoomsKey, string(id)).Err(); err != nil {
		return fmt.Errorf("failed to unindex room: %w", err)
	}
	if n == 0 {
		return domain.ErrRoomNotFound
	}
	return nil
}

func (r *RedisRoomRepository) ExpireIdle(ctx context.Context, before time.Time) ([]domain.RoomID, error) {
	members, err := r.client.ZRangeByScore(ctx, activeRoomsKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list idle rooms: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	pipe := r.client.TxPipeline()
	ids := make([]domain.RoomID, 0, len(members))
	for _, m := range members {
		id := domain.RoomID(m)
		ids = append(ids, id)
		pipe.Del(ctx, r.roomKey(id))
		pipe.ZRem(ctx, activeRoomsKey, m)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("failed to expire rooms: %w", err)
	}

	return ids, nil
}

func (r *RedisRoomRepository) Count(ctx context.Context) (int, error) {
	// keys dropped by TTL leave stale index entries behind
	cutoff := r.clock.Now().Add(-r.ttl)
	if err := r.client.ZRemRangeByScore(ctx, activeRoomsKey, "-inf",
		"("+strconv.FormatInt(cutoff.UnixMilli(), 10)).Err(); err != nil {
		return 0, fmt.Errorf("failed to prune room index: %w", err)
	}

	n, err := r.client.ZCard(ctx, activeRoomsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count rooms: %w", err)
	}
	return int(n), nil
}
