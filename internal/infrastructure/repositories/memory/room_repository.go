package memory

import (
	"context"
	"sync"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
)

type MemoryRoomRepository struct {
	rooms map[domain.RoomID]*domain.Room
	mu    sync.RWMutex
}

func NewMemoryRoomRepository() ports.RoomRepository {
	return &MemoryRoomRepository{
		rooms: make(map[domain.RoomID]*domain.Room),
	}
}

func (r *MemoryRoomRepository) Create(ctx context.Context, room *domain.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[room.ID]; exists {
		return domain.ErrRoomAlreadyExists
	}

	r.rooms[room.ID] = room.Clone()
	return nil
}

func (r *MemoryRoomRepository) Get(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	return room.Clone(), nil
}

func (r *MemoryRoomRepository) Update(ctx context.Context, id domain.RoomID, fn func(*domain.Room) error) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}

	// fn works on a copy so a failed update leaves the stored room untouched
	working := room.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}

	r.rooms[id] = working
	return working.Clone(), nil
}

func (r *MemoryRoomRepository) Delete(ctx context.Context, id domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rooms[id]; !exists {
		return domain.ErrRoomNotFound
	}

	delete(r.rooms, id)
	return nil
}

func (r *MemoryRoomRepository) ExpireIdle(ctx context.Context, before time.Time) ([]domain.RoomID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []domain.RoomID
	for id, room := range r.rooms {
		if room.LastActivity.Before(before) {
			delete(r.rooms, id)
			expired = append(expired, id)
		}
	}

	return expired, nil
}

func (r *MemoryRoomRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms), nil
}
