package ports

import (
	"context"
	"time"

	"peercall/internal/core/domain"
)

// RoomRepository stores rooms. Implementations return copies; callers mutate
// through Update.
type RoomRepository interface {
	// Create inserts room atomically, failing with domain.ErrRoomAlreadyExists.
	Create(ctx context.Context, room *domain.Room) error
	Get(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	// Update applies fn to the stored room under the repository's own
	// concurrency control and persists the result. An error from fn aborts
	// the update and is returned unchanged.
	Update(ctx context.Context, id domain.RoomID, fn func(*domain.Room) error) (*domain.Room, error)
	Delete(ctx context.Context, id domain.RoomID) error
	// ExpireIdle removes rooms whose last activity is before the cutoff.
	ExpireIdle(ctx context.Context, before time.Time) ([]domain.RoomID, error)
	Count(ctx context.Context) (int, error)
}
