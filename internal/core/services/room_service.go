package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peercall/internal/core/domain"
	"peercall/internal/core/ports"
	"peercall/pkg/tracing"
	"peercall/pkg/utils"

	"go.uber.org/zap"
)

type RoomServiceConfig struct {
	RetentionTTL time.Duration
	// SweepLease, when set, gates each sweep so that instances sharing a
	// repository do not all expire rooms at once.
	SweepLease ports.Lease
}

type roomService struct {
	repo    ports.RoomRepository
	cfg     RoomServiceConfig
	clock   utils.Clock
	metrics ports.SignalingMetrics
	logger  *zap.SugaredLogger
}

// NewRoomService wires the registry. metrics may be nil.
func NewRoomService(
	repo ports.RoomRepository,
	cfg RoomServiceConfig,
	clock utils.Clock,
	metrics ports.SignalingMetrics,
	logger *zap.SugaredLogger,
) ports.RoomService {
	if clock == nil {
		clock = utils.RealClock()
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &roomService{
		repo:    repo,
		cfg:     cfg,
		clock:   clock,
		metrics: metrics,
		logger:  logger,
	}
}

func (s *roomService) CreateRoom(ctx context.Context, id domain.RoomID, participant domain.ParticipantID) (_ *domain.Room, err error) {
	ctx, span := tracing.TraceRoomOperation(ctx, "create", string(id))
	defer func() { tracing.End(span, err) }()

	room := domain.NewRoom(id, s.clock.Now())
	if participant != "" {
		room.Participants = append(room.Participants, participant)
	}

	if err := s.create(ctx, room); err != nil {
		return nil, err
	}

	s.metrics.RoomCreated()
	s.logger.Infow("room created", "room_id", id, "participant_id", participant)
	return room, nil
}

func (s *roomService) JoinRoom(ctx context.Context, id domain.RoomID, participant domain.ParticipantID) (_ *domain.Room, err error) {
	ctx, span := tracing.TraceRoomOperation(ctx, "join", string(id))
	defer func() { tracing.End(span, err) }()

	if participant == "" {
		// poll clients carry no identity; joining only checks existence
		return s.touch(ctx, id, nil)
	}

	room, err := s.touch(ctx, id, func(r *domain.Room) error {
		if r.HasParticipant(participant) {
			return nil
		}
		if r.IsFull() {
			return domain.ErrRoomFull
		}
		r.Participants = append(r.Participants, participant)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Infow("participant joined room", "room_id", id, "participant_id", participant)
	return room, nil
}

func (s *roomService) LeaveRoom(ctx context.Context, id domain.RoomID, participant domain.ParticipantID) (_ *domain.Room, err error) {
	ctx, span := tracing.TraceRoomOperation(ctx, "leave", string(id))
	defer func() { tracing.End(span, err) }()

	room, err := s.touch(ctx, id, func(r *domain.Room) error {
		r.RemoveParticipant(participant)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(room.Participants) == 0 {
		if err := s.repo.Delete(ctx, id); err != nil && !errors.Is(err, domain.ErrRoomNotFound) {
			return nil, fmt.Errorf("failed to delete empty room: %w", err)
		}
		s.metrics.RoomsClosed(1)
		s.logger.Infow("room closed", "room_id", id)
	}

	return room, nil
}

func (s *roomService) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	room, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	// a room past retention is gone even if the sweeper has not run yet
	if room.Expired(s.clock.Now(), s.cfg.RetentionTTL) {
		return nil, domain.ErrRoomNotFound
	}
	return room, nil
}

// PublishOffer starts a new negotiation round; the previous answer and
// candidates belong to the old round and are discarded.
func (s *roomService) PublishOffer(ctx context.Context, id domain.RoomID, sd domain.SessionDescription) error {
	_, err := s.touch(ctx, id, func(r *domain.Room) error {
		r.Offer = &sd
		r.Answer = nil
		r.Candidates = make(map[domain.Side][]domain.Candidate)
		return nil
	})
	return err
}

func (s *roomService) PublishAnswer(ctx context.Context, id domain.RoomID, sd domain.SessionDescription) error {
	_, err := s.touch(ctx, id, func(r *domain.Room) error {
		r.Answer = &sd
		return nil
	})
	return err
}

func (s *roomService) AddCandidate(ctx context.Context, id domain.RoomID, side domain.Side, c domain.Candidate) error {
	if !side.Valid() {
		return fmt.Errorf("%w: unknown candidate side %q", domain.ErrInvalidMessage, side)
	}
	_, err := s.touch(ctx, id, func(r *domain.Room) error {
		r.Candidates[side] = append(r.Candidates[side], c)
		return nil
	})
	return err
}

func (s *roomService) Offer(ctx context.Context, id domain.RoomID) (*domain.SessionDescription, error) {
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	return room.Offer, nil
}

func (s *roomService) Answer(ctx context.Context, id domain.RoomID) (*domain.SessionDescription, error) {
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	return room.Answer, nil
}

func (s *roomService) Candidates(ctx context.Context, id domain.RoomID, side domain.Side) ([]domain.Candidate, error) {
	if !side.Valid() {
		return nil, fmt.Errorf("%w: unknown candidate side %q", domain.ErrInvalidMessage, side)
	}
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	return room.Candidates[side], nil
}

// Sweep drops rooms idle for longer than the retention window, whether or
// not a call is still negotiating in them.
func (s *roomService) Sweep(ctx context.Context, now time.Time) (int, error) {
	expired, err := s.repo.ExpireIdle(ctx, now.Add(-s.cfg.RetentionTTL))
	if err != nil {
		return 0, fmt.Errorf("failed to expire rooms: %w", err)
	}
	if len(expired) > 0 {
		s.metrics.RoomsExpired(len(expired))
		s.logger.Infow("expired idle rooms", "count", len(expired), "rooms", expired)
	}
	return len(expired), nil
}

func (s *roomService) RunSweeper(ctx context.Context, interval time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(interval):
			if !s.holdsSweepLease(ctx) {
				continue
			}
			if _, err := s.Sweep(ctx, s.clock.Now()); err != nil {
				s.logger.Warnw("room sweep failed", "error", err)
			}
		}
	}
}

func (s *roomService) holdsSweepLease(ctx context.Context) bool {
	if s.cfg.SweepLease == nil {
		return true
	}
	ok, err := s.cfg.SweepLease.TryAcquire(ctx)
	if err != nil {
		s.logger.Warnw("sweep lease unavailable", "error", err)
		return false
	}
	if !ok {
		s.logger.Debugw("another instance holds the sweep lease")
	}
	return ok
}

// touch applies fn and refreshes the activity timestamp. Rooms already past
// retention are treated as missing.
// create inserts room, taking over an id whose previous room is past
// retention but not swept yet. The takeover runs inside Update so it cannot
// clobber a room another creator has just put there.
func (s *roomService) create(ctx context.Context, room *domain.Room) error {
	err := s.repo.Create(ctx, room)
	if !errors.Is(err, domain.ErrRoomAlreadyExists) {
		return err
	}

	_, err = s.repo.Update(ctx, room.ID, func(r *domain.Room) error {
		if !r.Expired(room.LastActivity, s.cfg.RetentionTTL) {
			return domain.ErrRoomAlreadyExists
		}
		*r = *room.Clone()
		return nil
	})
	if errors.Is(err, domain.ErrRoomNotFound) {
		// swept between the two calls
		return s.repo.Create(ctx, room)
	}
	if err == nil {
		s.logger.Infow("replaced expired room", "room_id", room.ID)
	}
	return err
}

func (s *roomService) touch(ctx context.Context, id domain.RoomID, fn func(*domain.Room) error) (*domain.Room, error) {
	now := s.clock.Now()
	return s.repo.Update(ctx, id, func(r *domain.Room) error {
		if r.Expired(now, s.cfg.RetentionTTL) {
			return domain.ErrRoomNotFound
		}
		if fn != nil {
			if err := fn(r); err != nil {
				return err
			}
		}
		r.LastActivity = now
		return nil
	})
}

type nopMetrics struct{}

func (nopMetrics) RoomCreated()                    {}
func (nopMetrics) RoomsClosed(int)                 {}
func (nopMetrics) RoomsExpired(int)                {}
func (nopMetrics) ParticipantConnected()           {}
func (nopMetrics) ParticipantDisconnected()        {}
func (nopMetrics) SignalRelayed(domain.SignalType) {}
func (nopMetrics) SignalingError(string)           {}
func (nopMetrics) PollRequest(string)              {}
