package rooms

import (
	"context"
	"fmt"
	"time"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Domenick1991/roombooking/internal/repository"
	"github.com/sirupsen/logrus"
)

type RoomUseCase interface {
	List(ctx context.Context, filter domain.RoomFilter) ([]domain.RoomView, error)
	Get(ctx context.Context, id string) (*domain.Room, error)
}

type RoomCache interface {
	GetRooms(ctx context.Context) ([]domain.Room, error)
	SetRooms(ctx context.Context, rooms []domain.Room) error
}

type AvailabilityChecker interface {
	IsAvailable(ctx context.Context, roomID string, start, end time.Time) (bool, error)
}

type RoomService struct {
	repo         repository.RoomRepository
	cache        RoomCache
	availability AvailabilityChecker
	log          logrus.FieldLogger
}

// NewRoomService: cache may be nil.
func NewRoomService(repo repository.RoomRepository, cache RoomCache, availability AvailabilityChecker, logger logrus.FieldLogger) *RoomService {
	return &RoomService{repo: repo, cache: cache, availability: availability, log: logger}
}

func (s *RoomService) List(ctx context.Context, filter domain.RoomFilter) ([]domain.RoomView, error) {
	if filter.HasRange() {
		if filter.StartTime == nil || filter.EndTime == nil {
			return nil, fmt.Errorf("%w: start_time and end_time must be given together", domain.ErrValidation)
		}
		if !filter.StartTime.Before(*filter.EndTime) {
			return nil, fmt.Errorf("%w: start_time must be before end_time", domain.ErrValidation)
		}
	}

	rooms, err := s.rooms(ctx, filter)
	if err != nil {
		return nil, err
	}

	views := make([]domain.RoomView, 0, len(rooms))
	for _, room := range rooms {
		view := domain.RoomView{Room: room}
		if filter.HasRange() {
			free, err := s.availability.IsAvailable(ctx, room.ID, *filter.StartTime, *filter.EndTime)
			if err != nil {
				return nil, err
			}
			view.Available = &free
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *RoomService) rooms(ctx context.Context, filter domain.RoomFilter) ([]domain.Room, error) {
	if !filter.Unfiltered() || s.cache == nil {
		return s.repo.List(ctx, filter)
	}

	cached, err := s.cache.GetRooms(ctx)
	if err != nil {
		s.log.WithError(err).Warn("rooms cache read failed")
	} else if cached != nil {
		return cached, nil
	}

	rooms, err := s.repo.List(ctx, domain.RoomFilter{})
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetRooms(ctx, rooms); err != nil {
		s.log.WithError(err).Warn("rooms cache write failed")
	}
	return rooms, nil
}

func (s *RoomService) Get(ctx context.Context, id string) (*domain.Room, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: room_id is required", domain.ErrValidation)
	}
	return s.repo.GetByID(ctx, id)
}

var _ RoomUseCase = (*RoomService)(nil)
