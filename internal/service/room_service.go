package service

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/stopka007/IoT-sub000/internal/apperr"
	"github.com/stopka007/IoT-sub000/internal/ids"
	"github.com/stopka007/IoT-sub000/internal/models"
	"github.com/stopka007/IoT-sub000/internal/repository"
)

type RoomService struct {
	store  repository.Store
	runner *Runner
}

func NewRoomService(store repository.Store, log zerolog.Logger) *RoomService {
	return &RoomService{store: store, runner: NewRunner(store, log)}
}

func (s *RoomService) List(ctx context.Context) ([]models.Room, error) {
	return s.store.Rooms().List(ctx)
}

func (s *RoomService) Get(ctx context.Context, id string) (models.Room, error) {
	return s.store.Rooms().GetByID(ctx, id)
}

type RoomInput struct {
	Name     *int
	Capacity *int
}

func (s *RoomService) Create(ctx context.Context, input RoomInput) (models.Room, error) {
	if input.Name == nil || input.Capacity == nil {
		return models.Room{}, apperr.BadRequest("name and capacity are required")
	}
	if *input.Capacity < 0 {
		return models.Room{}, apperr.BadRequest("capacity must not be negative")
	}
	room := models.Room{ID: ids.New(), Name: *input.Name, Capacity: *input.Capacity}
	if err := s.store.Rooms().Create(ctx, room); err != nil {
		return models.Room{}, err
	}
	return s.store.Rooms().GetByID(ctx, room.ID)
}

// Update renames or resizes a room. Patients reference rooms by number, so an
// occupied room cannot be renamed or shrunk below its occupancy.
func (s *RoomService) Update(ctx context.Context, id string, input RoomInput) (models.Room, error) {
	err := s.runner.Run(ctx, Command{
		Name: "update_room",
		Execute: func(ctx context.Context, tx repository.Store) error {
			room, err := tx.Rooms().GetByID(ctx, id)
			if err != nil {
				return err
			}
			room, err = tx.Rooms().LockByName(ctx, room.Name)
			if err != nil {
				return err
			}
			if input.Name != nil && *input.Name != room.Name {
				if room.Occupancy > 0 {
					return apperr.Conflict("room %d is occupied", room.Name)
				}
				room.Name = *input.Name
			}
			if input.Capacity != nil {
				if *input.Capacity < 0 {
					return apperr.BadRequest("capacity must not be negative")
				}
				if *input.Capacity < room.Occupancy {
					return apperr.Conflict("room %d holds %d patients", room.Name, room.Occupancy)
				}
				room.Capacity = *input.Capacity
			}
			return tx.Rooms().Update(ctx, room)
		},
	})
	if err != nil {
		return models.Room{}, err
	}
	return s.store.Rooms().GetByID(ctx, id)
}

func (s *RoomService) Delete(ctx context.Context, id string) error {
	return s.runner.Run(ctx, Command{
		Name: "delete_room",
		Execute: func(ctx context.Context, tx repository.Store) error {
			room, err := tx.Rooms().GetByID(ctx, id)
			if err != nil {
				return err
			}
			room, err = tx.Rooms().LockByName(ctx, room.Name)
			if err != nil {
				return err
			}
			if room.Occupancy > 0 {
				return apperr.Conflict("room %d is occupied", room.Name)
			}
			return tx.Rooms().Delete(ctx, id)
		},
	})
}
