package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/stopka007/IoT-sub000/internal/models"
)

type RoomRepository struct {
	db DBTX
}

// Occupancy counts active patients only.
const roomSelect = `
	SELECT r.id, r.name, r.capacity,
	       (SELECT COUNT(*) FROM patients p WHERE p.room = r.name AND p.archived_at IS NULL)
	FROM rooms r
`

func scanRoom(row pgx.Row) (models.Room, error) {
	var room models.Room
	if err := row.Scan(&room.ID, &room.Name, &room.Capacity, &room.Occupancy); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Room{}, ErrRoomNotFound
		}
		return models.Room{}, err
	}
	return room, nil
}

func (r *RoomRepository) Create(ctx context.Context, room models.Room) error {
	_, err := r.db.Exec(ctx, `INSERT INTO rooms (id, name, capacity) VALUES ($1, $2, $3)`,
		room.ID, room.Name, room.Capacity)
	return err
}

func (r *RoomRepository) GetByID(ctx context.Context, id string) (models.Room, error) {
	return scanRoom(r.db.QueryRow(ctx, roomSelect+` WHERE r.id = $1`, id))
}

func (r *RoomRepository) GetByName(ctx context.Context, name int) (models.Room, error) {
	return scanRoom(r.db.QueryRow(ctx, roomSelect+` WHERE r.name = $1`, name))
}

func (r *RoomRepository) LockByName(ctx context.Context, name int) (models.Room, error) {
	return scanRoom(r.db.QueryRow(ctx, roomSelect+` WHERE r.name = $1 FOR UPDATE OF r`, name))
}

func (r *RoomRepository) List(ctx context.Context) ([]models.Room, error) {
	rows, err := r.db.Query(ctx, roomSelect+` ORDER BY r.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rooms := make([]models.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

func (r *RoomRepository) Update(ctx context.Context, room models.Room) error {
	cmd, err := r.db.Exec(ctx, `UPDATE rooms SET name = $2, capacity = $3 WHERE id = $1`,
		room.ID, room.Name, room.Capacity)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *RoomRepository) Delete(ctx context.Context, id string) error {
	cmd, err := r.db.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}
