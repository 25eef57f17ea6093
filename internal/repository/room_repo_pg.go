package repository

import (
	"context"
	"fmt"

	"github.com/Domenick1991/roombooking/internal/domain"
	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

type RoomRepository interface {
	List(ctx context.Context, filter domain.RoomFilter) ([]domain.Room, error)
	GetByID(ctx context.Context, id string) (*domain.Room, error)
}

type PGRoomRepository struct {
	db DB
}

func NewRoomRepository(db DB) RoomRepository {
	return &PGRoomRepository{db: db}
}

var roomColumns = []string{
	"id", "name", "location", "capacity", "description",
	"hourly_rate_cents", "currency", "image_url", "created_at", "updated_at",
}

func (r *PGRoomRepository) List(ctx context.Context, filter domain.RoomFilter) ([]domain.Room, error) {
	query := psql.Select(roomColumns...).From("rooms")
	if filter.MinCapacity > 0 {
		query = query.Where(squirrel.GtOrEq{"capacity": filter.MinCapacity})
	}
	if filter.Location != "" {
		query = query.Where(squirrel.ILike{"location": "%" + filter.Location + "%"})
	}
	sql, args, err := query.OrderBy("name ASC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list rooms query failed: %w", err)
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("list rooms failed: %w", err)
	}
	defer rows.Close()

	rooms := make([]domain.Room, 0)
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, *room)
	}
	return rooms, rows.Err()
}

func (r *PGRoomRepository) GetByID(ctx context.Context, id string) (*domain.Room, error) {
	sql, args, err := psql.Select(roomColumns...).From("rooms").Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get room query failed: %w", err)
	}
	room, err := scanRoom(r.db.QueryRow(ctx, sql, args...))
	if err != nil {
		return nil, mapError(err, domain.ErrRoomNotFound)
	}
	return room, nil
}

func scanRoom(row pgx.Row) (*domain.Room, error) {
	var room domain.Room
	if err := row.Scan(
		&room.ID, &room.Name, &room.Location, &room.Capacity, &room.Description,
		&room.HourlyRateCents, &room.Currency, &room.ImageURL, &room.CreatedAt, &room.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &room, nil
}

var _ RoomRepository = (*PGRoomRepository)(nil)
