package dmroom

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carlosapgomes/eqmd-sub012/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *repoPG) Get(ctx context.Context, key uuid.UUID) (*Room, error) {
	return scanRoom(r.conn(ctx).QueryRow(ctx,
		`SELECT surrogate_key, room_id, created_at FROM dm_room WHERE surrogate_key = $1`, key))
}

func (r *repoPG) Insert(ctx context.Context, room *Room) (*Room, error) {
	var stored *Room
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx,
			`INSERT INTO dm_room (surrogate_key, room_id) VALUES ($1, $2)
			 ON CONFLICT (surrogate_key) DO NOTHING`,
			room.SurrogateKey, room.RoomID,
		); err != nil {
			return fmt.Errorf("insert dm room: %w", err)
		}
		var err error
		stored, err = r.Get(ctx, room.SurrogateKey)
		return err
	})
	return stored, err
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Room, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM dm_room`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT surrogate_key, room_id, created_at FROM dm_room
		 ORDER BY created_at DESC, surrogate_key LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, room)
	}
	return out, total, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanRoom(row scannable) (*Room, error) {
	var room Room
	err := row.Scan(&room.SurrogateKey, &room.RoomID, &room.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan dm room: %w", err)
	}
	return &room, nil
}
