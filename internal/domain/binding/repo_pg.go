package binding

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

const bindingCols = `id, chat_user_id, surrogate_key, verified, active, created_at, updated_at`

func (r *repoPG) GetByChatUser(ctx context.Context, chatUserID string) (*Binding, error) {
	return scanBinding(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bindingCols+` FROM identity_binding WHERE chat_user_id = $1`, chatUserID))
}

func (r *repoPG) GetActiveByKey(ctx context.Context, key uuid.UUID) (*Binding, error) {
	return scanBinding(r.conn(ctx).QueryRow(ctx,
		`SELECT `+bindingCols+` FROM identity_binding WHERE surrogate_key = $1 AND active`, key))
}

// Upsert replaces the chat user's row, so a user never holds two bindings.
func (r *repoPG) Upsert(ctx context.Context, b *Binding) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO identity_binding (id, chat_user_id, surrogate_key, verified, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (chat_user_id) DO UPDATE SET
			surrogate_key = EXCLUDED.surrogate_key,
			verified = EXCLUDED.verified,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING id, created_at, updated_at`,
		b.ID, b.ChatUserID, b.SurrogateKey, b.Verified, b.Active,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	return mapWriteErr(err)
}

func (r *repoPG) SetVerified(ctx context.Context, chatUserID string, verified bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE identity_binding SET verified = $2, updated_at = NOW() WHERE chat_user_id = $1`,
		chatUserID, verified)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) SetActive(ctx context.Context, chatUserID string, active bool) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE identity_binding SET active = $2, updated_at = NOW() WHERE chat_user_id = $1`,
		chatUserID, active)
	if err != nil {
		return mapWriteErr(err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) DeactivateKey(ctx context.Context, key uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE identity_binding SET active = FALSE, updated_at = NOW() WHERE surrogate_key = $1 AND active`,
		key)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) List(ctx context.Context, limit, offset int) ([]*Binding, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM identity_binding`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+bindingCols+` FROM identity_binding ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`,
		limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Binding
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, b)
	}
	return out, total, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanBinding(row scannable) (*Binding, error) {
	var b Binding
	err := row.Scan(&b.ID, &b.ChatUserID, &b.SurrogateKey, &b.Verified, &b.Active, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan binding: %w", err)
	}
	return &b, nil
}

// uniqueViolation is the Postgres SQLSTATE for a unique index violation.
const uniqueViolation = "23505"

func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrConflict
	}
	return err
}
