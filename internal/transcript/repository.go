// Package transcript persists the full conversation record. Two backends
// implement the history sink: a Postgres repository and an append-only
// JSON-lines file.
package transcript

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roundtable-ai/roundtable/internal/chat"
)

type Repository interface {
	Append(ctx context.Context, msg chat.Message) error
	List(ctx context.Context, limit, offset int) ([]chat.Message, error)
	Count(ctx context.Context) (int64, error)
}

type postgresRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) Repository {
	return &postgresRepository{pool: pool}
}

func (r *postgresRepository) Append(ctx context.Context, msg chat.Message) error {
	query := `
		INSERT INTO transcript (id, sender, content, msg_type, reply_to_id, target, from_human, directive, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO NOTHING`

	_, err := r.pool.Exec(ctx, query,
		msg.ID, msg.From, msg.Content, string(msg.Type),
		msg.ReplyToID, msg.Target, msg.FromHuman, msg.Directive,
		msg.Timestamp)
	if err != nil {
		return fmt.Errorf("inserting transcript row: %w", err)
	}
	return nil
}

func (r *postgresRepository) List(ctx context.Context, limit, offset int) ([]chat.Message, error) {
	query := `
		SELECT id, sender, content, msg_type, reply_to_id, target, from_human, directive, created_at
		FROM transcript
		ORDER BY created_at ASC
		LIMIT $1 OFFSET $2`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing transcript: %w", err)
	}
	defer rows.Close()

	var out []chat.Message
	for rows.Next() {
		var m chat.Message
		var typ string
		if err := rows.Scan(&m.ID, &m.From, &m.Content, &typ,
			&m.ReplyToID, &m.Target, &m.FromHuman, &m.Directive, &m.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning transcript row: %w", err)
		}
		m.Type = chat.MessageType(typ)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating transcript rows: %w", err)
	}
	return out, nil
}

func (r *postgresRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transcript`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting transcript rows: %w", err)
	}
	return n, nil
}
