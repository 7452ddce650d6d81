package store

import (
	"context"
	"fmt"
	"time"

	"github.com/fentz26/pacer/internal/link"
)

// Put queues a durable envelope. Store satisfies link.Mailbox.
func (s *Store) Put(ctx context.Context, env link.Envelope) error {
	env.Durable = true
	frame, err := link.Encode(env)
	if err != nil {
		return fmt.Errorf("encode outbox frame: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sync_outbox (session_id, seq, frame, created_at) VALUES (?, ?, ?, ?)`,
		env.SessionID, env.Seq, string(frame), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("insert outbox frame: %w", err)
	}
	return nil
}

// Purge drops the queued envelopes of sessionID.
func (s *Store) Purge(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_outbox WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("purge outbox: %w", err)
	}
	return nil
}

// Drain removes and returns up to limit queued envelopes, oldest first.
// Frames that no longer decode are discarded.
func (s *Store) Drain(ctx context.Context, limit int) ([]link.Envelope, error) {
	if limit <= 0 {
		limit = 32
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, frame FROM sync_outbox ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	var (
		ids  []int64
		envs []link.Envelope
	)
	for rows.Next() {
		var id int64
		var frame string
		if err := rows.Scan(&id, &frame); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan outbox: %w", err)
		}
		ids = append(ids, id)
		if env, err := link.Decode([]byte(frame)); err == nil {
			envs = append(envs, env)
		}
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close outbox rows: %w", err)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sync_outbox WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("delete outbox frame: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return envs, nil
}
