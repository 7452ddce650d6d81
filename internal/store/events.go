package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/pacer/internal/models"
)

// WriteSessionEvent appends an audit record.
func (s *Store) WriteSessionEvent(ctx context.Context, action, inputsHash, outcome, sessionID, details string) (*models.SessionEvent, error) {
	ev := &models.SessionEvent{
		ID:         uuid.New().String(),
		Action:     action,
		InputsHash: inputsHash,
		Outcome:    outcome,
		SessionID:  sessionID,
		Details:    details,
		Timestamp:  time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (id, action, inputs_hash, outcome, session_id, details, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.Action, ev.InputsHash, ev.Outcome, ev.SessionID, ev.Details, formatTime(ev.Timestamp),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session event: %w", err)
	}
	return ev, nil
}

// ListSessionEvents returns events for sessionID in the order they were
// written. An empty sessionID returns every event.
func (s *Store) ListSessionEvents(ctx context.Context, sessionID string) ([]models.SessionEvent, error) {
	query := `SELECT id, action, inputs_hash, outcome, session_id, details, timestamp FROM session_events`
	var args []any
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY timestamp, rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query session events: %w", err)
	}
	defer rows.Close()

	var events []models.SessionEvent
	for rows.Next() {
		var ev models.SessionEvent
		var ts string
		if err := rows.Scan(&ev.ID, &ev.Action, &ev.InputsHash, &ev.Outcome, &ev.SessionID, &ev.Details, &ts); err != nil {
			return nil, fmt.Errorf("scan session event: %w", err)
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
