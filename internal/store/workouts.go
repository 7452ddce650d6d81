package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/fentz26/pacer/internal/models"
)

// RecordWorkout stores a completion record. A second record for the same
// session is ignored and reported as not inserted.
func (s *Store) RecordWorkout(ctx context.Context, w models.Workout) (bool, error) {
	if w.SessionID == "" {
		return false, fmt.Errorf("record workout: session id is required")
	}
	if w.ID == "" {
		w.ID = uuid.New().String()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO workouts (id, session_id, routine_name, rounds, intervals, duration_millis, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.SessionID, w.RoutineName, w.Rounds, w.Intervals, w.DurationMillis, formatTime(w.StartedAt), formatTime(w.CompletedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert workout: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert workout: %w", err)
	}
	return n == 1, nil
}

// ListWorkouts returns the most recent completion records first.
func (s *Store) ListWorkouts(ctx context.Context, limit int) ([]models.Workout, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, routine_name, rounds, intervals, duration_millis, started_at, completed_at
		 FROM workouts ORDER BY completed_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query workouts: %w", err)
	}
	defer rows.Close()

	var workouts []models.Workout
	for rows.Next() {
		var w models.Workout
		var startedAt, completedAt string
		if err := rows.Scan(&w.ID, &w.SessionID, &w.RoutineName, &w.Rounds, &w.Intervals, &w.DurationMillis, &startedAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan workout: %w", err)
		}
		if w.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, err
		}
		if w.CompletedAt, err = parseTime(completedAt); err != nil {
			return nil, err
		}
		workouts = append(workouts, w)
	}
	return workouts, rows.Err()
}
