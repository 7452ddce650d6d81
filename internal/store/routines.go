package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fentz26/pacer/internal/models"
)

// CreateRoutine inserts a routine. The plan is stored as given; callers
// validate it first.
func (s *Store) CreateRoutine(ctx context.Context, name, description string, plan models.Plan) (*models.Routine, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("create routine: name is required")
	}
	now := time.Now().UTC()
	routine := &models.Routine{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Plan:        plan.Clone(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if routine.Plan.Name == "" {
		routine.Plan.Name = name
	}

	planJSON, err := json.Marshal(routine.Plan)
	if err != nil {
		return nil, fmt.Errorf("marshal plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO routines (id, name, description, plan, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		routine.ID, routine.Name, routine.Description, string(planJSON), formatTime(now), formatTime(now),
	)
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateRoutine, name)
	}
	if err != nil {
		return nil, fmt.Errorf("insert routine: %w", err)
	}
	return routine, nil
}

// GetRoutine looks a routine up by ID, then by name.
func (s *Store) GetRoutine(ctx context.Context, ref string) (*models.Routine, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, plan, created_at, updated_at FROM routines WHERE id = ? OR name = ? ORDER BY id = ? DESC LIMIT 1`,
		ref, ref, ref,
	)
	routine, err := scanRoutine(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query routine: %w", err)
	}
	return routine, nil
}

// ListRoutines returns every routine ordered by name.
func (s *Store) ListRoutines(ctx context.Context) ([]models.Routine, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, plan, created_at, updated_at FROM routines ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("query routines: %w", err)
	}
	defer rows.Close()

	var routines []models.Routine
	for rows.Next() {
		routine, err := scanRoutine(rows)
		if err != nil {
			return nil, fmt.Errorf("scan routine: %w", err)
		}
		routines = append(routines, *routine)
	}
	return routines, rows.Err()
}

// DeleteRoutine removes a routine by ID or name.
func (s *Store) DeleteRoutine(ctx context.Context, ref string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM routines WHERE id = ? OR name = ?`, ref, ref)
	if err != nil {
		return fmt.Errorf("delete routine: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete routine: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRoutine(row scanner) (*models.Routine, error) {
	var routine models.Routine
	var planJSON, createdAt, updatedAt string
	if err := row.Scan(&routine.ID, &routine.Name, &routine.Description, &planJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(planJSON), &routine.Plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	var err error
	if routine.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if routine.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &routine, nil
}
