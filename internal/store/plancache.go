package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fentz26/pacer/internal/models"
)

// LastPlanKey is the cache slot for the most recently mirrored plan.
const LastPlanKey = "last"

// SavePlan caches plan under key, replacing any previous entry.
func (s *Store) SavePlan(ctx context.Context, key string, plan models.Plan) error {
	data, err := json.Marshal(plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO plan_cache (key, plan, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET plan = excluded.plan, updated_at = excluded.updated_at`,
		key, string(data), formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("save cached plan: %w", err)
	}
	return nil
}

// LoadPlan returns the plan cached under key.
func (s *Store) LoadPlan(ctx context.Context, key string) (models.Plan, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT plan FROM plan_cache WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Plan{}, ErrNotFound
	}
	if err != nil {
		return models.Plan{}, fmt.Errorf("query cached plan: %w", err)
	}
	var plan models.Plan
	if err := json.Unmarshal([]byte(data), &plan); err != nil {
		return models.Plan{}, fmt.Errorf("decode cached plan: %w", err)
	}
	return plan, nil
}
