package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/pacer/internal/link"
	"github.com/fentz26/pacer/internal/models"
)

func testPlan() models.Plan {
	return models.Plan{
		Intervals: []models.Interval{
			{Name: "Work", Duration: 40, Kind: models.KindWorkout},
			{Name: "Rest", Duration: 20, Kind: models.KindRest},
		},
		Rounds: 5,
	}
}

func TestNew(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "nested", "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	// Verify file was created
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
	if s.Driver() != "sqlite" {
		t.Errorf("Expected sqlite driver, got %s", s.Driver())
	}
}

func TestResolveDSN(t *testing.T) {
	tests := []struct {
		dsn    string
		driver string
	}{
		{"libsql://pacer-db.turso.io?authToken=x", "libsql"},
		{"https://pacer-db.turso.io", "libsql"},
		{filepath.Join(t.TempDir(), "pacer.db"), "sqlite"},
	}
	for _, tt := range tests {
		driver, _, err := resolveDSN(tt.dsn)
		if err != nil {
			t.Fatalf("resolveDSN(%q) failed: %v", tt.dsn, err)
		}
		if driver != tt.driver {
			t.Errorf("resolveDSN(%q) = %s, want %s", tt.dsn, driver, tt.driver)
		}
	}
	if _, _, err := resolveDSN("  "); err == nil {
		t.Error("Expected error for empty dsn")
	}
}

func TestRoutineCRUD(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	// Create
	routine, err := s.CreateRoutine(ctx, "Intervals", "40/20 x5", testPlan())
	if err != nil {
		t.Fatalf("CreateRoutine failed: %v", err)
	}
	if routine.ID == "" {
		t.Error("Routine ID should not be empty")
	}
	if routine.Plan.Name != "Intervals" {
		t.Errorf("Expected plan name to default to routine name, got %q", routine.Plan.Name)
	}

	// Get by ID and by name
	for _, ref := range []string{routine.ID, "Intervals"} {
		got, err := s.GetRoutine(ctx, ref)
		if err != nil {
			t.Fatalf("GetRoutine(%s) failed: %v", ref, err)
		}
		if got.Plan.Rounds != 5 || len(got.Plan.Intervals) != 2 {
			t.Errorf("Plan not preserved: %+v", got.Plan)
		}
		if !got.CreatedAt.Equal(routine.CreatedAt) {
			t.Errorf("Expected created_at %v, got %v", routine.CreatedAt, got.CreatedAt)
		}
	}

	// Duplicate
	if _, err := s.CreateRoutine(ctx, "Intervals", "", testPlan()); !errors.Is(err, ErrDuplicateRoutine) {
		t.Errorf("Expected ErrDuplicateRoutine, got %v", err)
	}

	// List
	if _, err := s.CreateRoutine(ctx, "Circuit", "", testPlan()); err != nil {
		t.Fatalf("CreateRoutine failed: %v", err)
	}
	routines, err := s.ListRoutines(ctx)
	if err != nil {
		t.Fatalf("ListRoutines failed: %v", err)
	}
	if len(routines) != 2 || routines[0].Name != "Circuit" {
		t.Errorf("Expected 2 routines ordered by name, got %+v", routines)
	}

	// Delete
	if err := s.DeleteRoutine(ctx, routine.ID); err != nil {
		t.Fatalf("DeleteRoutine failed: %v", err)
	}
	if _, err := s.GetRoutine(ctx, routine.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteRoutine(ctx, routine.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound deleting twice, got %v", err)
	}
}

func TestRecordWorkoutOncePerSession(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	started := time.Now().UTC().Add(-5 * time.Minute)
	w := models.Workout{
		SessionID:      "session-1",
		RoutineName:    "Intervals",
		Rounds:         5,
		Intervals:      2,
		DurationMillis: 300000,
		StartedAt:      started,
		CompletedAt:    started.Add(5 * time.Minute),
	}

	inserted, err := s.RecordWorkout(ctx, w)
	if err != nil {
		t.Fatalf("RecordWorkout failed: %v", err)
	}
	if !inserted {
		t.Error("Expected first record to be inserted")
	}

	inserted, err = s.RecordWorkout(ctx, w)
	if err != nil {
		t.Fatalf("Second RecordWorkout failed: %v", err)
	}
	if inserted {
		t.Error("Expected duplicate session record to be ignored")
	}

	workouts, err := s.ListWorkouts(ctx, 10)
	if err != nil {
		t.Fatalf("ListWorkouts failed: %v", err)
	}
	if len(workouts) != 1 {
		t.Fatalf("Expected 1 workout, got %d", len(workouts))
	}
	if workouts[0].DurationMillis != 300000 || !workouts[0].StartedAt.Equal(started) {
		t.Errorf("Unexpected workout: %+v", workouts[0])
	}
}

func TestSessionEvents(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.WriteSessionEvent(ctx, "session.start", "abc", "ok", "s1", ""); err != nil {
		t.Fatalf("WriteSessionEvent failed: %v", err)
	}
	if _, err := s.WriteSessionEvent(ctx, "session.stop", "def", "ok", "s1", "aborted"); err != nil {
		t.Fatalf("WriteSessionEvent failed: %v", err)
	}
	if _, err := s.WriteSessionEvent(ctx, "routine.create", "ghi", "ok", "", ""); err != nil {
		t.Fatalf("WriteSessionEvent failed: %v", err)
	}

	events, err := s.ListSessionEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("ListSessionEvents failed: %v", err)
	}
	if len(events) != 2 || events[0].Action != "session.start" || events[1].Details != "aborted" {
		t.Errorf("Unexpected events: %+v", events)
	}

	all, _ := s.ListSessionEvents(ctx, "")
	if len(all) != 3 {
		t.Errorf("Expected 3 events total, got %d", len(all))
	}
}

func TestOutboxDrain(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	var mb link.Mailbox = s
	plan := testPlan()
	for i := 1; i <= 3; i++ {
		env := link.Envelope{
			SessionID: "s1",
			Seq:       uint64(i),
			Message:   link.Started{Plan: plan, State: models.TimerState{CurrentRound: 1, TimeRemainingMillis: 40000}},
		}
		if err := mb.Put(ctx, env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	envs, err := mb.Drain(ctx, 2)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(envs) != 2 || envs[0].Seq != 1 || envs[1].Seq != 2 {
		t.Fatalf("Expected seq 1,2 first, got %+v", envs)
	}
	if !envs[0].Durable {
		t.Error("Drained envelopes should be durable")
	}

	envs, _ = mb.Drain(ctx, 10)
	if len(envs) != 1 || envs[0].Seq != 3 {
		t.Errorf("Expected remaining seq 3, got %+v", envs)
	}
	envs, _ = mb.Drain(ctx, 10)
	if len(envs) != 0 {
		t.Errorf("Expected empty outbox, got %d", len(envs))
	}
}

func TestOutboxPurge(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	plan := testPlan()
	for i, session := range []string{"s1", "s2", "s1"} {
		env := link.Envelope{
			SessionID: session,
			Seq:       uint64(i + 1),
			Message:   link.Started{Plan: plan, State: models.TimerState{CurrentRound: 1, TimeRemainingMillis: 40000}},
		}
		if err := s.Put(ctx, env); err != nil {
			t.Fatalf("Put failed: %v", err)
		}
	}

	if err := s.Purge(ctx, "s1"); err != nil {
		t.Fatalf("Purge failed: %v", err)
	}
	envs, err := s.Drain(ctx, 10)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if len(envs) != 1 || envs[0].SessionID != "s2" {
		t.Errorf("Expected only s2 left, got %+v", envs)
	}
	if err := s.Purge(ctx, "missing"); err != nil {
		t.Errorf("Purge of unknown session failed: %v", err)
	}
}

func TestPlanCache(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if _, err := s.LoadPlan(ctx, LastPlanKey); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on empty cache, got %v", err)
	}

	plan := testPlan()
	if err := s.SavePlan(ctx, LastPlanKey, plan); err != nil {
		t.Fatalf("SavePlan failed: %v", err)
	}
	plan.Rounds = 9
	if err := s.SavePlan(ctx, LastPlanKey, plan); err != nil {
		t.Fatalf("SavePlan overwrite failed: %v", err)
	}

	got, err := s.LoadPlan(ctx, LastPlanKey)
	if err != nil {
		t.Fatalf("LoadPlan failed: %v", err)
	}
	if got.Rounds != 9 {
		t.Errorf("Expected overwritten plan with 9 rounds, got %d", got.Rounds)
	}
}

func TestPing(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.Ping(ctx)
	if err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func newTestStore(t *testing.T) *Store {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	return s
}
