package controlplane

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/fentz26/pacer/internal/audit"
	"github.com/fentz26/pacer/internal/host"
	"github.com/fentz26/pacer/internal/link"
	"github.com/fentz26/pacer/internal/loop"
	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/store"
	"github.com/fentz26/pacer/internal/surface"
)

type testEnv struct {
	server     *Server
	store      *store.Store
	controller *host.Controller
	host       *host.Host
	handler    http.Handler
}

// newTestEnv builds a server whose host is not connected yet.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	journal := audit.NewJournal(st)
	ctl := host.NewController(nil)
	h := host.New(host.Config{}, host.Deps{
		Surface:   &surface.Recorder{},
		Sender:    link.Nop{},
		Recorder:  st,
		Journal:   journal,
		NewTicker: loop.NewManualTicker().Func(),
	})
	t.Cleanup(func() { h.StopSession(context.Background()) })

	service := NewService(st, journal, ctl, nil)
	server := NewServer(service, nil, st, "127.0.0.1:0", nil)
	return &testEnv{server: server, store: st, controller: ctl, host: h, handler: server.Handler()}
}

func (e *testEnv) connect(t *testing.T) {
	t.Helper()
	if _, _, err := e.controller.OnHostConnected(context.Background(), e.host); err != nil {
		t.Fatalf("OnHostConnected failed: %v", err)
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return v
}

func testPlan() models.Plan {
	return models.Plan{
		Intervals: []models.Interval{
			{Name: "Work", Duration: 30, Kind: models.KindWorkout},
			{Name: "Rest", Duration: 15, Kind: models.KindRest},
		},
		Rounds: 3,
	}
}

func TestHealthEndpoint_OK(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	w := e.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	health := decode[HealthResponse](t, w)
	if !health.OK || health.DB != "ok" {
		t.Errorf("Expected healthy response, got %+v", health)
	}
	if health.Version == "" || health.Time == "" {
		t.Error("Expected version and time to be set")
	}
	if !health.Host {
		t.Error("Expected host to be reported connected")
	}
}

func TestHealthEndpoint_MethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/health", nil)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHealthEndpoint_DBError(t *testing.T) {
	e := newTestEnv(t)
	e.store.Close()

	w := e.do(t, http.MethodGet, "/health", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", w.Code)
	}
	if health := decode[HealthResponse](t, w); health.OK || health.DB == "ok" {
		t.Errorf("Expected DB error in health, got %+v", health)
	}
}

func TestRoutineEndpoints(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/routines", createRoutineRequest{Name: "Tabata", Plan: testPlan()})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decode[models.Routine](t, w)
	if created.ID == "" || created.Plan.Name != "Tabata" {
		t.Errorf("Unexpected routine: %+v", created)
	}

	if w := e.do(t, http.MethodPost, "/routines", createRoutineRequest{Name: "Tabata", Plan: testPlan()}); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for duplicate name, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/routines", createRoutineRequest{Name: "Broken", Plan: models.Plan{Rounds: 1}}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for empty plan, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/routines", createRoutineRequest{Plan: testPlan()}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing name, got %d", w.Code)
	}

	w = e.do(t, http.MethodGet, "/routines/Tabata", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if got := decode[models.Routine](t, w); got.ID != created.ID {
		t.Errorf("Expected lookup by name to find %s, got %s", created.ID, got.ID)
	}

	w = e.do(t, http.MethodGet, "/routines", nil)
	if list := decode[[]models.Routine](t, w); len(list) != 1 {
		t.Errorf("Expected 1 routine, got %d", len(list))
	}

	if w := e.do(t, http.MethodDelete, "/routines/"+created.ID, nil); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/routines/"+created.ID, nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %d", w.Code)
	}

	events, err := e.store.ListSessionEvents(context.Background(), "")
	if err != nil {
		t.Fatalf("ListSessionEvents failed: %v", err)
	}
	var creates, deletes int
	for _, ev := range events {
		switch ev.Action {
		case audit.ActionRoutineCreate:
			creates++
		case audit.ActionRoutineDelete:
			deletes++
		}
	}
	if creates < 2 || deletes != 1 {
		t.Errorf("Expected routine audit events, got %d creates and %d deletes", creates, deletes)
	}
}

func TestSessionLifecycle(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	r := e.do(t, http.MethodPost, "/routines", createRoutineRequest{Name: "Ladder", Plan: testPlan()})
	routine := decode[models.Routine](t, r)

	w := e.do(t, http.MethodPost, "/session", StartRequest{RoutineID: routine.ID})
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d: %s", w.Code, w.Body.String())
	}
	info := decode[host.SessionInfo](t, w)
	if info.RoutineName != "Ladder" || info.ID == "" {
		t.Errorf("Unexpected session info: %+v", info)
	}

	if w := e.do(t, http.MethodPost, "/session", StartRequest{Plan: ptr(testPlan())}); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 while a session is active, got %d", w.Code)
	}

	w = e.do(t, http.MethodGet, "/session", nil)
	if view := decode[host.View](t, w); view.SessionID != info.ID || !view.State.Running {
		t.Errorf("Expected running session view, got %+v", view)
	}

	w = e.do(t, http.MethodPost, "/session/toggle", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if view := decode[host.View](t, w); view.State.Running {
		t.Error("Expected toggle to pause")
	}

	w = e.do(t, http.MethodPost, "/session/next", nil)
	if view := decode[host.View](t, w); view.State.CurrentIntervalIndex != 1 {
		t.Errorf("Expected skip to interval 1, got %+v", view.State)
	}

	if w := e.do(t, http.MethodPost, "/session/sprint", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown action, got %d", w.Code)
	}

	if w := e.do(t, http.MethodDelete, "/session", nil); w.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/session", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 after stop, got %d", w.Code)
	}
	if w := e.do(t, http.MethodDelete, "/session", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for second stop, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/session/pause", nil); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for control without session, got %d", w.Code)
	}
}

func TestSessionStartValidation(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	if w := e.do(t, http.MethodPost, "/session", StartRequest{}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without routine or plan, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/session", StartRequest{Plan: &models.Plan{Intervals: testPlan().Intervals}}); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for zero rounds, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/session", StartRequest{RoutineID: "missing"}); w.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown routine, got %d", w.Code)
	}
	if _, ok := e.host.Latest(); ok {
		t.Error("Rejected starts must not create a session")
	}
}

func TestSessionStartPendingUntilHostConnects(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/session", StartRequest{Plan: ptr(testPlan())})
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d", w.Code)
	}
	if resp := decode[PendingResponse](t, w); resp.Status != "pending" {
		t.Errorf("Expected pending status, got %q", resp.Status)
	}
	if w := e.do(t, http.MethodPost, "/session/toggle", nil); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 for control without host, got %d", w.Code)
	}

	e.connect(t)
	w = e.do(t, http.MethodGet, "/session", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected queued start to run once host connected, got %d", w.Code)
	}
}

func TestWorkoutsAfterCompletion(t *testing.T) {
	e := newTestEnv(t)
	e.connect(t)

	plan := models.Plan{Name: "Sprint", Intervals: []models.Interval{{Name: "Go", Duration: 5}}, Rounds: 1}
	if w := e.do(t, http.MethodPost, "/session", StartRequest{Plan: &plan}); w.Code != http.StatusCreated {
		t.Fatalf("Expected status 201, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/session/next", nil); w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/session/toggle", nil); w.Code != http.StatusConflict {
		t.Errorf("Expected 409 for control after completion, got %d", w.Code)
	}

	w := e.do(t, http.MethodGet, "/workouts?limit=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	workouts := decode[[]models.Workout](t, w)
	if len(workouts) != 1 || workouts[0].RoutineName != "Sprint" {
		t.Errorf("Expected one Sprint workout, got %+v", workouts)
	}

	if w := e.do(t, http.MethodGet, "/workouts?limit=abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad limit, got %d", w.Code)
	}
}

func TestMailboxDrainMounted(t *testing.T) {
	e := newTestEnv(t)
	e.store.Put(context.Background(), link.Envelope{SessionID: "s1", Seq: 1, Message: link.Started{Plan: testPlan(), State: models.TimerState{CurrentRound: 1, TimeRemainingMillis: 30000}}})

	w := e.do(t, http.MethodPost, "/sync/mailbox/drain", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	var body struct {
		Frames []json.RawMessage `json:"frames"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(body.Frames) != 1 {
		t.Errorf("Expected 1 frame, got %d", len(body.Frames))
	}
}

func ptr[T any](v T) *T { return &v }

func TestServerListenServeShutdown(t *testing.T) {
	e := newTestEnv(t)
	ln, err := e.server.Listen()
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- e.server.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.server.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Expected clean Serve return, got %v", err)
	}
}
