package host

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fentz26/pacer/internal/follower"
	"github.com/fentz26/pacer/internal/link"
	"github.com/fentz26/pacer/internal/loop"
	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/permit"
	"github.com/fentz26/pacer/internal/surface"
	"github.com/fentz26/pacer/internal/timer"
)

type captureSender struct {
	mu      sync.Mutex
	live    []link.Envelope
	durable []link.Envelope
}

func (c *captureSender) Send(env link.Envelope) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.live = append(c.live, env)
}

func (c *captureSender) SendDurable(env link.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.durable = append(c.durable, env)
	return nil
}

func (c *captureSender) Retract(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kept := c.durable[:0]
	for _, env := range c.durable {
		if env.SessionID != sessionID {
			kept = append(kept, env)
		}
	}
	c.durable = kept
	return nil
}

func (c *captureSender) queued() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.durable)
}

func (c *captureSender) kinds() map[link.Kind]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[link.Kind]int)
	for _, env := range c.live {
		out[env.Message.Kind()]++
	}
	return out
}

func (c *captureSender) last() link.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live[len(c.live)-1]
}

type countingRecorder struct {
	mu       sync.Mutex
	workouts []models.Workout
}

func (r *countingRecorder) RecordWorkout(_ context.Context, w models.Workout) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.workouts = append(r.workouts, w)
	return true, nil
}

func (r *countingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workouts)
}

type countingPermits struct {
	mu       sync.Mutex
	acquired int
	released int
}

func (c *countingPermits) Acquire(context.Context) (permit.Permit, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.acquired++
	return &countedPermit{owner: c}, nil
}

func (c *countingPermits) held() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acquired - c.released
}

type countedPermit struct {
	owner *countingPermits
	once  sync.Once
}

func (p *countedPermit) Release() error {
	p.once.Do(func() {
		p.owner.mu.Lock()
		p.owner.released++
		p.owner.mu.Unlock()
	})
	return nil
}

type fixture struct {
	host     *Host
	ticker   *loop.ManualTicker
	surface  *surface.Recorder
	sender   *captureSender
	recorder *countingRecorder
	permits  *countingPermits
}

func newFixture(t *testing.T, provider permit.Provider) *fixture {
	t.Helper()
	f := &fixture{
		ticker:   loop.NewManualTicker(),
		surface:  &surface.Recorder{},
		sender:   &captureSender{},
		recorder: &countingRecorder{},
		permits:  &countingPermits{},
	}
	if provider == nil {
		provider = f.permits
	}
	f.host = New(DefaultConfig(), Deps{
		Surface:   f.surface,
		Permits:   provider,
		Sender:    f.sender,
		Recorder:  f.recorder,
		NewTicker: f.ticker.Func(),
	})
	t.Cleanup(func() { f.host.StopSession(context.Background()) })
	return f
}

// tick fires n ticks and waits until the loop has applied them.
func (f *fixture) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if !f.ticker.Fire() {
			t.Fatalf("Tick %d not accepted", i)
		}
	}
	sess := f.host.current()
	if sess == nil {
		return
	}
	if err := sess.runner.Sync(context.Background()); err != nil && !errors.Is(err, loop.ErrStopped) {
		t.Fatalf("Sync failed: %v", err)
	}
}

func tenSecondPlan() models.Plan {
	return models.Plan{
		Intervals: []models.Interval{{Name: "Row", Duration: 10, Kind: models.KindWorkout}},
		Rounds:    2,
	}
}

func shortPlan() models.Plan {
	return models.Plan{
		Intervals: []models.Interval{{Name: "A", Duration: 1}, {Name: "B", Duration: 1}},
		Rounds:    1,
	}
}

func TestStartSessionPublishesImmediately(t *testing.T) {
	f := newFixture(t, nil)

	info, err := f.host.StartSession(context.Background(), tenSecondPlan(), SessionMeta{RoutineName: "Row"})
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if !info.Background {
		t.Error("Expected background permit to be granted")
	}

	snaps := f.surface.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("Expected exactly one immediate publish, got %d", len(snaps))
	}
	if snaps[0].IntervalName != "Row" || snaps[0].TimeRemainingMillis != 10000 || snaps[0].CurrentRound != 1 {
		t.Errorf("Unexpected first snapshot: %+v", snaps[0])
	}
	if !snaps[0].Running || !snaps[0].Background {
		t.Errorf("Expected running background snapshot, got %+v", snaps[0])
	}

	if len(f.sender.live) != 1 || len(f.sender.durable) != 1 {
		t.Fatalf("Expected Started on both paths, got %d live / %d durable", len(f.sender.live), len(f.sender.durable))
	}
	if _, ok := f.sender.durable[0].Message.(link.Started); !ok {
		t.Errorf("Expected durable Started, got %T", f.sender.durable[0].Message)
	}
	if f.permits.held() != 1 {
		t.Errorf("Expected one held permit, got %d", f.permits.held())
	}
}

func TestStartSession_InvalidPlan(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.host.StartSession(context.Background(), models.Plan{Rounds: 1}, SessionMeta{})
	if !errors.Is(err, timer.ErrInvalidPlan) {
		t.Fatalf("Expected ErrInvalidPlan, got %v", err)
	}
	if _, ok := f.host.Latest(); ok {
		t.Error("Expected no session after invalid plan")
	}
	if len(f.surface.Snapshots()) != 0 || f.permits.acquired != 0 {
		t.Error("Expected no publish and no permit for an invalid plan")
	}
}

func TestStartSession_AlreadyActive(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.host.StartSession(ctx, tenSecondPlan(), SessionMeta{}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if _, err := f.host.StartSession(ctx, tenSecondPlan(), SessionMeta{}); !errors.Is(err, ErrSessionActive) {
		t.Errorf("Expected ErrSessionActive, got %v", err)
	}
}

func TestPublishCadence(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.host.StartSession(context.Background(), tenSecondPlan(), SessionMeta{}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	// Every 10-tick window inside the interval sees exactly one publish.
	for window := 1; window <= 9; window++ {
		before := len(f.surface.Snapshots())
		f.tick(t, 10)
		got := len(f.surface.Snapshots()) - before
		if got < 1 || got > 2 {
			t.Fatalf("Window %d: expected 1-2 publishes, got %d", window, got)
		}
	}
	if n := len(f.surface.Snapshots()); n != 10 {
		t.Fatalf("Expected 10 publishes after 90 ticks, got %d", n)
	}

	// The boundary tick publishes the new round immediately.
	f.tick(t, 10)
	snaps := f.surface.Snapshots()
	last := snaps[len(snaps)-1]
	if last.CurrentRound != 2 || last.TimeRemainingMillis != 10000 {
		t.Errorf("Expected boundary publish for round 2, got %+v", last)
	}

	kinds := f.sender.kinds()
	if kinds[link.KindCountdown] != 3 {
		t.Errorf("Expected 3 countdown messages, got %d", kinds[link.KindCountdown])
	}
	if kinds[link.KindTimerUpdate] != 6 {
		t.Errorf("Expected 6 timer updates, got %d", kinds[link.KindTimerUpdate])
	}
	if kinds[link.KindIntervalChanged] != 1 {
		t.Errorf("Expected 1 interval change, got %d", kinds[link.KindIntervalChanged])
	}
}

func TestNaturalCompletion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.host.StartSession(ctx, shortPlan(), SessionMeta{RoutineName: "Short"}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	sess := f.host.current()

	for i := 0; i < 20; i++ {
		if !f.ticker.Fire() {
			t.Fatalf("Tick %d not accepted", i)
		}
	}
	select {
	case <-sess.runner.Done():
	case <-time.After(time.Second):
		t.Fatal("Loop did not exit after completion")
	}

	if f.recorder.count() != 1 {
		t.Fatalf("Expected one completion record, got %d", f.recorder.count())
	}
	if f.recorder.workouts[0].RoutineName != "Short" || f.recorder.workouts[0].Rounds != 1 {
		t.Errorf("Unexpected workout: %+v", f.recorder.workouts[0])
	}
	if f.permits.held() != 0 {
		t.Error("Expected permit released on completion")
	}
	if _, ok := f.sender.last().Message.(link.Completed); !ok {
		t.Errorf("Expected Completed as last message, got %T", f.sender.last().Message)
	}

	view, ok := f.host.Latest()
	if !ok || !view.State.Completed || view.State.Running || view.State.TimeRemainingMillis != 0 {
		t.Errorf("Expected completed view, got %+v", view)
	}
	snaps := f.surface.Snapshots()
	if !snaps[len(snaps)-1].Completed {
		t.Error("Expected final snapshot to be completed")
	}

	if _, err := f.host.SkipNext(ctx); !errors.Is(err, ErrSessionCompleted) {
		t.Errorf("Expected ErrSessionCompleted, got %v", err)
	}

	if err := f.host.StopSession(ctx); err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}
	if kinds := f.sender.kinds(); kinds[link.KindStopped] != 0 {
		t.Error("Stopping a completed session must not send Stopped")
	}
	if f.recorder.count() != 1 {
		t.Errorf("Expected completion to stay recorded once, got %d", f.recorder.count())
	}
	if f.surface.Cleared() != 1 {
		t.Errorf("Expected surface cleared once, got %d", f.surface.Cleared())
	}
}

func TestStopSession_AbortDoesNotRecord(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.host.StartSession(ctx, shortPlan(), SessionMeta{}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	f.tick(t, 15)

	if err := f.host.StopSession(ctx); err != nil {
		t.Fatalf("StopSession failed: %v", err)
	}
	if f.recorder.count() != 0 {
		t.Errorf("Abort must not record completion, got %d", f.recorder.count())
	}
	if _, ok := f.sender.last().Message.(link.Stopped); !ok {
		t.Errorf("Expected Stopped as last message, got %T", f.sender.last().Message)
	}
	if f.permits.held() != 0 {
		t.Error("Expected permit released on abort")
	}
	if f.surface.Cleared() != 1 {
		t.Errorf("Expected surface cleared, got %d", f.surface.Cleared())
	}
	if _, ok := f.host.Latest(); ok {
		t.Error("Expected no session after stop")
	}
	if err := f.host.StopSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession on second stop, got %v", err)
	}

	if _, err := f.host.StartSession(ctx, shortPlan(), SessionMeta{}); err != nil {
		t.Fatalf("Restart after stop failed: %v", err)
	}
}

func TestControls(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	if _, err := f.host.StartSession(ctx, shortPlan(), SessionMeta{}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}

	view, err := f.host.SkipNext(ctx)
	if err != nil {
		t.Fatalf("SkipNext failed: %v", err)
	}
	if view.State.CurrentIntervalIndex != 1 || view.Current.Name != "B" {
		t.Errorf("Expected interval B, got %+v", view.State)
	}
	if ic, ok := f.sender.last().Message.(link.IntervalChanged); !ok || ic.State.CurrentIntervalIndex != 1 {
		t.Errorf("Expected IntervalChanged to index 1, got %#v", f.sender.last().Message)
	}

	view, _ = f.host.Pause(ctx)
	if view.Phase != timer.PhasePaused {
		t.Errorf("Expected paused, got %s", view.Phase)
	}
	f.tick(t, 5)
	view, _ = f.host.Latest()
	if view.State.TimeRemainingMillis != 1000 {
		t.Errorf("Paused session must not tick, remaining %d", view.State.TimeRemainingMillis)
	}

	view, _ = f.host.Toggle(ctx)
	if view.Phase != timer.PhaseRunning {
		t.Errorf("Expected running after toggle, got %s", view.Phase)
	}

	view, _ = f.host.SkipPrevious(ctx)
	if view.State.CurrentIntervalIndex != 0 {
		t.Errorf("Expected interval A after SkipPrevious, got %d", view.State.CurrentIntervalIndex)
	}

	f.tick(t, 3)
	view, _ = f.host.Reset(ctx)
	if view.Phase != timer.PhaseIdle || view.State.TimeRemainingMillis != 1000 {
		t.Errorf("Expected idle at full duration after reset, got %s %+v", view.Phase, view.State)
	}

	view, _ = f.host.Resume(ctx)
	if view.Phase != timer.PhaseRunning {
		t.Errorf("Expected running after resume, got %s", view.Phase)
	}
}

func TestControlsWithoutSession(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.host.Toggle(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}
	if err := f.host.Republish(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("Expected ErrNoSession, got %v", err)
	}
}

func TestDegradedHostTicksOnlyInForeground(t *testing.T) {
	f := newFixture(t, permit.Deny{})
	ctx := context.Background()

	info, err := f.host.StartSession(ctx, tenSecondPlan(), SessionMeta{})
	if err != nil {
		t.Fatalf("Denied permit must not fail start: %v", err)
	}
	if info.Background {
		t.Error("Expected degraded session")
	}
	if f.surface.Snapshots()[0].Background {
		t.Error("Degraded surface must not claim background execution")
	}

	f.tick(t, 10)
	view, _ := f.host.Latest()
	if view.State.TimeRemainingMillis != 10000 {
		t.Errorf("Backgrounded degraded host must not tick, remaining %d", view.State.TimeRemainingMillis)
	}

	f.host.SetForeground(true)
	f.tick(t, 10)
	view, _ = f.host.Latest()
	if view.State.TimeRemainingMillis != 9000 {
		t.Errorf("Expected 9000ms after foreground ticks, got %d", view.State.TimeRemainingMillis)
	}
}

func TestGreetingAndRepublish(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if envs := f.host.Greeting(); len(envs) != 0 {
		t.Errorf("Expected no greeting while idle, got %d", len(envs))
	}

	info, _ := f.host.StartSession(ctx, tenSecondPlan(), SessionMeta{})
	f.tick(t, 12)

	envs := f.host.Greeting()
	if len(envs) != 1 {
		t.Fatalf("Expected one greeting envelope, got %d", len(envs))
	}
	started, ok := envs[0].Message.(link.Started)
	if !ok || envs[0].SessionID != info.ID {
		t.Fatalf("Expected Started for %s, got %#v", info.ID, envs[0])
	}
	if started.State.TimeRemainingMillis != 8800 {
		t.Errorf("Expected greeting to carry current state, got %+v", started.State)
	}
	if envs[0].Seq <= f.sender.last().Seq {
		t.Errorf("Greeting seq %d should follow live seq %d", envs[0].Seq, f.sender.last().Seq)
	}

	before := len(f.surface.Snapshots())
	if err := f.host.Republish(ctx); err != nil {
		t.Fatalf("Republish failed: %v", err)
	}
	if got := len(f.surface.Snapshots()) - before; got != 1 {
		t.Errorf("Expected exactly one republish, got %d", got)
	}
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t, nil)
	ch, unsubscribe := f.host.Subscribe(4)

	if _, err := f.host.StartSession(context.Background(), tenSecondPlan(), SessionMeta{}); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	select {
	case v := <-ch:
		if !v.Active || v.Current.Name != "Row" {
			t.Errorf("Unexpected view: %+v", v)
		}
	case <-time.After(time.Second):
		t.Fatal("No view delivered")
	}

	unsubscribe()
	unsubscribe()
	for range ch {
	}
}

type countingAlerts struct {
	mu sync.Mutex
	n  int
}

func (a *countingAlerts) Alert(string, string) {
	a.mu.Lock()
	a.n++
	a.mu.Unlock()
}

func (a *countingAlerts) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.n
}

func TestSessionEndRetractsDurableStart(t *testing.T) {
	ctx := context.Background()
	for _, tc := range []struct {
		name   string
		finish func(t *testing.T, h *Host, ticker *loop.ManualTicker)
	}{
		{"abort", func(t *testing.T, h *Host, _ *loop.ManualTicker) {
			if err := h.StopSession(ctx); err != nil {
				t.Fatalf("StopSession failed: %v", err)
			}
		}},
		{"completion", func(t *testing.T, h *Host, ticker *loop.ManualTicker) {
			sess := h.current()
			for i := 0; i < 20; i++ {
				ticker.Fire()
			}
			select {
			case <-sess.runner.Done():
			case <-time.After(time.Second):
				t.Fatal("Loop did not exit after completion")
			}
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			mb := &link.MemoryMailbox{}
			ticker := loop.NewManualTicker()
			h := New(DefaultConfig(), Deps{
				Sender:    link.NewHub(link.HubConfig{Mailbox: mb}),
				NewTicker: ticker.Func(),
			})
			if _, err := h.StartSession(ctx, shortPlan(), SessionMeta{}); err != nil {
				t.Fatalf("StartSession failed: %v", err)
			}
			tc.finish(t, h, ticker)

			envs, err := mb.Drain(ctx, 0)
			if err != nil {
				t.Fatalf("Drain failed: %v", err)
			}
			if len(envs) != 0 {
				t.Fatalf("Expected empty mailbox after session end, got %d envelopes", len(envs))
			}

			// A follower that slept through the session wakes up idle.
			alerts := &countingAlerts{}
			f := follower.New(follower.Config{}, follower.Deps{Alerts: alerts, NewTicker: loop.NewManualTicker().Func()})
			defer f.Close()
			for _, env := range envs {
				f.Handle(env)
			}
			if f.Mode() != follower.ModeIdle || f.HasSession() || alerts.count() != 0 {
				t.Errorf("Expected idle follower with no alert, got mode=%s session=%v alerts=%d", f.Mode(), f.HasSession(), alerts.count())
			}
		})
	}
}
