// Package loop drives a timer.Machine from a single goroutine.
//
// The runner is the only writer of its machine: ticks and commands are
// serialized through one select loop, so no operation on the machine ever
// interleaves with another. Hooks run on that goroutine and may read the
// machine freely, but must not call Stop.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fentz26/pacer/internal/timer"
)

// DefaultInterval is the tick cadence of every loop.
const DefaultInterval = 100 * time.Millisecond

// Config controls a Runner.
type Config struct {
	// Interval is the tick period. Defaults to DefaultInterval.
	Interval time.Duration
	// StopOnComplete ends the loop after the step that completes the session.
	StopOnComplete bool
	// NewTicker builds the ticker. Defaults to NewTicker.
	NewTicker TickerFunc
}

// Hooks are invoked on the loop goroutine.
type Hooks struct {
	// Gate is consulted before every tick; returning false skips it.
	Gate func() bool
	// OnTick runs after every applied tick.
	OnTick func(step timer.Step, m *timer.Machine)
	// OnCommand runs after every command issued through Do.
	OnCommand func(step timer.Step, m *timer.Machine)
	// OnExit runs once when the loop returns.
	OnExit func(m *timer.Machine)
}

type request struct {
	fn    func(*timer.Machine) timer.Step
	reply chan timer.Step
	// barrier requests only wait for the loop; they skip OnCommand.
	barrier bool
}

// Runner owns a machine and its tick loop.
type Runner struct {
	machine *timer.Machine
	cfg     Config
	hooks   Hooks

	cmds   chan request
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a runner for m. Call Start to begin ticking.
func New(m *timer.Machine, cfg Config, hooks Hooks) *Runner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.NewTicker == nil {
		cfg.NewTicker = NewTicker
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		machine: m,
		cfg:     cfg,
		hooks:   hooks,
		cmds:    make(chan request),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Start launches the loop goroutine. Subsequent calls are no-ops.
func (r *Runner) Start() {
	r.startOnce.Do(func() {
		r.started.Store(true)
		go r.run()
	})
}

// Stop cancels the loop and waits for it to exit. Safe to call more than
// once and before Start.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		if r.started.Load() {
			<-r.done
		}
	})
}

// Done is closed when the loop has exited.
func (r *Runner) Done() <-chan struct{} {
	return r.done
}

// Do runs fn against the machine on the loop goroutine and returns its step.
func (r *Runner) Do(ctx context.Context, fn func(*timer.Machine) timer.Step) (timer.Step, error) {
	return r.submit(ctx, request{fn: fn, reply: make(chan timer.Step, 1)})
}

// Sync returns once every tick and command accepted before it has been
// applied. It does not touch the machine and does not run OnCommand.
func (r *Runner) Sync(ctx context.Context) error {
	_, err := r.submit(ctx, request{reply: make(chan timer.Step, 1), barrier: true})
	return err
}

func (r *Runner) submit(ctx context.Context, req request) (timer.Step, error) {
	if !r.started.Load() {
		return timer.Step{}, ErrStopped
	}

	select {
	case r.cmds <- req:
	case <-r.done:
		return timer.Step{}, ErrStopped
	case <-ctx.Done():
		return timer.Step{}, ctx.Err()
	}

	select {
	case step := <-req.reply:
		return step, nil
	case <-ctx.Done():
		return timer.Step{}, ctx.Err()
	}
}

func (r *Runner) run() {
	defer close(r.done)
	if r.hooks.OnExit != nil {
		defer r.hooks.OnExit(r.machine)
	}

	ticker := r.cfg.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	delta := r.cfg.Interval.Milliseconds()
	for {
		select {
		case <-r.ctx.Done():
			return
		case req := <-r.cmds:
			if req.barrier {
				req.reply <- timer.Step{}
				continue
			}
			step := req.fn(r.machine)
			if r.hooks.OnCommand != nil {
				r.hooks.OnCommand(step, r.machine)
			}
			req.reply <- step
			if step.Completed && r.cfg.StopOnComplete {
				return
			}
		case <-ticker.C():
			if r.hooks.Gate != nil && !r.hooks.Gate() {
				continue
			}
			step := r.machine.Tick(delta)
			if r.hooks.OnTick != nil {
				r.hooks.OnTick(step, r.machine)
			}
			if step.Completed && r.cfg.StopOnComplete {
				return
			}
		}
	}
}
