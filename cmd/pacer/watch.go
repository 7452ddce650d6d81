package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/pacer/internal/follower"
	"github.com/fentz26/pacer/internal/link"
	"github.com/fentz26/pacer/internal/logging"
	"github.com/fentz26/pacer/internal/permit"
	"github.com/fentz26/pacer/internal/store"
	"github.com/fentz26/pacer/internal/tui"
)

var noAutoStandalone bool

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Launch the watch face",
	Long: `Launches the watch face. It mirrors the source session while linked and
switches to an independent timer when the link stays down past
follower.reconnect_grace.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&noAutoStandalone, "no-auto-standalone", false, "Never switch to the independent timer on its own")
}

func runWatch(cmd *cobra.Command, args []string) error {
	// The terminal belongs to the TUI, so logs go to a file.
	if cfg.Log.File == "" {
		wl, err := logging.New(logging.Options{
			Level:  cfg.Log.Level,
			Format: "json",
			File:   filepath.Join(cfg.Source.StateDir, "watch.log"),
		})
		if err != nil {
			return err
		}
		logger = wl
	}
	log := logging.NewComponentLogger(logger, "watch")

	cache, err := store.New(cfg.Follower.CacheDB)
	if err != nil {
		return err
	}
	defer cache.Close()

	feedback := tui.NewFeedback(32)
	f := follower.New(follower.Config{
		TickInterval:    cfg.Timer.TickInterval,
		CountdownWindow: cfg.Timer.CountdownWindow,
	}, follower.Deps{
		Haptics: feedback,
		Alerts:  feedback,
		Permits: permit.NewFileLock(cfg.Follower.LockFile),
		Cache:   cache,
		Logger:  logger,
	})
	defer f.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	lw := newLinkWatch()
	client, err := newSyncClient(f, lw)
	if err != nil {
		return err
	}

	g.Go(func() error { return client.Run(gctx) })
	g.Go(func() error { return pollMailbox(gctx, client, f, lw) })
	if !noAutoStandalone {
		g.Go(func() error { return autoStandalone(gctx, f, lw, log) })
	}
	g.Go(func() error {
		defer stop()
		defer feedback.Close()
		return tui.New(f, tui.NewClient(apiAddr), feedback).Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// linkWatch tracks when the sync link went down and wakes the mailbox poller
// on reconnect.
type linkWatch struct {
	mu        sync.Mutex
	downSince time.Time
	connected bool
	wake      chan struct{}
}

func newLinkWatch() *linkWatch {
	return &linkWatch{downSince: time.Now(), wake: make(chan struct{}, 1)}
}

func (l *linkWatch) set(s link.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connected = s == link.StatusConnected
	if l.connected {
		select {
		case l.wake <- struct{}{}:
		default:
		}
		return
	}
	l.downSince = time.Now()
}

// downFor reports how long the link has been unavailable, or 0 if it is up.
func (l *linkWatch) downFor(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.connected {
		return 0
	}
	return now.Sub(l.downSince)
}

func newSyncClient(f *follower.Follower, lw *linkWatch) (*link.Client, error) {
	return link.NewClient(link.ClientConfig{BaseURL: apiAddr, Logger: logger},
		func(env link.Envelope) { f.Handle(env) },
		func(s link.Status) {
			lw.set(s)
			f.OnLinkStatus(s)
		},
	)
}

// pollMailbox drains durable envelopes on reconnect and then periodically.
func pollMailbox(ctx context.Context, client *link.Client, f *follower.Follower, lw *linkWatch) error {
	poll := cfg.Follower.MailboxPoll
	if poll <= 0 {
		poll = 2 * time.Second
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-lw.wake:
		}
		envs, err := client.DrainMailbox(ctx)
		if err != nil {
			if !link.IsUnavailable(err) && ctx.Err() == nil {
				logger.Warn("drain mailbox", logging.Error(err))
			}
			continue
		}
		for _, env := range envs {
			f.Handle(env)
		}
	}
}

// autoStandalone switches to the independent timer once the link has been
// down longer than the grace period and there is a mirrored session to keep
// running.
func autoStandalone(ctx context.Context, f *follower.Follower, lw *linkWatch, log *slog.Logger) error {
	grace := cfg.Follower.ReconnectGrace
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if lw.downFor(now) <= grace || f.Mode() != follower.ModeMirrored || !f.HasSession() {
				continue
			}
			if err := f.EnterStandalone(ctx); err != nil {
				log.Warn("enter standalone", logging.Error(err))
				continue
			}
			log.Info("link lost, independent timer running", logging.Duration("grace", grace))
		}
	}
}
