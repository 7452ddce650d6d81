package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/pacer/internal/audit"
	"github.com/fentz26/pacer/internal/controlplane"
	"github.com/fentz26/pacer/internal/host"
	"github.com/fentz26/pacer/internal/link"
	"github.com/fentz26/pacer/internal/logging"
	"github.com/fentz26/pacer/internal/permit"
	"github.com/fentz26/pacer/internal/store"
	"github.com/fentz26/pacer/internal/surface"
)

const shutdownTimeout = 30 * time.Second

var (
	listenAddr string
	dbPath     string
	foreground bool
)

var sourceCmd = &cobra.Command{
	Use:   "source",
	Short: "Start the pacer source daemon",
	Long: `Starts the source daemon. It owns the authoritative timer, serves the HTTP
API and the sync channel, and writes the widget snapshot file.`,
	RunE: runSource,
}

func init() {
	sourceCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (defaults to source.listen)")
	sourceCmd.Flags().StringVar(&dbPath, "db", "", "SQLite path or libsql URL (defaults to source.db)")
	sourceCmd.Flags().BoolVar(&foreground, "foreground", isatty.IsTerminal(os.Stdin.Fd()), "Keep ticking without a background permit")
}

func runSource(cmd *cobra.Command, args []string) error {
	if listenAddr == "" {
		listenAddr = cfg.Source.Listen
	}
	if dbPath == "" {
		dbPath = cfg.Source.DB
	}
	log := logging.NewComponentLogger(logger, "source")

	// Initialize store
	s, err := store.New(dbPath)
	if err != nil {
		return err
	}
	log.Info("store opened", logging.String("driver", s.Driver()))

	// Initialize components
	journal := audit.NewJournal(s)
	hub := link.NewHub(link.HubConfig{Mailbox: s, Logger: logger})
	controller := host.NewController(logger)

	service := controlplane.NewService(s, journal, controller, logger)
	server := controlplane.NewServer(service, hub, s, listenAddr, logger)

	ln, err := server.Listen()
	if err != nil {
		s.Close()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	// The API is up before the host attaches so early starts are queued.
	g.Go(func() error { return server.Serve(ln) })

	h := host.New(host.Config{
		TickInterval:     cfg.Timer.TickInterval,
		PublishEvery:     cfg.Timer.PublishEvery,
		TimerUpdateEvery: cfg.Timer.TimerUpdateEvery,
		CountdownWindow:  cfg.Timer.CountdownWindow,
	}, host.Deps{
		Surface:  surface.NewFileSink(cfg.SurfacePath()),
		Permits:  permit.NewFileLock(cfg.Source.Lock),
		Sender:   hub,
		Recorder: s,
		Journal:  journal,
		Logger:   logger,
	})
	h.SetForeground(foreground)
	hub.SetGreeter(h)

	if info, drained, err := controller.OnHostConnected(gctx, h); err != nil {
		log.Warn("queued start failed", logging.Error(err))
	} else if drained {
		log.Info("queued start running", logging.Session(info.ID))
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		controller.OnHostDisconnected()
		if err := h.StopSession(shutdownCtx); err != nil && !errors.Is(err, host.ErrNoSession) {
			log.Warn("stop session", logging.Error(err))
		}
		hub.Close()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warn("HTTP server shutdown error", logging.Error(err))
		}
		return nil
	})

	err = g.Wait()

	if cerr := s.Close(); cerr != nil {
		log.Warn("database close error", logging.Error(cerr))
	}
	log.Info("shutdown complete")
	return err
}

// startSource launches "pacer source" in the background and waits for the
// API to answer.
func startSource() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	args := []string{"source", "--foreground=false"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	cmd := exec.Command(exe, args...)
	// Detach process so it survives the CLI exit
	configureDaemonProc(cmd)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return err
	}

	fmt.Print("   Waiting for source...")
	for i := 0; i < 20; i++ {
		if isSourceRunning() {
			fmt.Println(" Done.")
			return nil
		}
		time.Sleep(250 * time.Millisecond)
		fmt.Print(".")
	}
	fmt.Println(" Timeout!")
	return fmt.Errorf("source started but API not reachable at %s", apiAddr)
}
