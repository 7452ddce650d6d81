package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/fentz26/pacer/internal/surface"
)

var (
	headColor = color.New(color.FgCyan, color.Bold).SprintFunc()
	okColor   = color.New(color.FgGreen).SprintFunc()
	warnColor = color.New(color.FgYellow).SprintFunc()
	dimColor  = color.New(color.Faint).SprintFunc()
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the published workout snapshot",
	Long: `Reads the snapshot the source publishes for notifications and widgets.
Works without the source running; the snapshot may lag by up to a second.`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	snap, err := surface.Read(cfg.SurfacePath())
	if errors.Is(err, surface.ErrEmpty) {
		fmt.Println("Idle: no workout running")
		return nil
	}
	if err != nil {
		return err
	}

	state := okColor("running")
	switch {
	case snap.Completed:
		state = okColor("complete")
	case !snap.Running:
		state = warnColor("paused")
	}

	fmt.Printf("%s  %s  %s\n", headColor(snap.IntervalName), formatMillis(snap.TimeRemainingMillis), state)
	fmt.Printf("Round %d/%d\n", snap.CurrentRound, snap.TotalRounds)
	if !snap.Background {
		fmt.Println(warnColor("foreground only"))
	}
	fmt.Println(dimColor(fmt.Sprintf("published %s ago", time.Since(snap.PublishedAt).Round(time.Second))))
	return nil
}

// formatMillis renders remaining time rounded up to the whole second.
func formatMillis(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	secs := (ms + 999) / 1000
	if secs >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
	}
	return fmt.Sprintf("%02d:%02d", secs/60, secs%60)
}
