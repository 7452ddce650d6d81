package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/fentz26/pacer/internal/controlplane"
	"github.com/fentz26/pacer/internal/host"
	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/routinefile"
	"github.com/fentz26/pacer/internal/timer"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Start and control the workout session",
}

var sessionStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a session from a routine, a file, or inline intervals",
	Example: `  pacer session start --routine Tabata
  pacer session start --file hiit.toml
  pacer session start --rounds 3 --interval Work:40 --interval Rest:20:rest`,
	RunE: runSessionStart,
}

var sessionStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Abort the running session",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiDelete("/session"); err != nil {
			return err
		}
		fmt.Println("Session stopped")
		return nil
	},
}

var sessionShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the running session",
	RunE:  runSessionShow,
}

var (
	startRoutine   string
	startFile      string
	startRounds    int
	startIntervals []string
	startNoSpawn   bool
)

func init() {
	sessionCmd.AddCommand(sessionStartCmd, sessionStopCmd, sessionShowCmd)
	for _, c := range []struct{ use, action, short string }{
		{"toggle", controlplane.ActionToggle, "Pause or resume"},
		{"pause", controlplane.ActionPause, "Pause the session"},
		{"resume", controlplane.ActionResume, "Resume the session"},
		{"next", controlplane.ActionNext, "Skip to the next interval"},
		{"prev", controlplane.ActionPrevious, "Go back one interval"},
		{"reset", controlplane.ActionReset, "Restart from the first interval"},
	} {
		sessionCmd.AddCommand(controlCmd(c.use, c.action, c.short))
	}

	sessionStartCmd.Flags().StringVar(&startRoutine, "routine", "", "Stored routine name or ID")
	sessionStartCmd.Flags().StringVar(&startFile, "file", "", "Routine TOML file")
	sessionStartCmd.Flags().IntVar(&startRounds, "rounds", 1, "Rounds for inline intervals")
	sessionStartCmd.Flags().StringArrayVar(&startIntervals, "interval", nil, "Inline interval as name:seconds[:kind], repeatable")
	sessionStartCmd.Flags().BoolVar(&startNoSpawn, "no-spawn", false, "Fail instead of starting the source in the background")
}

func controlCmd(use, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, _, err := apiPost("/session/"+action, nil)
			if err != nil {
				return err
			}
			var view host.View
			if err := json.Unmarshal(resp, &view); err != nil {
				return err
			}
			printView(view)
			return nil
		},
	}
}

func buildStartRequest() (controlplane.StartRequest, error) {
	set := 0
	if startRoutine != "" {
		set++
	}
	if startFile != "" {
		set++
	}
	if len(startIntervals) > 0 {
		set++
	}
	if set != 1 {
		return controlplane.StartRequest{}, errors.New("specify exactly one of --routine, --file or --interval")
	}

	switch {
	case startRoutine != "":
		return controlplane.StartRequest{RoutineID: startRoutine}, nil
	case startFile != "":
		f, err := routinefile.Load(startFile)
		if err != nil {
			return controlplane.StartRequest{}, err
		}
		plan := f.Plan()
		return controlplane.StartRequest{Plan: &plan}, nil
	default:
		intervals, err := parseIntervals(startIntervals)
		if err != nil {
			return controlplane.StartRequest{}, err
		}
		return controlplane.StartRequest{Plan: &models.Plan{Intervals: intervals, Rounds: startRounds}}, nil
	}
}

func runSessionStart(cmd *cobra.Command, args []string) error {
	req, err := buildStartRequest()
	if err != nil {
		return err
	}

	if !isSourceRunning() {
		if startNoSpawn {
			return fmt.Errorf("source is not running at %s", apiAddr)
		}
		fmt.Println("Starting source in the background...")
		if err := startSource(); err != nil {
			return fmt.Errorf("start source: %w", err)
		}
	}

	resp, status, err := apiPost("/session", req)
	if err != nil {
		return err
	}
	if status == http.StatusAccepted {
		fmt.Println("Start queued; it runs as soon as the source host is ready")
		return nil
	}

	var info host.SessionInfo
	if err := json.Unmarshal(resp, &info); err != nil {
		return err
	}
	name := info.RoutineName
	if name == "" {
		name = "inline plan"
	}
	fmt.Printf("Session %s started: %s, %d round(s), %s\n", info.ID, name, info.Plan.Rounds, info.Plan.TotalDuration())
	if !info.Background {
		fmt.Println(warnColor("No background permit: the timer only ticks while the source is in the foreground"))
	}
	return nil
}

func runSessionShow(cmd *cobra.Command, args []string) error {
	resp, _, err := apiGet("/session")
	if err != nil {
		var apiErr *apiError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			fmt.Println("No active session")
			return nil
		}
		return err
	}
	var view host.View
	if err := json.Unmarshal(resp, &view); err != nil {
		return err
	}
	printView(view)
	return nil
}

func printView(v host.View) {
	if !v.Active {
		fmt.Println("No active session")
		return
	}
	st := v.State
	label := okColor(string(v.Phase))
	if v.Phase != timer.PhaseRunning {
		label = warnColor(string(v.Phase))
	}
	fmt.Printf("%s  %s  %s\n", headColor(v.Current.Name), formatMillis(st.TimeRemainingMillis), label)
	fmt.Printf("Round %d/%d   Interval %d/%d\n", st.CurrentRound, v.Plan.Rounds, st.CurrentIntervalIndex+1, len(v.Plan.Intervals))
	if v.Next != nil {
		fmt.Printf("Next: %s (%ds)\n", v.Next.Name, v.Next.Duration)
	}
}
