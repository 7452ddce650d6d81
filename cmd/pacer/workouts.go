package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/fentz26/pacer/internal/models"
)

var workoutsLimit int

var workoutsCmd = &cobra.Command{
	Use:   "workouts",
	Short: "List completed workouts",
	RunE:  runWorkouts,
}

func init() {
	workoutsCmd.Flags().IntVarP(&workoutsLimit, "limit", "n", 20, "Maximum number of workouts")
}

func runWorkouts(cmd *cobra.Command, args []string) error {
	resp, _, err := apiGet("/workouts?limit=" + strconv.Itoa(workoutsLimit))
	if err != nil {
		return err
	}

	var workouts []models.Workout
	if err := json.Unmarshal(resp, &workouts); err != nil {
		return err
	}
	if len(workouts) == 0 {
		fmt.Println("No completed workouts yet")
		return nil
	}

	rows := make([][]string, 0, len(workouts))
	for _, w := range workouts {
		name := w.RoutineName
		if name == "" {
			name = "-"
		}
		rows = append(rows, []string{
			w.CompletedAt.Local().Format("2006-01-02 15:04"),
			name,
			strconv.Itoa(w.Rounds),
			strconv.Itoa(w.Intervals),
			(time.Duration(w.DurationMillis) * time.Millisecond).Round(time.Second).String(),
		})
	}
	fmt.Println(renderTable(
		[]string{"Completed", "Routine", "Rounds", "Intervals", "Duration"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
	))
	return nil
}
