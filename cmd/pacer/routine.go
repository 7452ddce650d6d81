package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/routinefile"
)

var routineCmd = &cobra.Command{
	Use:   "routine",
	Short: "Manage stored routines",
}

var routineAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a routine from flags",
	Example: `  pacer routine add --name Tabata --rounds 8 \
    --interval Work:20:workout --interval Rest:10:rest`,
	RunE: runRoutineAdd,
}

var routineImportCmd = &cobra.Command{
	Use:   "import [file.toml]",
	Short: "Import a routine from a TOML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutineImport,
}

var routineExportCmd = &cobra.Command{
	Use:   "export [routine]",
	Short: "Export a routine as TOML",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutineExport,
}

var routineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List routines",
	RunE:  runRoutineList,
}

var routineShowCmd = &cobra.Command{
	Use:   "show [routine]",
	Short: "Show a routine",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutineShow,
}

var routineDeleteCmd = &cobra.Command{
	Use:   "delete [routine]",
	Short: "Delete a routine",
	Args:  cobra.ExactArgs(1),
	RunE:  runRoutineDelete,
}

var (
	routineName      string
	routineDesc      string
	routineRounds    int
	routineIntervals []string
	exportOut        string
)

func init() {
	routineCmd.AddCommand(routineAddCmd, routineImportCmd, routineExportCmd, routineListCmd, routineShowCmd, routineDeleteCmd)

	routineAddCmd.Flags().StringVar(&routineName, "name", "", "Routine name (required)")
	routineAddCmd.Flags().StringVar(&routineDesc, "desc", "", "Routine description")
	routineAddCmd.Flags().IntVar(&routineRounds, "rounds", 1, "Number of rounds")
	routineAddCmd.Flags().StringArrayVar(&routineIntervals, "interval", nil, "Interval as name:seconds[:kind], repeatable")
	routineAddCmd.MarkFlagRequired("name")

	routineExportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Write to file instead of stdout")
}

// parseIntervals parses name:seconds[:kind] flag values.
func parseIntervals(raws []string) ([]models.Interval, error) {
	out := make([]models.Interval, 0, len(raws))
	for _, raw := range raws {
		parts := strings.Split(raw, ":")
		if len(parts) < 2 || len(parts) > 3 || strings.TrimSpace(parts[0]) == "" {
			return nil, fmt.Errorf("interval %q: want name:seconds[:kind]", raw)
		}
		secs, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("interval %q: invalid seconds: %w", raw, err)
		}
		iv := models.Interval{Name: strings.TrimSpace(parts[0]), Duration: secs}
		if len(parts) == 3 {
			iv.Kind = models.IntervalKind(strings.ToLower(strings.TrimSpace(parts[2])))
		}
		out = append(out, iv)
	}
	return out, nil
}

func createRoutine(name, desc string, plan models.Plan) error {
	body := map[string]any{
		"name":        name,
		"description": desc,
		"plan":        plan,
	}
	resp, _, err := apiPost("/routines", body)
	if err != nil {
		return err
	}

	var routine models.Routine
	if err := json.Unmarshal(resp, &routine); err != nil {
		return err
	}
	fmt.Printf("Created routine: %s (%s)\n", routine.Name, routine.ID)
	return nil
}

func runRoutineAdd(cmd *cobra.Command, args []string) error {
	intervals, err := parseIntervals(routineIntervals)
	if err != nil {
		return err
	}
	return createRoutine(routineName, routineDesc, models.Plan{Name: routineName, Intervals: intervals, Rounds: routineRounds})
}

func runRoutineImport(cmd *cobra.Command, args []string) error {
	f, err := routinefile.Load(args[0])
	if err != nil {
		return err
	}
	return createRoutine(f.Name, f.Description, f.Plan())
}

func fetchRoutine(ref string) (*models.Routine, error) {
	resp, _, err := apiGet("/routines/" + url.PathEscape(ref))
	if err != nil {
		return nil, err
	}
	var routine models.Routine
	if err := json.Unmarshal(resp, &routine); err != nil {
		return nil, err
	}
	return &routine, nil
}

func runRoutineExport(cmd *cobra.Command, args []string) error {
	routine, err := fetchRoutine(args[0])
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := routinefile.Encode(&buf, routinefile.FromRoutine(*routine)); err != nil {
		return err
	}
	if exportOut == "" {
		_, err := os.Stdout.Write(buf.Bytes())
		return err
	}
	if err := os.WriteFile(exportOut, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", exportOut, err)
	}
	fmt.Printf("Exported %s to %s\n", routine.Name, exportOut)
	return nil
}

func runRoutineList(cmd *cobra.Command, args []string) error {
	resp, _, err := apiGet("/routines")
	if err != nil {
		return err
	}

	var routines []models.Routine
	if err := json.Unmarshal(resp, &routines); err != nil {
		return err
	}
	if len(routines) == 0 {
		fmt.Println("No routines found. Add one with: pacer routine add")
		return nil
	}

	rows := make([][]string, 0, len(routines))
	for _, r := range routines {
		rows = append(rows, []string{
			r.Name,
			strconv.Itoa(len(r.Plan.Intervals)),
			strconv.Itoa(r.Plan.Rounds),
			r.Plan.TotalDuration().String(),
			r.ID,
		})
	}
	fmt.Println(renderTable(
		[]string{"Name", "Intervals", "Rounds", "Total", "ID"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignLeft},
	))
	return nil
}

func runRoutineShow(cmd *cobra.Command, args []string) error {
	routine, err := fetchRoutine(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Routine: %s\n", routine.Name)
	fmt.Printf("ID:      %s\n", routine.ID)
	if routine.Description != "" {
		fmt.Printf("About:   %s\n", routine.Description)
	}
	fmt.Printf("Rounds:  %d (total %s)\n\n", routine.Plan.Rounds, routine.Plan.TotalDuration())

	rows := make([][]string, 0, len(routine.Plan.Intervals))
	for i, iv := range routine.Plan.Intervals {
		rows = append(rows, []string{strconv.Itoa(i + 1), iv.Name, string(iv.Kind), fmt.Sprintf("%ds", iv.Duration)})
	}
	fmt.Println(renderTable([]string{"#", "Interval", "Kind", "Duration"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight}))
	return nil
}

func runRoutineDelete(cmd *cobra.Command, args []string) error {
	if err := apiDelete("/routines/" + url.PathEscape(args[0])); err != nil {
		return err
	}
	fmt.Printf("Deleted routine: %s\n", args[0])
	return nil
}
