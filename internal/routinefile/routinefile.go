// Package routinefile reads and writes routines as TOML documents.
//
//	name = "Tabata"
//	description = "Eight rounds of 20/10"
//	rounds = 8
//
//	[[interval]]
//	name = "Work"
//	duration = 20
//	kind = "workout"
package routinefile

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/timer"
)

// File is the on-disk shape of a routine.
type File struct {
	Name        string         `toml:"name"`
	Description string         `toml:"description,omitempty"`
	Rounds      int            `toml:"rounds"`
	Intervals   []IntervalTOML `toml:"interval"`
}

// IntervalTOML is one [[interval]] table.
type IntervalTOML struct {
	Name     string `toml:"name"`
	Duration int    `toml:"duration"` // seconds
	Kind     string `toml:"kind,omitempty"`
}

// Plan converts f to a plan. It does not validate.
func (f File) Plan() models.Plan {
	plan := models.Plan{Name: f.Name, Rounds: f.Rounds}
	for _, iv := range f.Intervals {
		plan.Intervals = append(plan.Intervals, models.Interval{
			Name:     iv.Name,
			Duration: iv.Duration,
			Kind:     models.IntervalKind(strings.ToLower(iv.Kind)),
		})
	}
	return plan
}

// FromRoutine builds the TOML shape of a stored routine.
func FromRoutine(r models.Routine) File {
	f := File{Name: r.Name, Description: r.Description, Rounds: r.Plan.Rounds}
	for _, iv := range r.Plan.Intervals {
		f.Intervals = append(f.Intervals, IntervalTOML{Name: iv.Name, Duration: iv.Duration, Kind: string(iv.Kind)})
	}
	return f
}

// Decode parses a routine and validates its plan. Unknown keys are rejected
// so typos like "durration" do not silently become zero-length intervals.
func Decode(r io.Reader) (File, error) {
	var f File
	md, err := toml.NewDecoder(r).Decode(&f)
	if err != nil {
		return File{}, fmt.Errorf("invalid TOML format: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return File{}, fmt.Errorf("unknown key %q", undecoded[0].String())
	}
	if strings.TrimSpace(f.Name) == "" {
		return File{}, fmt.Errorf("routine name is required")
	}
	if err := timer.ValidatePlan(f.Plan()); err != nil {
		return File{}, err
	}
	return f, nil
}

// Parse is Decode over a byte slice.
func Parse(data []byte) (File, error) {
	return Decode(bytes.NewReader(data))
}

// Load reads and decodes the routine at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read routine file: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Encode writes f as TOML.
func Encode(w io.Writer, f File) error {
	if err := toml.NewEncoder(w).Encode(f); err != nil {
		return fmt.Errorf("encode routine: %w", err)
	}
	return nil
}
