// Package surface publishes execution snapshots to external surfaces.
package surface

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fentz26/pacer/internal/models"
)

// ErrEmpty is returned by Read when no snapshot is published.
var ErrEmpty = errors.New("no snapshot published")

// Sink receives snapshots. Clear tears the surface down.
type Sink interface {
	Publish(snap models.ExecutionSnapshot) error
	Clear() error
}

// FileSink writes the latest snapshot as a JSON widget file.
type FileSink struct {
	path string
	mu   sync.Mutex
}

// NewFileSink returns a sink writing to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Path returns the widget file location.
func (f *FileSink) Path() string { return f.path }

// Publish replaces the widget file atomically.
func (f *FileSink) Publish(snap models.ExecutionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create surface dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), ".widget-*.json")
	if err != nil {
		return fmt.Errorf("create surface temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write surface: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close surface: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("replace surface: %w", err)
	}
	return nil
}

// Clear removes the widget file.
func (f *FileSink) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clear surface: %w", err)
	}
	return nil
}

// Read loads the snapshot currently on the widget file at path.
func Read(path string) (models.ExecutionSnapshot, error) {
	var snap models.ExecutionSnapshot
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return snap, ErrEmpty
		}
		return snap, fmt.Errorf("read surface: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("decode surface: %w", err)
	}
	return snap, nil
}

// Multi fans a snapshot out to several sinks. Every sink is attempted; the
// errors are joined.
type Multi []Sink

func (m Multi) Publish(snap models.ExecutionSnapshot) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Clear() error {
	var errs []error
	for _, s := range m {
		if err := s.Clear(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps every published snapshot in memory.
type Recorder struct {
	mu        sync.Mutex
	snapshots []models.ExecutionSnapshot
	cleared   int
}

func (r *Recorder) Publish(snap models.ExecutionSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, snap)
	return nil
}

func (r *Recorder) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cleared++
	return nil
}

// Snapshots returns a copy of everything published so far.
func (r *Recorder) Snapshots() []models.ExecutionSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.ExecutionSnapshot(nil), r.snapshots...)
}

// Cleared returns how many times Clear was called.
func (r *Recorder) Cleared() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleared
}
