// Package permit provides background execution permits.
//
// A permit is the scoped resource that lets a tick loop keep running while
// nothing is watching it. The source daemon holds an exclusive file lock for
// the lifetime of a session; a second daemon on the same state directory is
// denied and has to run degraded.
package permit

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"
)

// ErrDenied is returned when the platform refuses a permit.
var ErrDenied = errors.New("background execution permit denied")

// Permit is a held permit. Release is idempotent.
type Permit interface {
	Release() error
}

// Provider hands out permits.
type Provider interface {
	Acquire(ctx context.Context) (Permit, error)
}

// FileLock grants at most one permit at a time per lock path, across
// processes.
type FileLock struct {
	path string
}

// NewFileLock returns a provider backed by an flock on path.
func NewFileLock(path string) *FileLock {
	return &FileLock{path: path}
}

// Acquire takes the lock without blocking.
func (f *FileLock) Acquire(ctx context.Context) (Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	lock := flock.New(f.path)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire permit lock: %w", err)
	}
	if !ok {
		return nil, ErrDenied
	}
	return &filePermit{lock: lock}, nil
}

type filePermit struct {
	lock *flock.Flock
	once sync.Once
	err  error
}

func (p *filePermit) Release() error {
	p.once.Do(func() {
		if err := p.lock.Unlock(); err != nil {
			p.err = fmt.Errorf("release permit lock: %w", err)
		}
	})
	return p.err
}

// Always grants every request. Used where the platform has no notion of
// background execution.
type Always struct{}

func (Always) Acquire(ctx context.Context) (Permit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nopPermit{}, nil
}

// Deny refuses every request.
type Deny struct{}

func (Deny) Acquire(context.Context) (Permit, error) {
	return nil, ErrDenied
}

type nopPermit struct{}

func (nopPermit) Release() error { return nil }
