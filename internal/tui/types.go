package tui

import (
	"context"
	"sync"

	"github.com/fentz26/pacer/internal/follower"
)

// Face is the follower surface the watch face drives.
type Face interface {
	Latest() follower.View
	Subscribe(buffer int) (<-chan follower.View, func())
	EnterStandalone(ctx context.Context) error
	StopStandalone() error
	Toggle(ctx context.Context) error
	SkipNext(ctx context.Context) error
	SkipPrevious(ctx context.Context) error
	Reset(ctx context.Context) error
}

// Remote forwards controls to the source while mirrored.
type Remote interface {
	Control(action string) error
}

// Cue is one haptic or alert to render.
type Cue struct {
	Haptic follower.Haptic
	Title  string
	Body   string
}

// Feedback collects haptics and alerts from the follower for the watch
// face. It satisfies follower.Haptics and follower.Alerts. Cues beyond the
// buffer are dropped.
type Feedback struct {
	mu     sync.Mutex
	ch     chan Cue
	closed bool
}

// NewFeedback creates a Feedback with room for buffer pending cues.
func NewFeedback(buffer int) *Feedback {
	if buffer < 1 {
		buffer = 1
	}
	return &Feedback{ch: make(chan Cue, buffer)}
}

// Play implements follower.Haptics.
func (f *Feedback) Play(h follower.Haptic) {
	f.push(Cue{Haptic: h})
}

// Alert implements follower.Alerts.
func (f *Feedback) Alert(title, body string) {
	f.push(Cue{Title: title, Body: body})
}

// Cues returns the cue stream.
func (f *Feedback) Cues() <-chan Cue { return f.ch }

// Close ends the cue stream.
func (f *Feedback) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.ch)
	}
}

func (f *Feedback) push(c Cue) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	select {
	case f.ch <- c:
	default:
	}
}
