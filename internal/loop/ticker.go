package loop

import (
	"sync"
	"time"
)

// Ticker delivers ticks to a runner.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TickerFunc builds a Ticker for the given period.
type TickerFunc func(time.Duration) Ticker

// NewTicker returns a wall-clock ticker.
func NewTicker(d time.Duration) Ticker {
	return stdTicker{time.NewTicker(d)}
}

type stdTicker struct {
	t *time.Ticker
}

func (s stdTicker) C() <-chan time.Time { return s.t.C }

func (s stdTicker) Stop() { s.t.Stop() }

// ManualTicker is a Ticker driven by hand. Tests use it to step a runner
// deterministically.
type ManualTicker struct {
	ch   chan time.Time
	once sync.Once
	stop chan struct{}
}

// NewManualTicker creates a ManualTicker.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{
		ch:   make(chan time.Time),
		stop: make(chan struct{}),
	}
}

// C implements Ticker.
func (m *ManualTicker) C() <-chan time.Time { return m.ch }

// Stop implements Ticker.
func (m *ManualTicker) Stop() {
	m.once.Do(func() { close(m.stop) })
}

// Fire delivers one tick. It returns false if the ticker was stopped or no
// runner accepted the tick within a second.
func (m *ManualTicker) Fire() bool {
	select {
	case m.ch <- time.Time{}:
		return true
	case <-m.stop:
		return false
	case <-time.After(time.Second):
		return false
	}
}

// Func returns a TickerFunc that always hands out m.
func (m *ManualTicker) Func() TickerFunc {
	return func(time.Duration) Ticker { return m }
}
