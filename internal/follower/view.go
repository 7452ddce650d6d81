package follower

import "github.com/fentz26/pacer/internal/timer"

// Latest returns the current view.
func (f *Follower) Latest() View {
	f.viewMu.Lock()
	defer f.viewMu.Unlock()
	return f.view
}

// Subscribe registers for views. Slow subscribers miss intermediate views.
// Call the returned function to unsubscribe.
func (f *Follower) Subscribe(buffer int) (<-chan View, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan View, buffer)

	f.viewMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = ch
	ch <- f.view
	f.viewMu.Unlock()

	var once bool
	return ch, func() {
		f.viewMu.Lock()
		defer f.viewMu.Unlock()
		if once {
			return
		}
		once = true
		delete(f.subs, id)
		close(ch)
	}
}

// setView mutates the view and fans it out.
func (f *Follower) setView(mutate func(*View)) {
	f.viewMu.Lock()
	defer f.viewMu.Unlock()
	mutate(&f.view)
	for _, ch := range f.subs {
		select {
		case ch <- f.view:
		default:
		}
	}
}

// publishMirror requires f.mu and a mirror.
func (f *Follower) publishMirror() {
	next := f.mirrorView(f.mirror)
	f.setView(func(v *View) { keepLink(v, next) })
}

func (f *Follower) mirrorView(m *mirror) View {
	v := View{
		Mode:      ModeMirrored,
		SessionID: m.sessionID,
		Plan:      m.plan,
		State:     m.state,
		Completed: m.state.Completed,
		Phase:     timer.PhaseRunning,
	}
	if !m.state.Running {
		v.Phase = timer.PhasePaused
	}
	if idx := m.state.CurrentIntervalIndex; idx >= 0 && idx < len(m.plan.Intervals) {
		v.Current = m.plan.Intervals[idx]
	}
	return v
}

// engineChanged runs on the engine loop goroutine and must not take f.mu.
func (f *Follower) engineChanged(es EngineState) {
	f.setView(func(v *View) {
		if v.Mode != ModeStandalone {
			return
		}
		v.Plan = es.Plan
		v.State = es.State
		v.Phase = es.Phase
		v.Current = es.Current
		v.Completed = es.State.Completed
	})
}

// keepLink replaces v with next but keeps the transport fields.
func keepLink(v *View, next View) {
	next.Link = v.Link
	next.Offline = v.Offline
	*v = next
}
