package host

import (
	"github.com/fentz26/pacer/internal/logging"
	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/timer"
)

// View is an immutable copy of the session as last published by the loop.
type View struct {
	Active      bool              `json:"active"`
	SessionID   string            `json:"session_id,omitempty"`
	RoutineName string            `json:"routine_name,omitempty"`
	Plan        models.Plan       `json:"plan"`
	State       models.TimerState `json:"state"`
	Phase       timer.Phase       `json:"phase"`
	Background  bool              `json:"background"`
	Current     models.Interval   `json:"current"`
	Next        *models.Interval  `json:"next,omitempty"`
}

// Snapshot projects the view onto the external surface.
func (v View) Snapshot() models.ExecutionSnapshot {
	return models.ExecutionSnapshot{
		SessionID:           v.SessionID,
		IntervalName:        v.Current.Name,
		IntervalKind:        v.Current.Kind,
		TimeRemainingMillis: v.State.TimeRemainingMillis,
		CurrentRound:        v.State.CurrentRound,
		TotalRounds:         v.Plan.Rounds,
		Running:             v.State.Running,
		Completed:           v.State.Completed,
		Background:          v.Background,
	}
}

// Latest returns the last published view. ok is false when idle.
func (h *Host) Latest() (View, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.view, h.view.Active
}

// Subscribe registers for views. Slow subscribers miss intermediate views;
// the latest one is always retrievable through Latest. Call the returned
// function to unsubscribe.
func (h *Host) Subscribe(buffer int) (<-chan View, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan View, buffer)

	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = ch
	h.mu.Unlock()

	var unsubscribed bool
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if unsubscribed {
			return
		}
		unsubscribed = true
		delete(h.subs, id)
		close(ch)
	}
}

func (h *Host) buildView(sess *session, m *timer.Machine) View {
	v := View{
		Active:      true,
		SessionID:   sess.info.ID,
		RoutineName: sess.info.RoutineName,
		Plan:        sess.info.Plan,
		State:       m.State(),
		Phase:       m.Phase(),
		Background:  sess.info.Background,
	}
	v.Current, _ = m.CurrentInterval()
	if next, _, ok := m.NextInterval(); ok {
		v.Next = &next
	}
	return v
}

// commit stores view as the latest and fans it out. When publish is set the
// surface is updated too.
func (h *Host) commit(view View, publish bool) {
	h.mu.Lock()
	h.view = view
	for _, ch := range h.subs {
		select {
		case ch <- view:
		default:
		}
	}
	h.mu.Unlock()

	if publish {
		h.publish(view)
	}
}

func (h *Host) publish(view View) {
	if !view.Active {
		return
	}
	snap := view.Snapshot()
	snap.PublishedAt = h.deps.Now()
	if err := h.deps.Surface.Publish(snap); err != nil {
		h.logger.Warn("publish snapshot", logging.Session(view.SessionID), logging.Error(err))
	}
}
