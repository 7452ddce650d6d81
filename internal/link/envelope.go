package link

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/pacer/internal/models"
	"github.com/fentz26/pacer/internal/timer"
)

// Envelope addresses a message to a session. Seq increases monotonically
// within a session and lets the follower detect stale deliveries.
type Envelope struct {
	SessionID string
	Seq       uint64
	// Durable is set on envelopes delivered through the queued path.
	Durable bool
	SentAt  time.Time
	Message Message
}

type wireEnvelope struct {
	Type      Kind            `json:"type"`
	SessionID string          `json:"session_id"`
	Seq       uint64          `json:"seq"`
	Durable   bool            `json:"durable,omitempty"`
	SentAt    time.Time       `json:"sent_at"`
	Payload   json.RawMessage `json:"payload"`
}

type statePayload struct {
	Plan  *models.Plan       `json:"plan,omitempty"`
	State *models.TimerState `json:"state,omitempty"`
}

type timePayload struct {
	TimeRemainingMillis *int64 `json:"time_remaining_millis"`
}

// Encode serializes env to its JSON frame.
func Encode(env Envelope) ([]byte, error) {
	if env.Message == nil {
		return nil, fmt.Errorf("encode envelope: nil message")
	}

	var payload any
	switch m := env.Message.(type) {
	case Started:
		plan, state := m.Plan, m.State
		payload = statePayload{Plan: &plan, State: &state}
	case IntervalChanged:
		state := m.State
		payload = statePayload{State: &state}
	case Countdown:
		ms := m.TimeRemainingMillis
		payload = timePayload{TimeRemainingMillis: &ms}
	case TimerUpdate:
		ms := m.TimeRemainingMillis
		payload = timePayload{TimeRemainingMillis: &ms}
	case Completed, Stopped:
		payload = struct{}{}
	default:
		return nil, fmt.Errorf("encode envelope: unknown message %T", env.Message)
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return json.Marshal(wireEnvelope{
		Type:      env.Message.Kind(),
		SessionID: env.SessionID,
		Seq:       env.Seq,
		Durable:   env.Durable,
		SentAt:    env.SentAt,
		Payload:   raw,
	})
}

// Decode parses and validates a frame. Every failure wraps
// ErrMalformedMessage.
func Decode(data []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(data, &wire); err != nil {
		return Envelope{}, malformed("%v", err)
	}
	if wire.SessionID == "" {
		return Envelope{}, malformed("missing session_id")
	}
	if wire.Seq == 0 {
		return Envelope{}, malformed("missing seq")
	}

	env := Envelope{
		SessionID: wire.SessionID,
		Seq:       wire.Seq,
		Durable:   wire.Durable,
		SentAt:    wire.SentAt,
	}

	switch wire.Type {
	case KindStarted:
		var p statePayload
		if err := decodePayload(wire, &p); err != nil {
			return Envelope{}, err
		}
		if p.Plan == nil || p.State == nil {
			return Envelope{}, malformed("started requires plan and state")
		}
		if err := timer.ValidatePlan(*p.Plan); err != nil {
			return Envelope{}, malformed("%v", err)
		}
		if err := timer.ValidateState(*p.Plan, *p.State); err != nil {
			return Envelope{}, malformed("%v", err)
		}
		env.Message = Started{Plan: *p.Plan, State: *p.State}
	case KindIntervalChanged:
		var p statePayload
		if err := decodePayload(wire, &p); err != nil {
			return Envelope{}, err
		}
		if p.State == nil {
			return Envelope{}, malformed("interval_changed requires state")
		}
		if err := checkState(*p.State); err != nil {
			return Envelope{}, err
		}
		env.Message = IntervalChanged{State: *p.State}
	case KindCountdown, KindTimerUpdate:
		var p timePayload
		if err := decodePayload(wire, &p); err != nil {
			return Envelope{}, err
		}
		if p.TimeRemainingMillis == nil || *p.TimeRemainingMillis < 0 {
			return Envelope{}, malformed("%s requires non-negative time_remaining_millis", wire.Type)
		}
		if wire.Type == KindCountdown {
			env.Message = Countdown{TimeRemainingMillis: *p.TimeRemainingMillis}
		} else {
			env.Message = TimerUpdate{TimeRemainingMillis: *p.TimeRemainingMillis}
		}
	case KindCompleted:
		env.Message = Completed{}
	case KindStopped:
		env.Message = Stopped{}
	default:
		return Envelope{}, malformed("unknown type %q", wire.Type)
	}
	return env, nil
}

func decodePayload(wire wireEnvelope, dst any) error {
	if len(wire.Payload) == 0 {
		return malformed("%s missing payload", wire.Type)
	}
	if err := json.Unmarshal(wire.Payload, dst); err != nil {
		return malformed("%s payload: %v", wire.Type, err)
	}
	return nil
}

func checkState(s models.TimerState) error {
	switch {
	case s.CurrentRound < 1:
		return malformed("round %d out of range", s.CurrentRound)
	case s.CurrentIntervalIndex < 0:
		return malformed("interval index %d out of range", s.CurrentIntervalIndex)
	case s.TimeRemainingMillis < 0:
		return malformed("negative time remaining")
	case s.Completed && (s.Running || s.TimeRemainingMillis != 0):
		return malformed("completed state must be stopped at zero")
	}
	return nil
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// Sequencer numbers envelopes per session, starting at 1.
type Sequencer struct {
	mu      sync.Mutex
	session string
	seq     uint64
	now     func() time.Time
}

// NewSequencer returns a sequencer stamping envelopes with the wall clock.
func NewSequencer() *Sequencer {
	return &Sequencer{now: func() time.Time { return time.Now().UTC() }}
}

// Wrap assigns the next sequence number of sessionID to msg.
func (s *Sequencer) Wrap(sessionID string, msg Message) Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sessionID != s.session {
		s.session = sessionID
		s.seq = 0
	}
	s.seq++
	return Envelope{SessionID: sessionID, Seq: s.seq, SentAt: s.now(), Message: msg}
}
