package link

import (
	"context"
	"sync"
)

// Sender is the source side of the sync channel. Send is fire-and-forget;
// SendDurable queues the envelope for a follower that is not listening.
// Retract withdraws whatever is still queued for a session that ended.
type Sender interface {
	Send(env Envelope)
	SendDurable(env Envelope) error
	Retract(sessionID string) error
}

// Greeter supplies the envelopes replayed to a newly connected follower.
type Greeter interface {
	Greeting() []Envelope
}

// Mailbox stores durable envelopes until a follower drains them.
type Mailbox interface {
	Put(ctx context.Context, env Envelope) error
	Drain(ctx context.Context, limit int) ([]Envelope, error)
	// Purge drops every queued envelope of sessionID.
	Purge(ctx context.Context, sessionID string) error
}

// Nop discards everything.
type Nop struct{}

func (Nop) Send(Envelope)              {}
func (Nop) SendDurable(Envelope) error { return nil }
func (Nop) Retract(string) error       { return nil }

// MemoryMailbox is an in-process Mailbox.
type MemoryMailbox struct {
	mu      sync.Mutex
	pending []Envelope
}

func (m *MemoryMailbox) Put(_ context.Context, env Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	env.Durable = true
	m.pending = append(m.pending, env)
	return nil
}

func (m *MemoryMailbox) Drain(_ context.Context, limit int) ([]Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.pending)
	if limit > 0 && limit < n {
		n = limit
	}
	out := append([]Envelope(nil), m.pending[:n]...)
	m.pending = m.pending[n:]
	return out, nil
}

func (m *MemoryMailbox) Purge(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.pending[:0]
	for _, env := range m.pending {
		if env.SessionID != sessionID {
			kept = append(kept, env)
		}
	}
	m.pending = kept
	return nil
}
