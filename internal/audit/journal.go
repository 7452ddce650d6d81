// Package audit records session-level decisions with a hash of their inputs.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/fentz26/pacer/internal/models"
)

// Actions recorded by pacer.
const (
	ActionSessionStart    = "session.start"
	ActionSessionStop     = "session.stop"
	ActionSessionComplete = "session.complete"
	ActionRoutineCreate   = "routine.create"
	ActionRoutineDelete   = "routine.delete"
)

// Outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeDegraded = "degraded"
	OutcomeAborted  = "aborted"
)

// EventWriter persists session events. *store.Store satisfies it.
type EventWriter interface {
	WriteSessionEvent(ctx context.Context, action, inputsHash, outcome, sessionID, details string) (*models.SessionEvent, error)
}

// Journal writes session events for audit trails.
type Journal struct {
	w EventWriter
}

// NewJournal creates a journal on w.
func NewJournal(w EventWriter) *Journal {
	return &Journal{w: w}
}

// Record writes an event for a state-mutating action.
func (j *Journal) Record(ctx context.Context, action string, inputs any, outcome, sessionID, details string) (*models.SessionEvent, error) {
	return j.w.WriteSessionEvent(ctx, action, hashInputs(inputs), outcome, sessionID, details)
}

// hashInputs creates a SHA256 hash of the inputs for reproducibility.
func hashInputs(inputs any) string {
	data, err := json.Marshal(inputs)
	if err != nil {
		return "hash_error"
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}
