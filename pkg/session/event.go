package session

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	KindStarted   EventKind = "started"
	KindCommitted EventKind = "committed"
	KindFailed    EventKind = "failed"
)

// Event describes a lifecycle change of a session for external consumers.
type Event struct {
	ID        string    `json:"id"`
	Kind      EventKind `json:"kind"`
	Session   string    `json:"session"`
	Class     int32     `json:"class"`
	Ordinal   int32     `json:"ordinal"`
	StartedAt time.Time `json:"startedAt"`
	Rows      int       `json:"rows"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// NewEvent creates an event of kind for s with a random id.
func NewEvent(kind EventKind, s *Session, at time.Time) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Kind:      kind,
		Session:   s.ID,
		Class:     s.Vehicle.Class,
		Ordinal:   s.Vehicle.Ordinal,
		StartedAt: s.StartedAt,
		Rows:      s.Rows,
		Time:      at.UTC(),
	}
}
