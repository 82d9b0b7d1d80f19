package session

import "github.com/mpapenbr/forza-session-recorder/pkg/model"

type (
	State int
	Edge  int
)

const (
	Idle State = iota
	InSession
)

const (
	EdgeNone Edge = iota
	EdgeStarted
	EdgeContinued
	EdgeEnded
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InSession:
		return "in-session"
	default:
		return "unknown"
	}
}

func (e Edge) String() string {
	switch e {
	case EdgeNone:
		return "none"
	case EdgeStarted:
		return "started"
	case EdgeContinued:
		return "continued"
	case EdgeEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Tracker detects race session boundaries. It only reports edges, buffering
// and storage are up to the caller.
type Tracker struct {
	state        State
	lastPosition uint8
}

func NewTracker() *Tracker {
	return &Tracker{state: Idle}
}

// Observe feeds the next sample into the state machine.
// Samples with race_active == false are expected to be filtered by the caller.
// They are ignored here and never cause a transition.
func (t *Tracker) Observe(s *model.Sample) Edge {
	if !s.RaceActive() {
		return EdgeNone
	}
	pos := s.TrackPosition()
	t.lastPosition = pos
	switch t.state {
	case Idle:
		if pos > 0 {
			t.state = InSession
			return EdgeStarted
		}
	case InSession:
		if pos == 0 {
			t.state = Idle
			return EdgeEnded
		}
		return EdgeContinued
	}
	return EdgeNone
}

func (t *Tracker) State() State {
	return t.state
}

func (t *Tracker) LastPosition() uint8 {
	return t.lastPosition
}

// Reset forces the tracker back to Idle, e.g. after a session was closed
// because of a shutdown.
func (t *Tracker) Reset() {
	t.state = Idle
	t.lastPosition = 0
}
