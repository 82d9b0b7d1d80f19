package session

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/mpapenbr/forza-session-recorder/pkg/model"
)

type Status int

const (
	Open Status = iota
	Committed
)

const idTimeLayout = "20060102T150405"

var ErrAlreadyCommitted = errors.New("session already committed")

// Session is a single race, from the first sample with a race position > 0
// until the race position drops back to 0.
type Session struct {
	ID        string
	Vehicle   model.Vehicle
	StartedAt time.Time
	Seq       uint64
	Rows      int
	status    Status
}

func (s *Session) Status() Status {
	return s.status
}

// MarkCommitted transitions the session to Committed. A session can be
// committed exactly once.
func (s *Session) MarkCommitted() error {
	if s.status == Committed {
		return fmt.Errorf("%w: %s", ErrAlreadyCommitted, s.ID)
	}
	s.status = Committed
	return nil
}

type (
	// Factory creates sessions with unique identifiers.
	Factory struct {
		seq   atomic.Uint64
		clock func() time.Time
	}
	FactoryOption func(*Factory)
)

func NewFactory(opts ...FactoryOption) *Factory {
	ret := &Factory{clock: time.Now}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func WithClock(clock func() time.Time) FactoryOption {
	return func(f *Factory) {
		f.clock = clock
	}
}

// New creates a session for the vehicle found in the first sample.
// The identifier contains the vehicle, the start time and a per process
// sequence number, so two races with the same car never share an id.
func (f *Factory) New(first *model.Sample) *Session {
	v := first.Vehicle()
	now := f.clock().UTC()
	seq := f.seq.Add(1)
	return &Session{
		ID:        FormatID(v, now, seq),
		Vehicle:   v,
		StartedAt: now,
		Seq:       seq,
		status:    Open,
	}
}

func FormatID(v model.Vehicle, start time.Time, seq uint64) string {
	return fmt.Sprintf("%d_%d_%s_%03d",
		v.Class, v.Ordinal, start.UTC().Format(idTimeLayout), seq)
}

var idRegex = regexp.MustCompile(`^(-?\d+)_(-?\d+)_(\d{8}T\d{6})_(\d+)$`)

type IDInfo struct {
	Vehicle   model.Vehicle
	StartedAt time.Time
	Seq       uint64
}

// ParseID is the inverse of FormatID.
func ParseID(id string) (*IDInfo, error) {
	m := idRegex.FindStringSubmatch(id)
	if m == nil {
		return nil, fmt.Errorf("not a session id: %q", id)
	}
	class, err := strconv.ParseInt(m[1], 10, 32)
	if err != nil {
		return nil, err
	}
	ordinal, err := strconv.ParseInt(m[2], 10, 32)
	if err != nil {
		return nil, err
	}
	start, err := time.Parse(idTimeLayout, m[3])
	if err != nil {
		return nil, err
	}
	seq, err := strconv.ParseUint(m[4], 10, 64)
	if err != nil {
		return nil, err
	}
	return &IDInfo{
		Vehicle:   model.Vehicle{Class: int32(class), Ordinal: int32(ordinal)},
		StartedAt: start,
		Seq:       seq,
	}, nil
}
