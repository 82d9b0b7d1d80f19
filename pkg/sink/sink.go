package sink

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/mpapenbr/forza-session-recorder/log"
	"github.com/mpapenbr/forza-session-recorder/pkg/model"
	"github.com/mpapenbr/forza-session-recorder/pkg/session"
)

type Mode string

const (
	// ModeBuffered keeps all rows in memory and writes the file on commit.
	ModeBuffered Mode = "buffered"
	// ModeStream writes rows to a hidden part file while the session runs
	// and publishes it on commit.
	ModeStream Mode = "stream"
)

const tracerName = "github.com/mpapenbr/forza-session-recorder/pkg/sink"

var (
	ErrUnknownMode = errors.New("unknown sink mode")
	ErrNoSession   = errors.New("no open session")
	ErrSessionOpen = errors.New("session already open")
)

// Sink decides how the rows of a session reach storage.
// A sink handles one session at a time and can be reused after Commit or
// Abort.
type Sink interface {
	Open(s *session.Session) error
	Append(sample *model.Sample) error
	// Commit stores the open session. The sink is ready for the next session
	// afterwards, regardless of the result.
	Commit(ctx context.Context) (path string, err error)
	// Abort discards the open session.
	Abort()
}

type (
	config struct {
		l          *log.Logger
		tracer     trace.Tracer
		flushEvery int
	}
	Option func(*config)
)

func WithLogger(l *log.Logger) Option {
	return func(c *config) {
		c.l = l
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *config) {
		c.tracer = t
	}
}

// WithFlushEvery controls how many rows the stream sink collects before the
// data is handed to the file. Ignored by the buffered sink.
func WithFlushEvery(n int) Option {
	return func(c *config) {
		c.flushEvery = n
	}
}

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeBuffered, ModeStream:
		return m, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// New creates the sink for mode storing files in folder.
func New(mode Mode, folder string, opts ...Option) (Sink, error) {
	cfg := &config{
		l:          log.Default().Named("sink"),
		tracer:     otel.Tracer(tracerName),
		flushEvery: 60,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.flushEvery < 1 {
		cfg.flushEvery = 1
	}
	committer := NewCommitter(folder, cfg.l, cfg.tracer)
	switch mode {
	case ModeBuffered:
		return &bufferedSink{committer: committer, l: cfg.l}, nil
	case ModeStream:
		return &streamSink{
			committer:  committer,
			folder:     folder,
			flushEvery: cfg.flushEvery,
			l:          cfg.l,
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

type bufferedSink struct {
	committer *Committer
	l         *log.Logger
	current   *session.Session
	rows      *RowBuffer
}

var _ Sink = (*bufferedSink)(nil)

func (b *bufferedSink) Open(s *session.Session) error {
	if b.current != nil {
		return fmt.Errorf("%w: %s", ErrSessionOpen, b.current.ID)
	}
	if b.rows == nil {
		b.rows = NewRowBuffer()
	} else {
		b.rows.Reset()
	}
	b.current = s
	return nil
}

func (b *bufferedSink) Append(sample *model.Sample) error {
	if b.current == nil {
		return ErrNoSession
	}
	if err := b.rows.Append(sample); err != nil {
		return err
	}
	b.current.Rows = b.rows.Len()
	return nil
}

func (b *bufferedSink) Commit(ctx context.Context) (string, error) {
	if b.current == nil {
		return "", ErrNoSession
	}
	s := b.current
	b.current = nil
	path, err := b.committer.Commit(ctx, s.ID, b.rows.Bytes())
	b.rows.Reset()
	if err != nil {
		return path, err
	}
	if err := s.MarkCommitted(); err != nil {
		return path, err
	}
	b.l.Debug("session committed",
		log.String("session", s.ID), log.Int("rows", s.Rows), log.String("path", path))
	return path, nil
}

func (b *bufferedSink) Abort() {
	if b.current == nil {
		return
	}
	b.l.Debug("session aborted", log.String("session", b.current.ID))
	b.current = nil
	b.rows.Reset()
}
