package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mpapenbr/forza-session-recorder/log"
	"github.com/mpapenbr/forza-session-recorder/pkg/frame"
	"github.com/mpapenbr/forza-session-recorder/pkg/metrics"
	"github.com/mpapenbr/forza-session-recorder/pkg/model"
	"github.com/mpapenbr/forza-session-recorder/pkg/session"
	"github.com/mpapenbr/forza-session-recorder/pkg/sink"
	"github.com/mpapenbr/forza-session-recorder/pkg/snapshot"
)

// Observer gets notified about session lifecycle events.
// Calls are made from the ingestion goroutine and must not block.
type Observer interface {
	SessionStarted(s *session.Session)
	SessionCommitted(s *session.Session, path string)
	SessionFailed(s *session.Session, err error)
}

type (
	// Loop receives datagrams, detects race sessions and hands the samples of
	// a session to the sink. It processes one datagram at a time.
	Loop struct {
		conn             net.PacketConn
		sink             sink.Sink
		tracker          *session.Tracker
		factory          *session.Factory
		position         *snapshot.Position
		observers        []Observer
		metrics          *metrics.Ingest
		l                *log.Logger
		bufSize          int
		exitOnEmpty      bool
		commitOnShutdown bool

		current *session.Session
	}
	Option func(*Loop)
)

func NewLoop(conn net.PacketConn, snk sink.Sink, opts ...Option) *Loop {
	ret := &Loop{
		conn:             conn,
		sink:             snk,
		tracker:          session.NewTracker(),
		l:                log.Default().Named("ingest"),
		bufSize:          frame.MaxDatagramSize,
		commitOnShutdown: true,
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.factory == nil {
		ret.factory = session.NewFactory()
	}
	if ret.metrics == nil {
		ret.metrics = metrics.NewIngest()
	}
	return ret
}

func WithLogger(l *log.Logger) Option {
	return func(loop *Loop) {
		loop.l = l
	}
}

func WithSessionFactory(f *session.Factory) Option {
	return func(loop *Loop) {
		loop.factory = f
	}
}

// WithPosition keeps arg updated with the position of every decoded sample.
func WithPosition(arg *snapshot.Position) Option {
	return func(loop *Loop) {
		loop.position = arg
	}
}

func WithObserver(o Observer) Option {
	return func(loop *Loop) {
		loop.observers = append(loop.observers, o)
	}
}

func WithMetrics(m *metrics.Ingest) Option {
	return func(loop *Loop) {
		loop.metrics = m
	}
}

// WithExitOnEmpty stops the loop when an empty datagram is received.
func WithExitOnEmpty(b bool) Option {
	return func(loop *Loop) {
		loop.exitOnEmpty = b
	}
}

// WithCommitOnShutdown controls whether a session which is still open when
// the loop stops is stored (default) or discarded.
func WithCommitOnShutdown(b bool) Option {
	return func(loop *Loop) {
		loop.commitOnShutdown = b
	}
}

// Run processes datagrams until ctx is done, an empty datagram is received
// (if configured) or the socket fails permanently. Only the latter is
// reported as error. Transient receive errors are logged and skipped.
func (l *Loop) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		// unblock a pending ReadFrom, the socket is owned by the caller
		//nolint:errcheck // best effort
		l.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buf := make([]byte, l.bufSize)
	l.l.Info("waiting for telemetry", log.String("addr", l.conn.LocalAddr().String()))
	for {
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				l.shutdown(ctx)
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				l.shutdown(ctx)
				return fmt.Errorf("receive failed: %w", err)
			}
			l.metrics.ReceiveError(ctx)
			l.l.Warn("receive failed, continuing", log.ErrorField(err))
			continue
		}
		if n == 0 {
			if l.exitOnEmpty {
				l.l.Info("empty datagram received, stopping", log.Any("from", addr))
				l.shutdown(ctx)
				return nil
			}
			continue
		}
		l.handle(ctx, buf[:n])
	}
}

func (l *Loop) handle(ctx context.Context, data []byte) {
	l.metrics.Received(ctx)
	sample, err := frame.Decode(data)
	if err != nil {
		if errors.Is(err, frame.ErrRejected) {
			l.metrics.Rejected(ctx)
			l.l.Debug("datagram ignored", log.ErrorField(err))
			return
		}
		l.metrics.Malformed(ctx)
		l.l.Warn("malformed datagram dropped", log.ErrorField(err))
		return
	}
	if l.position != nil {
		l.position.UpdateFrom(sample)
	}
	if !sample.RaceActive() {
		return
	}

	switch edge := l.tracker.Observe(sample); edge {
	case session.EdgeStarted:
		l.start(ctx, sample)
	case session.EdgeContinued:
		l.append(ctx, sample)
	case session.EdgeEnded:
		l.commit(ctx)
	case session.EdgeNone:
	}
}

func (l *Loop) start(ctx context.Context, first *model.Sample) {
	s := l.factory.New(first)
	if err := l.sink.Open(s); err != nil {
		l.l.Error("could not open session, race will not be recorded",
			log.String("session", s.ID), log.ErrorField(err))
		l.metrics.SessionFailed(ctx)
		l.notifyFailed(s, err)
		return
	}
	l.current = s
	l.metrics.SessionStarted(ctx)
	l.l.Info("session started",
		log.String("session", s.ID),
		log.Int32("class", s.Vehicle.Class),
		log.Int32("ordinal", s.Vehicle.Ordinal),
		log.Uint8("position", first.RacePosition))
	for _, o := range l.observers {
		o.SessionStarted(s)
	}
	l.append(ctx, first)
}

func (l *Loop) append(ctx context.Context, sample *model.Sample) {
	if l.current == nil {
		return
	}
	if err := l.sink.Append(sample); err != nil {
		s := l.current
		l.current = nil
		l.sink.Abort()
		l.l.Error("session lost, could not add sample",
			log.String("session", s.ID), log.Int("rows", s.Rows), log.ErrorField(err))
		l.metrics.SessionFailed(ctx)
		l.notifyFailed(s, err)
		return
	}
	l.metrics.SampleRecorded(ctx)
	if l.l.Enabled(log.DebugLevel) {
		l.l.Debug("sample",
			log.Uint8("pos", sample.RacePosition),
			log.Uint("lap", uint(sample.LapNumber)),
			log.Float32("speed", sample.Speed),
			log.Float32("rpm", sample.CurrentEngineRpm))
	}
}

func (l *Loop) commit(ctx context.Context) {
	if l.current == nil {
		return
	}
	s := l.current
	// the session is released regardless of the outcome
	l.current = nil
	path, err := l.sink.Commit(ctx)
	if err != nil {
		l.l.Error("session lost, commit failed",
			log.String("session", s.ID),
			log.Int("rows", s.Rows),
			log.String("path", path),
			log.ErrorField(err))
		l.metrics.SessionFailed(ctx)
		l.notifyFailed(s, err)
		return
	}
	l.metrics.SessionCommitted(ctx)
	l.l.Info("session recorded",
		log.String("session", s.ID), log.Int("rows", s.Rows), log.String("path", path))
	for _, o := range l.observers {
		o.SessionCommitted(s, path)
	}
}

func (l *Loop) notifyFailed(s *session.Session, err error) {
	for _, o := range l.observers {
		o.SessionFailed(s, err)
	}
}

func (l *Loop) shutdown(ctx context.Context) {
	defer l.tracker.Reset()
	if l.current == nil {
		return
	}
	if !l.commitOnShutdown {
		l.l.Info("discarding open session", log.String("session", l.current.ID))
		l.sink.Abort()
		l.current = nil
		return
	}
	l.l.Info("committing open session", log.String("session", l.current.ID))
	l.commit(context.WithoutCancel(ctx))
}

// Current returns the open session, nil if there is none.
func (l *Loop) Current() *session.Session {
	return l.current
}
