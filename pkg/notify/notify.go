// Package notify publishes session lifecycle events and position updates to
// NATS.
package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mpapenbr/forza-session-recorder/log"
	"github.com/mpapenbr/forza-session-recorder/pkg/session"
)

// Publisher is the part of *nats.Conn used here.
type Publisher interface {
	Publish(subj string, data []byte) error
}

// Index stores the latest event per session. Satisfied by jetstream.KeyValue.
type Index interface {
	Put(ctx context.Context, key string, value []byte) (uint64, error)
}

type (
	// Notifier hands events to a background worker so callers never wait
	// for the NATS server. Events are dropped when the queue is full.
	Notifier struct {
		pub          Publisher
		index        Index
		indexTimeout time.Duration
		prefix       string
		l            *log.Logger
		clock        func() time.Time
		queueSize    int
		queue        chan *session.Event
		mu           sync.RWMutex
		closed       bool
		done         chan struct{}
	}
	Option func(*Notifier)
)

var _ Publisher = (*nats.Conn)(nil)

func NewNotifier(pub Publisher, opts ...Option) *Notifier {
	ret := &Notifier{
		pub:          pub,
		indexTimeout: 2 * time.Second,
		prefix:       "fsr",
		l:            log.Default().Named("notify"),
		clock:        time.Now,
		queueSize:    64,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.queue = make(chan *session.Event, ret.queueSize)
	go ret.worker()
	return ret
}

func WithSubjectPrefix(prefix string) Option {
	return func(n *Notifier) {
		n.prefix = prefix
	}
}

func WithLogger(l *log.Logger) Option {
	return func(n *Notifier) {
		n.l = l
	}
}

// WithIndex additionally stores every event under the session id.
func WithIndex(idx Index) Option {
	return func(n *Notifier) {
		n.index = idx
	}
}

// WithIndexTimeout limits how long a single index update may take.
func WithIndexTimeout(d time.Duration) Option {
	return func(n *Notifier) {
		n.indexTimeout = d
	}
}

// WithQueueSize sets the number of events waiting for delivery.
func WithQueueSize(size int) Option {
	return func(n *Notifier) {
		n.queueSize = size
	}
}

func WithClock(clock func() time.Time) Option {
	return func(n *Notifier) {
		n.clock = clock
	}
}

// SessionSubject returns the subject used for events of kind.
func (n *Notifier) SessionSubject(kind session.EventKind) string {
	return n.prefix + ".session." + string(kind)
}

func (n *Notifier) PositionSubject() string {
	return n.prefix + ".position"
}

func (n *Notifier) SessionStarted(s *session.Session) {
	n.enqueue(session.NewEvent(session.KindStarted, s, n.clock()))
}

func (n *Notifier) SessionCommitted(s *session.Session, path string) {
	e := session.NewEvent(session.KindCommitted, s, n.clock())
	e.Path = path
	n.enqueue(e)
}

func (n *Notifier) SessionFailed(s *session.Session, err error) {
	e := session.NewEvent(session.KindFailed, s, n.clock())
	if err != nil {
		e.Error = err.Error()
	}
	n.enqueue(e)
}

// Close delivers the queued events and stops the worker. Events arriving
// afterwards are dropped.
func (n *Notifier) Close() {
	n.mu.Lock()
	if !n.closed {
		n.closed = true
		close(n.queue)
	}
	n.mu.Unlock()
	<-n.done
}

// enqueue never blocks the caller.
func (n *Notifier) enqueue(e *session.Event) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.l.Debug("notifier closed, dropping event",
			log.String("session", e.Session), log.String("kind", string(e.Kind)))
		return
	}
	select {
	case n.queue <- e:
	default:
		n.l.Warn("notification queue full, dropping event",
			log.String("session", e.Session), log.String("kind", string(e.Kind)))
	}
}

func (n *Notifier) worker() {
	defer close(n.done)
	for e := range n.queue {
		n.publish(e)
	}
}

// publish never fails, problems are logged only.
func (n *Notifier) publish(e *session.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		n.l.Error("could not marshal event", log.ErrorField(err))
		return
	}
	subj := n.SessionSubject(e.Kind)
	if err := n.pub.Publish(subj, data); err != nil {
		n.l.Warn("could not publish event",
			log.String("subject", subj), log.String("session", e.Session), log.ErrorField(err))
	}
	if n.index == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.indexTimeout)
	defer cancel()
	if _, err := n.index.Put(ctx, e.Session, data); err != nil {
		n.l.Warn("could not update session index",
			log.String("session", e.Session), log.ErrorField(err))
	}
}

// CreateIndex creates (or binds to) the key value bucket holding the latest
// event of each session.
//
//nolint:whitespace // editor/linter issue
func CreateIndex(
	ctx context.Context, conn *nats.Conn, bucket string, ttl time.Duration,
) (jetstream.KeyValue, error) {
	js, err := jetstream.New(conn)
	if err != nil {
		return nil, err
	}
	return js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "latest event per recorded session",
		TTL:         ttl,
	})
}
