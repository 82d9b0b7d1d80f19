package status

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mpapenbr/forza-session-recorder/log"
	"github.com/mpapenbr/forza-session-recorder/pkg/session"
	"github.com/mpapenbr/forza-session-recorder/pkg/utils/broadcast"
)

type (
	// Feed collects session lifecycle events and distributes them to
	// subscribed clients. Events are dropped when the feed is congested.
	Feed struct {
		source chan *session.Event
		hub    broadcast.Server[*session.Event]
		clock  func() time.Time
		l      *log.Logger
		mu     sync.RWMutex
		closed bool
	}
	FeedOption func(*Feed)
)

func NewFeed(opts ...FeedOption) *Feed {
	ret := &Feed{
		source: make(chan *session.Event, 64),
		clock:  time.Now,
		l:      log.Default().Named("status.events"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	ret.hub = broadcast.New("session-events", ret.source)
	return ret
}

func WithFeedClock(clock func() time.Time) FeedOption {
	return func(f *Feed) {
		f.clock = clock
	}
}

func (f *Feed) SessionStarted(s *session.Session) {
	f.push(session.NewEvent(session.KindStarted, s, f.clock()))
}

func (f *Feed) SessionCommitted(s *session.Session, path string) {
	e := session.NewEvent(session.KindCommitted, s, f.clock())
	e.Path = path
	f.push(e)
}

func (f *Feed) SessionFailed(s *session.Session, err error) {
	e := session.NewEvent(session.KindFailed, s, f.clock())
	e.Error = err.Error()
	f.push(e)
}

func (f *Feed) Subscribe() <-chan *session.Event {
	return f.hub.Subscribe()
}

func (f *Feed) Unsubscribe(ch <-chan *session.Event) {
	f.hub.CancelSubscription(ch)
}

// Close ends all subscriptions. Events pushed afterwards are dropped.
func (f *Feed) Close() {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.source)
	}
	f.mu.Unlock()
	f.hub.Close()
}

func (f *Feed) push(e *session.Event) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	select {
	case f.source <- e:
	default:
		f.l.Warn("event feed congested, dropping event",
			log.String("session", e.Session), log.String("kind", string(e.Kind)))
	}
}

// handleEvents streams session events as server-sent events until the
// client disconnects or the feed is closed.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	ch := s.events.Subscribe()
	defer s.events.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(e)
			if err != nil {
				s.l.Error("marshal event", log.ErrorField(err))
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n",
				e.ID, e.Kind, data); err != nil {
				s.l.Debug("events client gone", log.ErrorField(err))
				return
			}
			flusher.Flush()
		}
	}
}
