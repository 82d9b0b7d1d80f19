// Package broadcast fans out messages from one channel to many subscribers.
package broadcast

import (
	"context"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/mpapenbr/forza-session-recorder/log"
)

type Server[T any] interface {
	Subscribe() <-chan T
	CancelSubscription(<-chan T)
	Close()
}

type (
	server[T any] struct {
		name           string
		source         <-chan T
		listeners      []chan T
		addListener    chan chan T
		removeListener chan (<-chan T)
		ctx            context.Context
		cancel         context.CancelFunc
		done           chan struct{}
		bufSize        int
		meter          metric.Meter
		numRcv         atomic.Int64
		numSnd         atomic.Int64
		numSkip        atomic.Int64
		numListeners   atomic.Int64
	}
	Option[T any] func(*server[T])
)

// WithBufferSize sets the channel capacity of each subscription.
func WithBufferSize[T any](n int) Option[T] {
	return func(s *server[T]) {
		s.bufSize = n
	}
}

func WithMeter[T any](m metric.Meter) Option[T] {
	return func(s *server[T]) {
		s.meter = m
	}
}

// New distributes every message from source to all subscribers.
// Subscribers which are not ready to receive miss the message.
// The server stops when Close is called or source is closed.
func New[T any](name string, source <-chan T, opts ...Option[T]) Server[T] {
	ctx, cancel := context.WithCancel(context.Background())
	s := &server[T]{
		name:           name,
		source:         source,
		addListener:    make(chan chan T),
		removeListener: make(chan (<-chan T)),
		ctx:            ctx,
		cancel:         cancel,
		done:           make(chan struct{}),
		bufSize:        16,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meter == nil {
		s.meter = otel.GetMeterProvider().Meter("fsr.broadcast")
	}
	s.setupMetrics()
	go s.serve()
	return s
}

// Subscribe returns a channel receiving messages. The channel is closed when
// the subscription is canceled or the server stops.
func (s *server[T]) Subscribe() <-chan T {
	ch := make(chan T, s.bufSize)
	select {
	case s.addListener <- ch:
	case <-s.done:
		close(ch)
	}
	return ch
}

func (s *server[T]) CancelSubscription(ch <-chan T) {
	select {
	case s.removeListener <- ch:
	case <-s.done:
	}
}

func (s *server[T]) Close() {
	s.cancel()
	<-s.done
	log.Debug("broadcast server closed",
		log.String("name", s.name),
		log.Int64("rcv", s.numRcv.Load()),
		log.Int64("snd", s.numSnd.Load()),
		log.Int64("skip", s.numSkip.Load()))
}

func (s *server[T]) setupMetrics() {
	type data struct {
		name  string
		desc  string
		value func() int64
	}
	for _, d := range []*data{
		{"fsr.broadcast.rcv", "Number of received messages", s.numRcv.Load},
		{"fsr.broadcast.snd", "Number of delivered messages", s.numSnd.Load},
		{"fsr.broadcast.skip", "Number of messages missed by slow listeners", s.numSkip.Load},
		{"fsr.broadcast.listener", "Number of listeners", s.numListeners.Load},
	} {
		_, err := s.meter.Int64ObservableGauge(d.name,
			metric.WithDescription(d.desc),
			metric.WithUnit("{count}"),
			metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
				o.Observe(d.value(), metric.WithAttributes(attribute.String("name", s.name)))
				return nil
			}))
		if err != nil {
			log.Error("failed to register metric",
				log.String("metric", d.name), log.ErrorField(err))
		}
	}
}

func (s *server[T]) serve() {
	defer func() {
		for _, l := range s.listeners {
			close(l)
		}
		s.listeners = nil
		s.numListeners.Store(0)
		close(s.done)
	}()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ch := <-s.addListener:
			s.listeners = append(s.listeners, ch)
			s.numListeners.Store(int64(len(s.listeners)))
		case ch := <-s.removeListener:
			for i, l := range s.listeners {
				if l == ch {
					s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
					close(l)
					break
				}
			}
			s.numListeners.Store(int64(len(s.listeners)))
		case msg, ok := <-s.source:
			if !ok {
				return
			}
			s.numRcv.Add(1)
			for _, l := range s.listeners {
				select {
				case l <- msg:
					s.numSnd.Add(1)
				default:
					s.numSkip.Add(1)
				}
			}
		}
	}
}
