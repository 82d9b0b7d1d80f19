package status

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mpapenbr/forza-session-recorder/log"
	"github.com/mpapenbr/forza-session-recorder/pkg/snapshot"
)

type (
	// Server provides read-only access to the latest position.
	Server struct {
		position *snapshot.Position
		l        *log.Logger
		cert     *tls.Certificate
		events   *Feed
		srv      *http.Server
	}
	Option func(*Server)
)

func NewServer(position *snapshot.Position, opts ...Option) *Server {
	ret := &Server{
		position: position,
		l:        log.Default().Named("status"),
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func WithLogger(l *log.Logger) Option {
	return func(s *Server) {
		s.l = l
	}
}

// WithCertificate makes the server use TLS.
func WithCertificate(cert tls.Certificate) Option {
	return func(s *Server) {
		s.cert = &cert
	}
}

// WithEvents enables the /events stream fed by f.
func WithEvents(f *Feed) Option {
	return func(s *Server) {
		s.events = f
	}
}

// Handler returns the routes of the status endpoint including CORS handling.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /position", s.handlePosition)
	if s.events != nil {
		mux.HandleFunc("GET /events", s.handleEvents)
	}
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	return newCORS().Handler(mux)
}

func (s *Server) handlePosition(w http.ResponseWriter, _ *http.Request) {
	v, ok := s.position.Get()
	if !ok {
		http.Error(w, "no position available yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	fmt.Fprintln(w, FormatPosition(v))
}

// FormatPosition renders v as "x,y,z".
func FormatPosition(v snapshot.Vec3) string {
	return strconv.FormatFloat(float64(v.X), 'g', -1, 32) + "," +
		strconv.FormatFloat(float64(v.Y), 'g', -1, 32) + "," +
		strconv.FormatFloat(float64(v.Z), 'g', -1, 32)
}

// Start binds addr and serves requests in the background.
// Plain connections accept HTTP/2 without TLS (h2c).
func (s *Server) Start(addr string) (net.Addr, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("status endpoint: %w", err)
	}
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if s.cert != nil {
		s.srv.TLSConfig = &tls.Config{
			Certificates: []tls.Certificate{*s.cert},
			MinVersion:   tls.VersionTLS12,
		}
	} else {
		s.srv.Handler = h2c.NewHandler(s.srv.Handler, &http2.Server{})
	}
	s.l.Info("status endpoint started",
		log.String("addr", lis.Addr().String()), log.Bool("tls", s.cert != nil))
	go func() {
		var err error
		if s.cert != nil {
			err = s.srv.ServeTLS(lis, "", "")
		} else {
			err = s.srv.Serve(lis)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("status endpoint stopped", log.ErrorField(err))
		}
	}()
	return lis.Addr(), nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func newCORS() *cors.Cors {
	// read-only data, any origin may fetch it
	return cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
		},
		AllowOriginFunc: func(origin string) bool {
			return true
		},
		AllowedHeaders: []string{"*"},
		MaxAge:         7200,
	})
}
