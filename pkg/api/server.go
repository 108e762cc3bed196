package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"telemetry/pkg/protocol"
	"telemetry/pkg/store"
)

// Channels is the live session the API reads from and sends set commands to.
type Channels interface {
	Context() *protocol.Context
	Set(id uint8, value any) error
}

// History serves recorded samples.
type History interface {
	History(id uint8, since time.Time, limit int) ([]store.Point, error)
}

type Server struct {
	channels Channels
	history  History
	gatherer prometheus.Gatherer
	onSet    func(error)
	linkUp   func() bool
	log      zerolog.Logger
}

type Option func(*Server)

func WithHistory(h History) Option {
	return func(s *Server) {
		s.history = h
	}
}

// WithGatherer exposes gatherer on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithSetObserver is told the outcome of every set command.
func WithSetObserver(fn func(error)) Option {
	return func(s *Server) {
		s.onSet = fn
	}
}

// WithLinkStatus adds the device link state to /healthz.
func WithLinkStatus(fn func() bool) Option {
	return func(s *Server) {
		s.linkUp = fn
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

func NewServer(channels Channels, opts ...Option) *Server {
	s := &Server{
		channels: channels,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"*"},
		MaxAge:         300,
	}))

	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/channels", s.handleListChannels)
		r.Get("/channels/{id}", s.handleGetChannel)
		r.Put("/channels/{id}", s.handleSetChannel)
		r.Get("/channels/{id}/history", s.handleHistory)
	})
	return r
}

func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		event := s.log.Debug()
		if status >= 500 {
			event = s.log.Error()
		} else if status >= 400 {
			event = s.log.Warn()
		}
		event.
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Int("bytes", ww.BytesWritten()).
			Msg("http_request")
	})
}
