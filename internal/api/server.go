// Package api exposes the lookup service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/cyberlens/cyber-lens/internal/bus"
	"github.com/cyberlens/cyber-lens/internal/lookup"
	"github.com/cyberlens/cyber-lens/internal/metrics"
	"github.com/cyberlens/cyber-lens/internal/store"
)

// Looker performs lookups.
type Looker interface {
	Lookup(ctx context.Context, req lookup.Request) (*lookup.Result, error)
}

// History reads stored lookups.
type History interface {
	QueryHistory(ctx context.Context, q store.HistoryQuery) ([]store.HistoryEntry, error)
	GetLookup(ctx context.Context, owner store.Owner, id string) (*store.Record, error)
	HealthCheck(ctx context.Context) error
}

// Options controls the HTTP server behavior.
type Options struct {
	// Bind address, e.g. "127.0.0.1:8080"
	Bind string
	// RPS is the per-client request rate. 0 disables rate limiting.
	RPS float64
	// Burst is the token bucket size. If 0 and RPS>0, defaults to max(1, RPS).
	Burst int
	// MaxBodyBytes caps request body size; defaults to 1 MiB.
	MaxBodyBytes int64
	// TrustProxy takes the client address from X-Forwarded-For and the user
	// from X-Owner-ID. Only enable it behind a proxy that sets both.
	TrustProxy bool
}

// Server serves the lookup API.
type Server struct {
	opts     Options
	srv      *http.Server
	router   *mux.Router
	lookups  Looker
	history  History
	bus      bus.Bus
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
	validate *validator.Validate
	started  int32

	limitersMu sync.Mutex
	limiters   map[string]*limiterEntry
}

// Deps are the collaborators a Server needs. History, Bus and Metrics are optional.
type Deps struct {
	Lookups Looker
	History History
	Bus     bus.Bus
	Metrics *metrics.Metrics
	Logger  *zap.SugaredLogger
}

// NewServer constructs the HTTP server and its routes.
func NewServer(opts Options, deps Deps) (*Server, error) {
	if deps.Lookups == nil {
		return nil, errors.New("api: lookup service is required")
	}
	if opts.Bind == "" {
		opts.Bind = "127.0.0.1:8080"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1 << 20
	}
	if opts.RPS > 0 && opts.Burst <= 0 {
		opts.Burst = int(opts.RPS)
		if opts.Burst < 1 {
			opts.Burst = 1
		}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	b := deps.Bus
	if b == nil {
		b = bus.NewNullBus(logger)
	}

	s := &Server{
		opts:     opts,
		lookups:  deps.Lookups,
		history:  deps.History,
		bus:      b,
		metrics:  deps.Metrics,
		logger:   logger,
		validate: validator.New(),
		limiters: make(map[string]*limiterEntry),
	}
	s.router = s.routes()
	s.srv = &http.Server{
		Addr:         opts.Bind,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, s.loggingMiddleware, s.rateLimitMiddleware)

	r.HandleFunc("/lookup", s.handleLookup).Methods(http.MethodPost)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/history/{id}", s.handleHistoryEntry).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	return r
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server concurrently and attaches to ctx for shutdown.
func (s *Server) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		return errors.New("api server already started")
	}
	// Bind early to surface errors synchronously
	ln, err := net.Listen("tcp", s.opts.Bind)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.opts.Bind, err)
	}
	s.logger.Infof("Lookup API listening on http://%s rps=%.1f burst=%d", ln.Addr(), s.opts.RPS, s.opts.Burst)

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("server error: %v", err)
		}
	}()
	go s.cleanupLimiters(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.srv.Shutdown(shutdownCtx); err != nil {
			s.logger.Warnf("graceful shutdown failed: %v", err)
		}
	}()
	return nil
}
