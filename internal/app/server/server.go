package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"proxywarden/internal/app"
	"proxywarden/internal/auth"
	"proxywarden/internal/blacklist"
	"proxywarden/internal/domain"
	"proxywarden/internal/jobs/checker"
	"proxywarden/internal/metrics"
	"proxywarden/internal/pool"
)

const shutdownTimeout = 10 * time.Second

type SourceLister interface {
	ListHarvestSources(ctx context.Context) ([]domain.HarvestSource, error)
}

type CycleRunner interface {
	RunCycle(ctx context.Context, force bool) (app.CycleReport, error)
}

type SpotChecker interface {
	CheckRandomSample(ctx context.Context, limit int) ([]domain.Proxy, error)
}

type Dependencies struct {
	Pool      *pool.Service
	Sources   SourceLister
	Blacklist *blacklist.List
	Refresher CycleRunner
	Checker   SpotChecker
	// SampleSize is the spot-check default when the request has no limit.
	SampleSize int
	// Auth guards the write endpoints. Nil disables them.
	Auth *auth.Authenticator
	// MaxAge applies when a request does not pass max_age.
	MaxAge time.Duration
}

type Server struct {
	deps    Dependencies
	handler http.Handler
}

func New(deps Dependencies) (*Server, error) {
	if deps.MaxAge <= 0 {
		deps.MaxAge = 24 * time.Hour
	}
	if deps.SampleSize <= 0 {
		deps.SampleSize = defaultLimit
	}
	deps.SampleSize = min(deps.SampleSize, checker.MaxRandomSample)
	s := &Server{deps: deps}

	graphqlHandler, err := s.graphqlHandler()
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /metrics", metrics.Handler())

	mux.HandleFunc("GET /api/proxies/best", s.getBestProxy)
	mux.HandleFunc("GET /api/proxies/random", s.getRandomProxy)
	mux.HandleFunc("GET /api/proxies", s.listProxies)
	mux.Handle("POST /api/proxies/failed", s.protected(http.HandlerFunc(s.markProxyFailed)))
	mux.Handle("POST /api/proxies/spot-check", s.protected(http.HandlerFunc(s.spotCheck)))
	mux.HandleFunc("GET /api/statistics", s.getStatistics)
	mux.HandleFunc("GET /api/sources", s.listSources)

	mux.HandleFunc("GET /api/blacklist", s.listBlockedRanges)
	mux.Handle("POST /api/blacklist", s.protected(http.HandlerFunc(s.addBlockedRange)))
	mux.Handle("DELETE /api/blacklist", s.protected(http.HandlerFunc(s.deleteBlockedRange)))
	mux.Handle("POST /api/refresh", s.protected(http.HandlerFunc(s.triggerRefresh)))

	if deps.Auth != nil {
		graphqlHandler = deps.Auth.OptionalBearer(graphqlHandler, rejectRequest)
	}
	mux.Handle("/graphql", graphqlHandler)

	s.handler = withRequestLogging(mux)
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("API listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("Graceful shutdown failed", "error", err)
			_ = srv.Close()
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) protected(next http.Handler) http.Handler {
	if s.deps.Auth == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeError(w, "write access is disabled: no jwt secret configured", http.StatusForbidden)
		})
	}
	return s.deps.Auth.RequireBearer(next, rejectRequest)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)
		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}
