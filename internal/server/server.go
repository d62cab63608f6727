package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/retirement-advisor-poc/server/internal/agent/classifier"
	"github.com/retirement-advisor-poc/server/internal/agent/model"
	errx "github.com/retirement-advisor-poc/server/internal/core/error"
	logx "github.com/retirement-advisor-poc/server/pkg/logger"
)

type Config struct {
	Addr            string        `envconfig:"SERVER_ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"120s"`
	RequestTimeout  time.Duration `envconfig:"SERVER_REQUEST_TIMEOUT" default:"90s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
	MaxBodyBytes    int64         `envconfig:"SERVER_MAX_BODY_BYTES" default:"65536"`
}

// QueryRunner answers member queries; *graph.Runner satisfies it.
type QueryRunner interface {
	Invoke(ctx context.Context, in model.QueryInput) (*model.QueryResult, error)
	ClassifierStats() (classifier.Snapshot, bool)
	ClearClassifierCache(ctx context.Context) (int, bool, error)
}

// Pinger is a dependency checked by the health endpoint.
type Pinger func(ctx context.Context) error

type Server struct {
	cfg      Config
	router   *chi.Mux
	runner   QueryRunner
	gatherer prometheus.Gatherer
	checks   map[string]Pinger
}

// New wires the routes. gatherer may be nil to disable /metrics.
func New(cfg Config, runner QueryRunner, gatherer prometheus.Gatherer, checks map[string]Pinger) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 64 << 10
	}
	s := &Server{
		cfg:      cfg,
		router:   chi.NewRouter(),
		runner:   runner,
		gatherer: gatherer,
		checks:   checks,
	}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/classifier/stats", s.handleClassifierStats)
		r.Delete("/classifier/cache", s.handleClearClassifierCache)
		r.With(middleware.Timeout(s.requestTimeout())).Post("/query", s.handleQuery)
	})
}

func (s *Server) requestTimeout() time.Duration {
	if s.cfg.RequestTimeout <= 0 {
		return 90 * time.Second
	}
	return s.cfg.RequestTimeout
}

type queryRequest struct {
	MemberID string   `json:"member_id"`
	Country  string   `json:"country"`
	Query    string   `json:"query"`
	Amount   *float64 `json:"amount,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, r, errx.InvalidInput("malformed JSON body: "+err.Error()))
		return
	}

	res, err := s.runner.Invoke(r.Context(), model.QueryInput{
		MemberID: req.MemberID,
		Country:  req.Country,
		Query:    req.Query,
		Amount:   req.Amount,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	deps := make(map[string]string, len(s.checks))
	for name, ping := range s.checks {
		if err := ping(ctx); err != nil {
			logx.Warn().Err(err).Str("dependency", name).Msg("Health check failed")
			deps[name] = "down"
			status = http.StatusServiceUnavailable
			continue
		}
		deps[name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": overall, "dependencies": deps})
}

func (s *Server) handleClassifierStats(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.runner.ClassifierStats()
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "classifier statistics unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleClearClassifierCache(w http.ResponseWriter, r *http.Request) {
	removed, ok, err := s.runner.ClearClassifierCache(r.Context())
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "classifier cache unavailable"})
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errx.StatusOf(err)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}
	resp := errorResponse{
		Error:     errx.MessageOf(err),
		RequestID: middleware.GetReqID(r.Context()),
	}
	// client errors carry their own reason
	if status < http.StatusInternalServerError {
		var appErr *errx.AppError
		if errors.As(err, &appErr) && appErr.Err != nil {
			resp.Detail = appErr.Err.Error()
		}
		logx.Debug().Err(err).Int("status", status).Msg("Request rejected")
	} else {
		logx.Error().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("Request failed")
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logx.Error().Err(err).Msg("failed to encode response")
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		logx.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("req_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logx.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	logx.Info().Msg("Shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
