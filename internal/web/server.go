// Package web serves report uploads and read access to the stored reports.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/firefart/dmarcstore/internal/models"
	"github.com/firefart/dmarcstore/internal/pipeline"
)

// Processor extracts and ingests a saved report file.
type Processor interface {
	Process(ctx context.Context, src, extractDir string) ([]pipeline.Outcome, error)
}

// Reports gives read and delete access to stored reports.
type Reports interface {
	GetReport(ctx context.Context, reportID string) (*models.Report, error)
	ListReports(ctx context.Context) ([]models.ReportSummary, error)
	DeleteReport(ctx context.Context, reportID string) error
}

type Options struct {
	UploadDir     string
	ExtractDir    string
	MaxUploadSize int64
	// Metrics is mounted on /metrics if set
	Metrics http.Handler
}

type Server struct {
	processor Processor
	reports   Reports
	opts      Options
	logger    *log.Logger
	router    *chi.Mux
	server    *http.Server
}

func NewServer(processor Processor, reports Reports, opts Options, logger *log.Logger) *Server {
	s := &Server{
		processor: processor,
		reports:   reports,
		opts:      opts,
		logger:    logger,
		router:    chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
}

func (s *Server) setupRoutes() {
	s.router.Post("/upload", s.handleUpload)
	s.router.Route("/reports", func(r chi.Router) {
		r.Get("/", s.handleListReports)
		r.Get("/{reportID}", s.handleGetReport)
		r.Delete("/{reportID}", s.handleDeleteReport)
	})
	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics)
	}
}

// Serve accepts connections on ln until Shutdown is called. If Shutdown was
// called before, ln is closed and Serve returns immediately.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("starting server", "addr", ln.Addr().String())
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
