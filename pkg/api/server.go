// Package api provides the admin HTTP API for backups, restores and the backup schedule.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/supporttools/GoSiteGuard/pkg/backup"
	"github.com/supporttools/GoSiteGuard/pkg/config"
	"github.com/supporttools/GoSiteGuard/pkg/metadata"
)

// Restores and manual backups run inside the request, so writes may take as long as the slowest
// pipeline step.
const (
	readTimeout  = 30 * time.Second
	writeTimeout = 30 * time.Minute
	idleTimeout  = 2 * time.Minute
)

// BackupService is the backup manager as seen by the API.
type BackupService interface {
	ListBackups(ctx context.Context) ([]metadata.BackupRecord, error)
	GetBackup(ctx context.Context, id string) (*metadata.BackupRecord, error)
	CreateBackup(ctx context.Context, opts backup.CreateOptions) (string, error)
	DeleteBackupByID(ctx context.Context, id string) error
	RestoreBackupByID(ctx context.Context, id string) (*backup.RestoreResult, error)
	GetBackupDownloadURL(ctx context.Context, id string, ttl time.Duration) (string, error)
	CleanOldBackups(ctx context.Context, retentionDays int) (int, error)
}

// ScheduleStore reads and writes the persisted schedule.
type ScheduleStore interface {
	GetSchedule(ctx context.Context) (*metadata.ScheduleSetting, error)
	SaveSchedule(ctx context.Context, setting *metadata.ScheduleSetting) error
}

// SchedulerControl re-arms the scheduler after a schedule change.
type SchedulerControl interface {
	Restart(ctx context.Context) error
	NextRun() (time.Time, bool)
}

// Server represents the admin HTTP server
type Server struct {
	backups   BackupService
	schedule  ScheduleStore
	scheduler SchedulerControl
	settings  func() config.AppConfig
	log       zerolog.Logger

	httpServer *http.Server
}

// Option customizes a Server.
type Option func(*Server)

// WithSettings replaces the configuration source.
func WithSettings(f func() config.AppConfig) Option {
	return func(s *Server) { s.settings = f }
}

// WithLogger sets the server's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Server) { s.log = log }
}

// NewServer creates a new admin server instance
func NewServer(backups BackupService, schedule ScheduleStore, sched SchedulerControl, opts ...Option) *Server {
	s := &Server{
		backups:   backups,
		schedule:  schedule,
		scheduler: sched,
		settings:  func() config.AppConfig { return config.CFG },
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(s.logRequest)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/version", s.handleVersion)
		r.Get("/storage", s.handleStorageInfo)

		r.Route("/backups", func(r chi.Router) {
			r.Get("/", s.handleListBackups)
			r.Post("/", s.handleCreateBackup)
			r.Get("/{id}", s.handleGetBackup)
			r.Delete("/{id}", s.handleDeleteBackup)
			r.Post("/{id}/restore", s.handleRestoreBackup)
			r.Get("/{id}/download", s.handleDownloadBackup)
		})

		r.Get("/schedule", s.handleGetSchedule)
		r.Put("/schedule", s.handleUpdateSchedule)
		r.Post("/retention/run", s.handleRunRetention)
	})

	return r
}

// Start listens on the configured admin port and serves in the background.
func (s *Server) Start() error {
	addr := net.JoinHostPort("", s.settings().Admin.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}

	go func() {
		s.log.Info().Str("addr", listener.Addr().String()).Msg("Admin server running")
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("Admin server failed")
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// logRequest logs each request once it completes.
func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("Request handled")
	})
}
