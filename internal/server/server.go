package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"appmanager/internal/cache"
	"appmanager/internal/constants"
	"appmanager/internal/container"
	"appmanager/internal/db"
	"appmanager/internal/logger"
	"appmanager/internal/reconciler"
	"appmanager/internal/store"
	"appmanager/internal/types"
)

// Config holds the server configuration
type Config struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// HealthCacheTTL is how long a passing health probe is reused
	HealthCacheTTL time.Duration

	// CORS settings
	AllowOrigins []string
	AllowHeaders []string
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Host:            constants.DefaultServerHost,
		Port:            constants.DefaultServerPort,
		ReadTimeout:     constants.DefaultServerReadTimeout,
		WriteTimeout:    constants.DefaultServerWriteTimeout,
		ShutdownTimeout: constants.DefaultServerShutdownTimeout,
		HealthCacheTTL:  constants.HealthCacheTTL,
		AllowOrigins:    []string{"*"},
		AllowHeaders:    []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderXRequestID},
	}
}

// RunReader reads the reconciliation run log
type RunReader interface {
	Get(ctx context.Context, id string) (*types.ReconciliationRun, error)
	List(ctx context.Context, opts db.PaginationOptions) (*db.PaginatedResponse[types.ReconciliationRun], error)
}

// HealthChecker reports whether a dependency is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies are the collaborators the handlers use
type Dependencies struct {
	Store      *store.Store
	Reconciler *reconciler.Reconciler
	Runtime    container.ContainerRuntime
	Runs       RunReader
	Database   HealthChecker
	Device     *db.Device
}

// Server represents the device API server
type Server struct {
	config    *Config
	echo      *echo.Echo
	deps      Dependencies
	startTime time.Time
	health    *cache.Cache[string, struct{}]
	setup     sync.Once
}

// New creates a new server instance
func New(cfg *Config, deps Dependencies) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = ErrorHandler

	return &Server{
		config:    cfg,
		echo:      e,
		deps:      deps,
		startTime: time.Now(),
		health:    cache.NewCache[string, struct{}](cfg.HealthCacheTTL, 2),
	}
}

// Echo returns the Echo instance
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Handler returns the HTTP handler with middleware and routes installed
func (s *Server) Handler() http.Handler {
	s.setup.Do(func() {
		s.setupMiddleware()
		s.setupRoutes()
	})
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("failed to start server: %w", err)
		}
	}()
	logger.WithField("addr", addr).Info("Device API listening")

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		logger.Info("Shutting down device API")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	logger.Info("Device API stopped gracefully")
	return nil
}

// setupMiddleware configures all middleware
func (s *Server) setupMiddleware() {
	s.echo.Use(logger.RequestLogger())
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: s.config.AllowOrigins,
		AllowHeaders: s.config.AllowHeaders,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
	}))
}
