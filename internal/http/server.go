// Package http serves the mindpalace HTTP API: the analyze endpoint, the
// thoughts REST surface, the change stream and operational endpoints.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mindpalace/internal/liveview"
	"github.com/fyrsmithlabs/mindpalace/internal/logging"
	"github.com/fyrsmithlabs/mindpalace/internal/thought"
)

// Lister loads all thoughts newest first.
type Lister interface {
	List(ctx context.Context) ([]*thought.Thought, error)
}

// Submitter runs the submission flow for one piece of content.
type Submitter interface {
	Submit(ctx context.Context, content string) (*thought.Thought, error)
}

// Annotator produces and stores the insight for one thought.
type Annotator interface {
	Annotate(ctx context.Context, id int64, text string) (string, error)
}

// Deps are the services behind the routes.
type Deps struct {
	Thoughts  Lister
	Submitter Submitter
	Annotator Annotator
	Changes   liveview.Subscriber

	// Meter receives HTTP request metrics. Nil uses the global provider.
	Meter metric.Meter
}

// Config holds HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration

	// Heartbeat is the comment interval on idle change streams.
	Heartbeat time.Duration
}

const (
	defaultShutdownTimeout = 10 * time.Second
	defaultHeartbeat       = 30 * time.Second
)

// Server provides the HTTP endpoints for mindpalace.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config *Config

	closing   chan struct{}
	closeOnce sync.Once
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *zap.Logger, cfg *Config) (*Server, error) {
	if deps.Thoughts == nil {
		return nil, errors.New("thought lister is required")
	}
	if deps.Submitter == nil {
		return nil, errors.New("submitter is required")
	}
	if deps.Annotator == nil {
		return nil, errors.New("annotator is required")
	}
	if deps.Changes == nil {
		return nil, errors.New("change subscriber is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 3000}
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Heartbeat <= 0 {
		cfg.Heartbeat = defaultHeartbeat
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(NewHTTPMetrics(deps.Meter, logger).MetricsMiddleware())

	s := &Server{
		echo:    e,
		deps:    deps,
		logger:  logger,
		config:  cfg,
		closing: make(chan struct{}),
	}
	s.registerRoutes()

	return s, nil
}

// requestLogger logs each request and carries its id on the request
// context for downstream logs.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return err
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")
	api.POST("/analyze", s.handleAnalyze)
	api.GET("/thoughts", s.handleListThoughts)
	api.POST("/thoughts", s.handleSubmitThought)
	api.GET("/thoughts/stream", s.handleStream)
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully and
// returns http.ErrServerClosed.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// Shutdown ends open change streams and gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	s.closeOnce.Do(func() { close(s.closing) })
	return s.echo.Shutdown(ctx)
}
