// Package http serves the status and metrics endpoint of a running loop.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogpid/internal/history"
	"github.com/fyrsmithlabs/cogpid/internal/logging"
	"github.com/fyrsmithlabs/cogpid/internal/loop"
)

// StatusSource reports the progress of a run. *loop.Loop satisfies it.
type StatusSource interface {
	Status() loop.Report
}

// Config holds HTTP server configuration.
type Config struct {
	// Addr is host:port. Port 0 picks a free port.
	Addr    string
	Version string

	// Gatherer backs /metrics. Nil means prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
}

// Server provides the /health, /metrics and /api/v1/status endpoints.
type Server struct {
	echo     *echo.Echo
	status   StatusSource
	logger   *zap.Logger
	config   *Config
	listener net.Listener
}

// NewServer creates a new HTTP server.
func NewServer(status StatusSource, logger *zap.Logger, cfg *Config) (*Server, error) {
	if status == nil {
		return nil, fmt.Errorf("status source cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = &Config{Addr: "127.0.0.1:9464"}
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(defaultRequestMetrics(logger))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), requestID)))

			err := next(c)

			logger.Debug("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request.id", requestID),
			)
			return err
		}
	})

	s := &Server{
		echo:   e,
		status: status,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.GET("/history", s.handleHistory)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	report := s.status.Status()
	status := "running"
	if report.State == loop.StateFinalized {
		status = "finished"
	}
	return c.JSON(http.StatusOK, StatusResponse{
		Status:  status,
		Version: s.config.Version,
		Run:     report,
	})
}

// handleHistory returns the iteration records, optionally only those after
// ?since=N.
func (s *Server) handleHistory(c echo.Context) error {
	since := 0
	if v := c.QueryParam("since"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "since must be a non-negative integer"})
		}
		since = n
	}
	records := s.status.Status().History
	out := make([]history.Record, 0, len(records))
	for _, r := range records {
		if r.Iteration > since {
			out = append(out, r)
		}
	}
	return c.JSON(http.StatusOK, out)
}

// Listen binds the configured address. Addr reports the bound address
// afterwards.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Addr, err)
	}
	s.listener = ln
	s.echo.Listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}

// Start serves until Shutdown. It binds the address first if Listen was
// not called. A graceful shutdown returns nil.
func (s *Server) Start() error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("starting http server", zap.String("addr", s.Addr()))
	if err := s.echo.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be driven directly, e.g. by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
