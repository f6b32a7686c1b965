// Package httpapi exposes a read-only administrative surface over the
// broker: health, current sessions, current channels, and cumulative
// metrics. It carries none of the wire protocol's mutating operations —
// those live exclusively on the raw TCP listener per §6's transport.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"chatbroker/internal/broker"
)

// Server is the Echo application serving the admin API.
type Server struct {
	echo *echo.Echo
	b    *broker.Broker
}

// New constructs an Echo app bound to b's read-only accessors.
func New(b *broker.Broker) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	s := &Server{echo: e, b: b}
	s.registerRoutes()
	return s
}

// requestLogger logs each HTTP request via slog, matching the teacher's
// internal/httpapi request logging shape.
func requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			slog.Debug("admin http request",
				"method", c.Request().Method,
				"path", c.Request().URL.Path,
				"status", c.Response().Status,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return nil
		}
	}
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/api/sessions", s.handleSessions)
	s.echo.GET("/api/channels", s.handleChannels)
	s.echo.GET("/api/metrics", s.handleMetrics)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("shutting down admin http server")
		_ = s.echo.Close()
		return nil
	}
}

type healthResponse struct {
	Status   string `json:"status"`
	Sessions int    `json:"sessions"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Sessions: len(s.b.SessionNicks())})
}

type sessionsResponse struct {
	Sessions []string `json:"sessions"`
}

func (s *Server) handleSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, sessionsResponse{Sessions: s.b.SessionNicks()})
}

type channelsResponse struct {
	Channels []broker.ChannelSnapshot `json:"channels"`
}

func (s *Server) handleChannels(c echo.Context) error {
	return c.JSON(http.StatusOK, channelsResponse{Channels: s.b.Channels()})
}

type metricsResponse struct {
	FramesRouted  int64 `json:"frames_routed"`
	SchemaErrors  int64 `json:"schema_errors"`
	PingsSent     int64 `json:"pings_sent"`
	Evictions     int64 `json:"evictions"`
	ConnsAccepted int64 `json:"conns_accepted"`
}

func (s *Server) handleMetrics(c echo.Context) error {
	m := &s.b.Metrics
	return c.JSON(http.StatusOK, metricsResponse{
		FramesRouted:  m.FramesRouted.Load(),
		SchemaErrors:  m.SchemaErrors.Load(),
		PingsSent:     m.PingsSent.Load(),
		Evictions:     m.Evictions.Load(),
		ConnsAccepted: m.ConnsAccepted.Load(),
	})
}
