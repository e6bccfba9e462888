// Package dashboard serves the HTTP surface: a JSON API over the dispatch
// pipeline, Prometheus metrics and a health probe.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/davidhoung2/helpbot/internal/models"
	"github.com/davidhoung2/helpbot/internal/outcome"
	"github.com/davidhoung2/helpbot/internal/pipeline"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// defaultPollInterval is how often the event stream checks for list changes.
const defaultPollInterval = 3 * time.Second

// Service is the pipeline surface the HTTP API drives.
type Service interface {
	HandleMessage(ctx context.Context, msg pipeline.Message) (outcome.Signal, error)
	ListActive(ctx context.Context, channelRef string) ([]models.Dispatch, error)
	DeleteByID(ctx context.Context, id uint) error
	EditField(ctx context.Context, id uint, field, value string) (*models.Dispatch, error)
	PurgeNow(ctx context.Context) (int, error)
}

var _ Service = (*pipeline.Service)(nil)

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Service  Service
	Gatherer prometheus.Gatherer // nil disables /metrics
	Port     int
	Out      io.Writer
	Logger   zerolog.Logger
	// PollInterval for /api/events; zero uses defaultPollInterval.
	PollInterval time.Duration
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("dashboard: service is required")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(opts.Logger))
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Dashboard running at http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}

// requestLogger logs one line per request at debug level, warn for 5xx.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		evt := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			evt = log.Warn()
		}
		evt.Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	}
}
