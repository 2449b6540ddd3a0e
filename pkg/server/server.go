// Package server exposes the memory service over HTTP.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/recallhq/recall-go/pkg/core"
)

// Server wires the core client into a gin router with auth, rate
// limiting, and metrics.
type Server struct {
	client   *core.Client
	config   *core.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	engine   *gin.Engine
	http     *http.Server
}

// New builds the server. registry may be nil when metrics were
// registered elsewhere; the /metrics endpoint then serves the default
// gatherer.
func New(client *core.Client, cfg *core.Config, logger *zap.Logger, registry *prometheus.Registry) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		client:   client,
		config:   cfg,
		logger:   logger,
		registry: registry,
		engine:   gin.New(),
	}
	s.routes()
	return s
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.Use(gin.Recovery())
	s.engine.Use(requestID())
	s.engine.Use(requestLogger(s.logger))

	var gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	if s.registry != nil {
		gatherer = s.registry
	}
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/system/health", s.handleHealth)

	api := s.engine.Group("/")
	if len(s.config.Server.APIKeys) > 0 {
		api.Use(apiKeyAuth(s.config.Server.APIKeys))
	}
	if s.config.Server.RateLimit > 0 {
		api.Use(rateLimit(s.config.Server.RateLimit, s.config.Server.RateBurst))
	}

	api.POST("/memories", s.handleAdd)
	api.POST("/memories/batch", s.handleAddBatch)
	api.GET("/memories", s.handleList)
	api.GET("/memories/:id", s.handleGet)
	api.PUT("/memories/:id", s.handleUpdate)
	api.DELETE("/memories/:id", s.handleDelete)
	api.POST("/memories/search", s.handleSearch)
	api.GET("/system/status", s.handleStatus)
	api.DELETE("/system/delete-all-memories", s.handleDeleteAll)
}

// Run serves until ctx is canceled, then drains with a short grace
// period.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.config.Server.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.config.Server.Addr))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("http server draining")
	return s.http.Shutdown(shutdownCtx)
}
