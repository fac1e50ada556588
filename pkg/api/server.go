package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"cuewise/pkg/api/middleware"
	"cuewise/pkg/cluster"
	"cuewise/pkg/election"
	"cuewise/pkg/history"
	"cuewise/pkg/intent"
	"cuewise/pkg/kv"
	"cuewise/pkg/logger"
	"cuewise/pkg/resume"
	"cuewise/pkg/routine"
	"cuewise/pkg/syncer"
)

// Server is the local control API. Every instance serves it; writes go
// to the shared intent store and replicate from there, so a client may
// talk to any instance.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	log        *zap.Logger

	intents  *intent.Store
	tracker  *resume.Tracker
	election *election.Service
	sync     *syncer.Syncer
	registry *cluster.Registry
	history  history.Store
	routines *routine.Runner
	store    kv.Store
}

// Config holds API server configuration.
type Config struct {
	Port              string
	APIKey            string
	RequestsPerMinute int

	Intents  *intent.Store
	Tracker  *resume.Tracker
	Election *election.Service
	Syncer   *syncer.Syncer
	Registry *cluster.Registry
	History  history.Store
	Routines *routine.Runner
	Store    kv.Store
}

// NewServer creates the API server with its middleware stack.
func NewServer(cfg Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	s := &Server{
		router:   router,
		log:      logger.Named("api"),
		intents:  cfg.Intents,
		tracker:  cfg.Tracker,
		election: cfg.Election,
		sync:     cfg.Syncer,
		registry: cfg.Registry,
		history:  cfg.History,
		routines: cfg.Routines,
		store:    cfg.Store,
	}

	// Middleware stack (order matters).
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.TracingMiddleware("cuewise"))
	router.Use(s.requestLogger())
	router.Use(middleware.RateLimitMiddleware(cfg.RequestsPerMinute))
	router.Use(middleware.BodySizeLimitMiddleware(64 << 10))
	router.Use(middleware.AuthMiddleware(middleware.AuthConfig{
		APIKey:    cfg.APIKey,
		SkipPaths: []string{"/health", "/metrics"},
	}))

	s.registerRoutes()

	s.httpServer = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests. Blocks until shutdown.
func (s *Server) Start() error {
	s.log.Info("starting server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/state", s.getState)
		v1.POST("/source", s.setSource)
		v1.POST("/transport", s.setTransport)
		v1.POST("/volume", s.setVolume)
		v1.POST("/selection", s.setSelection)
		v1.POST("/select", s.selectAndActivate)
		v1.GET("/resume/:item", s.getResumePoint)

		clusterGroup := v1.Group("/cluster")
		{
			clusterGroup.GET("/instances", s.listInstances)
			clusterGroup.GET("/leader", s.getLeader)
		}

		v1.GET("/history/sessions", s.listSessions)
		v1.GET("/routines", s.listRoutines)
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

// healthCheck pings the shared store; an instance that cannot reach it
// can neither observe nor mutate intent.
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	storeOK := true
	if _, err := s.store.Get(ctx, "health-probe"); err != nil && err != kv.ErrNotFound {
		storeOK = false
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !storeOK {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, gin.H{
		"status":    status,
		"store":     storeOK,
		"leader":    s.election.IsLeader(),
		"timestamp": time.Now().UTC(),
	})
}
