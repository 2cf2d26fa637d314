// Package server exposes the orchestrator over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harrison/aegis/internal/agent"
	"github.com/harrison/aegis/internal/models"
)

// Orchestrator is the part of executor.Orchestrator the API serves
type Orchestrator interface {
	SubmitSpec(spec models.TaskSpec) (string, error)
	Task(ctx context.Context, id string) (models.Task, error)
	CancelTask(id string) error
	DeployAgent(ctx context.Context, agentType string, cfg agent.Config) (string, error)
	AgentStatus(id string) (agent.Status, error)
	Agents() []agent.Status
}

// Logger is the logging surface of the server
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
}

type nopLogger struct{}

func (nopLogger) LogDebug(string) {}
func (nopLogger) LogInfo(string)  {}
func (nopLogger) LogWarn(string)  {}

// ShutdownTimeout bounds graceful shutdown of in-flight requests
const ShutdownTimeout = 5 * time.Second

// Server routes /api/v1 requests to an orchestrator
type Server struct {
	engine *gin.Engine
	orch   Orchestrator
	logger Logger
}

// New builds the gin engine and registers all routes
func New(orch Orchestrator, logger Logger) *Server {
	if logger == nil {
		logger = nopLogger{}
	}
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine: gin.New(),
		orch:   orch,
		logger: logger,
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	return s
}

// Handler returns the HTTP handler
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.handleHealth)

	api := s.engine.Group("/api/v1")
	{
		api.POST("/tasks", s.submitTask)
		api.GET("/tasks/:id", s.getTask)
		api.DELETE("/tasks/:id", s.cancelTask)

		api.POST("/agents", s.deployAgent)
		api.GET("/agents", s.listAgents)
		api.GET("/agents/:id", s.getAgent)
	}
}

// requestLogger logs one debug line per request
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.LogDebug(fmt.Sprintf("%s %s -> %d (%s)",
			c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start).Round(time.Microsecond)))
	}
}

// Run serves on addr until ctx ends, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.LogInfo(fmt.Sprintf("HTTP API listening on %s", addr))

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	}
}
