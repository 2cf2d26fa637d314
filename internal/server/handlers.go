package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harrison/aegis/internal/agent"
	"github.com/harrison/aegis/internal/models"
)

type deployRequest struct {
	Type   string       `json:"type" binding:"required"`
	Config agent.Config `json:"config"`
}

func errorBody(err error) gin.H {
	body := gin.H{"error": err.Error()}
	if kind := models.KindOf(err); kind != models.KindHandlerError {
		body["kind"] = kind
	}
	return body
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"agents": len(s.orch.Agents()),
	})
}

// submitTask enqueues a task and answers before it executes
func (s *Server) submitTask(c *gin.Context) {
	var spec models.TaskSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.orch.SubmitSpec(spec)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"task_id": id})
	case errors.Is(err, models.ErrQueueFull), errors.Is(err, models.ErrQueueClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
}

func (s *Server) getTask(c *gin.Context) {
	task, err := s.orch.Task(c.Request.Context(), c.Param("id"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, task)
	case errors.Is(err, models.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// cancelTask requests cancellation; processing tasks finish asynchronously
func (s *Server) cancelTask(c *gin.Context) {
	id := c.Param("id")
	err := s.orch.CancelTask(id)
	switch {
	case err == nil:
		c.JSON(http.StatusAccepted, gin.H{"task_id": id})
	case errors.Is(err, models.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, models.ErrIllegalTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) deployAgent(c *gin.Context) {
	var req deployRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := s.orch.DeployAgent(c.Request.Context(), req.Type, req.Config)
	switch {
	case err == nil:
		s.logger.LogInfo("Deployed " + req.Type + " via API as " + id)
		c.JSON(http.StatusCreated, gin.H{"agent_id": id})
	case errors.Is(err, models.ErrUnknownAgentType):
		c.JSON(http.StatusBadRequest, errorBody(err))
	case errors.Is(err, models.ErrDuplicateAgentType):
		c.JSON(http.StatusConflict, errorBody(err))
	default:
		s.logger.LogWarn("deploy " + req.Type + ": " + err.Error())
		c.JSON(http.StatusInternalServerError, errorBody(err))
	}
}

func (s *Server) listAgents(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"agents": s.orch.Agents()})
}

func (s *Server) getAgent(c *gin.Context) {
	status, err := s.orch.AgentStatus(c.Param("id"))
	if err != nil {
		if errors.Is(err, models.ErrAgentNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}
